package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/taskdispatch/internal/ctxlog"
	"github.com/vk/taskdispatch/internal/dispatch"
	"github.com/vk/taskdispatch/internal/jobpool"
	"github.com/vk/taskdispatch/internal/localdispatch"
	"github.com/vk/taskdispatch/internal/node"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	registry   *dispatch.Registry
	pool       *jobpool.Pool
	hooks      *dispatch.Hooks
	ctx        context.Context
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own logger, backed by the process-wide
// dispatcher registry and job pool. Extra modules are registered into that
// registry.
func NewApp(outW io.Writer, cfg *Config, modules ...dispatch.Module) *App {
	return newApp(outW, cfg, dispatch.DefaultRegistry(), jobpool.Default(), modules...)
}

// newApp builds an App around an explicit registry and pool.
func newApp(outW io.Writer, cfg *Config, reg *dispatch.Registry, pool *jobpool.Pool, modules ...dispatch.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	for _, mod := range modules {
		mod.Register(reg)
	}
	if reg.Default() == "" {
		reg.SetDefault(localdispatch.Name)
	}
	logger.Debug("Dispatcher modules registered.", "count", len(modules), "names", reg.Names())

	a := &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: reg,
		pool:     pool,
		hooks:    &dispatch.Hooks{},
		ctx:      ctxlog.WithLogger(context.Background(), logger),
	}
	a.hooks.OnPreDispatch(func(ctx context.Context, d *dispatch.Dispatcher, nodes []node.TaskNode) {
		ctxlog.FromContext(ctx).Info("Dispatching nodes.", "nodes", nodeNames(nodes))
	})
	a.hooks.OnDispatch(func(ctx context.Context, d *dispatch.Dispatcher, _ []node.TaskNode) {
		if c, ok := dispatch.TaskContext(ctx); ok {
			ctxlog.FromContext(ctx).Info("Job directory created.", "dir", c.String(dispatch.JobDirectoryKey, ""))
		}
	})
	a.hooks.OnPostDispatch(func(ctx context.Context, d *dispatch.Dispatcher, nodes []node.TaskNode, success bool) {
		ctxlog.FromContext(ctx).Info("Dispatch finished.", "nodes", nodeNames(nodes), "success", success)
	})
	return a
}

// configureBackend applies the run options that belong to a specific
// backend.
func (a *App) configureBackend(backend dispatch.Backend) {
	local, ok := backend.(*localdispatch.Dispatcher)
	if !ok {
		return
	}
	local.Options = localdispatch.Options{
		ExecuteInBackground:    a.config.Background,
		IgnoreScriptLoadErrors: a.config.IgnoreScriptLoadErrors,
		EnvironmentCommand:     a.config.EnvCommand,
		Executable:             a.config.Executable,
	}
	if local.Pool() != a.pool {
		a.logger.Warn("Local dispatcher records jobs in a different pool; they will not be awaited.")
	}
}

// Registry returns the application's dispatcher registry.
func (a *App) Registry() *dispatch.Registry {
	return a.registry
}

// Pool returns the pool dispatched jobs are recorded in.
func (a *App) Pool() *jobpool.Pool {
	return a.pool
}

// Hooks returns the lifecycle hooks passed to every dispatcher.
func (a *App) Hooks() *dispatch.Hooks {
	return a.hooks
}

func nodeNames(nodes []node.TaskNode) []string {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name())
	}
	return names
}
