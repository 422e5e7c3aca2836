package dispatch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/taskdispatch/internal/batch"
	"github.com/vk/taskdispatch/internal/ctxlog"
	"github.com/vk/taskdispatch/internal/node"
	"github.com/vk/taskdispatch/internal/taskctx"
	"github.com/zclconf/go-cty/cty"
)

// Backend executes a prepared batch graph.
type Backend interface {
	// Settings returns the backend's mutable settings.
	Settings() *Settings
	// DoDispatch executes the graph below root. The dispatch context is
	// available through TaskContext(ctx).
	DoDispatch(ctx context.Context, root *batch.TaskBatch) error
}

// Validator is implemented by backends that reject some node lists before
// a job directory is created or any hook runs.
type Validator interface {
	ValidateDispatch(nodes []node.TaskNode) error
}

type taskContextKey struct{}

// WithTaskContext returns a copy of ctx carrying the task context of a
// running dispatch.
func WithTaskContext(ctx context.Context, c taskctx.Context) context.Context {
	return context.WithValue(ctx, taskContextKey{}, c)
}

// TaskContext returns the task context of the dispatch ctx belongs to.
func TaskContext(ctx context.Context) (taskctx.Context, bool) {
	c, ok := ctx.Value(taskContextKey{}).(taskctx.Context)
	return c, ok
}

// Dispatcher pairs a Backend with lifecycle hooks.
type Dispatcher struct {
	name    string
	backend Backend
	hooks   *Hooks
}

// New returns a dispatcher for backend. hooks may be nil.
func New(name string, backend Backend, hooks *Hooks) *Dispatcher {
	return &Dispatcher{name: name, backend: backend, hooks: hooks}
}

// Name returns the name the backend was created under.
func (d *Dispatcher) Name() string { return d.name }

// Backend returns the wrapped backend.
func (d *Dispatcher) Backend() Backend { return d.backend }

// Settings is shorthand for d.Backend().Settings().
func (d *Dispatcher) Settings() *Settings { return d.backend.Settings() }

// Dispatch executes nodes and everything upstream of them. Validation
// problems are reported before anything runs. Dispatching from inside a
// running task reuses the outer job directory and emits no hooks.
func (d *Dispatcher) Dispatch(ctx context.Context, nodes []node.TaskNode) error {
	if len(nodes) == 0 {
		return ErrNoNodes
	}
	for i, n := range nodes {
		if n == nil {
			return fmt.Errorf("%w: position %d", ErrNilNode, i)
		}
	}
	graph := nodes[0].Graph()
	for _, n := range nodes {
		if n.Graph() != graph {
			return ErrMixedGraphs
		}
	}
	if v, ok := d.backend.(Validator); ok {
		if err := v.ValidateDispatch(nodes); err != nil {
			return err
		}
	}

	logger := ctxlog.FromContext(ctx).With("dispatcher", d.name)
	ctx = ctxlog.WithLogger(ctx, logger)
	settings := d.backend.Settings()
	base := graph.Context()

	parent, nested := TaskContext(ctx)
	if nested {
		_, nested = parent.Get(JobDirectoryKey)
	}

	if !nested {
		d.hooks.emitPre(ctx, d, nodes)
	}

	success := false
	if !nested {
		defer func() { d.hooks.emitPost(ctx, d, nodes, success) }()
	}

	var jobDir, scriptFile string
	if nested {
		jobDir = parent.String(JobDirectoryKey, "")
		scriptFile = parent.String(ScriptFileNameKey, "")
	} else {
		var err error
		jobDir, err = createJobDirectory(filepath.Join(settings.jobsDirectory(), settings.jobName(base)))
		if err != nil {
			return err
		}
		scriptFile = scriptFileName(jobDir, graph.FileName())
	}
	base = base.
		With(JobDirectoryKey, cty.StringVal(jobDir)).
		With(ScriptFileNameKey, cty.StringVal(scriptFile))
	ctx = WithTaskContext(ctx, base)
	logger.Debug("Job directory prepared.", "dir", jobDir, "nested", nested)

	if !nested {
		d.hooks.emitDispatch(ctx, d, nodes)
	}

	fs, err := settings.Frames(base)
	if err != nil {
		return fmt.Errorf("failed to resolve frames: %w", err)
	}

	builder := batch.NewBuilder()
	for _, n := range nodes {
		if err := builder.Add(n, base, fs); err != nil {
			return fmt.Errorf("failed to build batch graph: %w", err)
		}
	}
	root := builder.Root()
	logger.Debug("Batch graph built.", "batches", builder.Len(), "frames", len(fs))

	if err := batch.ExecuteImmediate(ctx, root); err != nil {
		return fmt.Errorf("immediate execution failed: %w", err)
	}

	if src := graph.Source(); src != nil {
		if err := saveScript(scriptFile, src); err != nil {
			return err
		}
	}

	if len(root.PreTasks()) > 0 {
		if err := d.backend.DoDispatch(ctx, root); err != nil {
			return err
		}
	} else {
		logger.Debug("Nothing left to dispatch after immediate execution.")
	}

	success = true
	return nil
}
