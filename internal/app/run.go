package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vk/taskdispatch/internal/ctxlog"
	"github.com/vk/taskdispatch/internal/jobfeed"
	"github.com/vk/taskdispatch/internal/jobpool"
	"github.com/vk/taskdispatch/internal/script"
)

const (
	// pollInterval is how often background jobs are checked for completion.
	pollInterval = 100 * time.Millisecond
	// killWait bounds the wait for killed jobs to settle.
	killWait = 10 * time.Second
)

// ErrJobsFailed is returned by Run when a background job did not complete.
var ErrJobsFailed = errors.New("jobs did not complete")

// Run executes the main application logic based on the app's configuration:
// it loads the script, dispatches the requested nodes and waits for every
// background job. An interrupt or SIGTERM kills the outstanding jobs.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.ctx = ctx
	a.logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		a.healthCheckServer()
		defer a.closeHealthCheckServer()
	}

	if a.config.MonitorURL != "" {
		pub, err := jobfeed.Connect(ctx, a.config.MonitorURL, jobfeed.Options{})
		if err != nil {
			a.logger.Warn("Job monitor unavailable, continuing without it.", "url", a.config.MonitorURL, "error", err)
		} else {
			pub.Attach(a.pool)
			defer pub.Close()
		}
	}

	graph, err := script.Load(ctx, a.config.ScriptPath, script.Options{IgnoreErrors: a.config.IgnoreScriptLoadErrors})
	if err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}
	if a.config.Frame != nil {
		graph.SetContext(graph.Context().WithFrame(*a.config.Frame))
	}
	a.logger.Debug("Script loaded.", "path", a.config.ScriptPath, "node_count", len(graph.Nodes()))

	nodes, err := graph.Lookup(a.config.Nodes...)
	if err != nil {
		return err
	}

	d, err := a.registry.NewDispatcher(a.config.Dispatcher, a.hooks)
	if err != nil {
		return err
	}
	a.configureBackend(d.Backend())
	settings := d.Settings()
	settings.JobName = a.config.JobName
	settings.JobsDirectory = a.config.JobsDir
	settings.FramesMode = a.config.FramesMode
	settings.FrameRange = a.config.FrameRange

	a.logger.Info("🚀 Starting dispatch...", "dispatcher", d.Name(), "frames_mode", settings.FramesMode.String())
	dispatchErr := d.Dispatch(ctx, nodes)
	waitErr := a.waitForJobs(ctx)

	if a.config.ReportPath != "" {
		if err := a.writeReport(a.config.ReportPath); err != nil {
			a.logger.Error("Failed to write job report.", "path", a.config.ReportPath, "error", err)
		}
	}

	if dispatchErr != nil {
		return fmt.Errorf("dispatch failed: %w", dispatchErr)
	}
	if waitErr != nil {
		return waitErr
	}
	if err := a.checkJobs(); err != nil {
		return err
	}
	a.logger.Info("🏁 Dispatch finished.", "jobs", len(a.pool.Jobs()))
	a.logger.Debug("App.Run method finished.")
	return nil
}

// waitForJobs blocks until every job is terminal. When ctx ends first the
// remaining jobs are killed.
func (a *App) waitForJobs(ctx context.Context) error {
	err := a.pool.WaitForAll(ctx, pollInterval)
	if err == nil {
		return nil
	}
	a.logger.Warn("Interrupted, killing running jobs.")
	a.pool.KillAll()

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), killWait)
	defer cancel()
	if err := a.pool.WaitForAll(waitCtx, pollInterval); err != nil {
		a.logger.Error("Jobs did not stop after being killed.", "error", err)
	}
	return fmt.Errorf("interrupted while waiting for jobs: %w", err)
}

func (a *App) checkJobs() error {
	var failed, killed int
	for _, job := range a.pool.Jobs() {
		switch job.Status() {
		case jobpool.Failed:
			failed++
		case jobpool.Killed:
			killed++
		}
	}
	if failed+killed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d failed, %d killed", ErrJobsFailed, failed, killed)
}

func (a *App) writeReport(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := jobpool.WriteReport(f, a.pool.Jobs()); err != nil {
		f.Close()
		return err
	}
	a.logger.Info("Job report written.", "path", path)
	return f.Close()
}
