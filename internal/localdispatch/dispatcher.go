package localdispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/taskdispatch/internal/batch"
	"github.com/vk/taskdispatch/internal/dispatch"
	"github.com/vk/taskdispatch/internal/jobpool"
	"github.com/vk/taskdispatch/internal/node"
)

// Name is the registry name of the local backend.
const Name = "Local"

// Options are the local backend's own settings.
type Options struct {
	// ExecuteInBackground runs jobs on a worker goroutine, one subprocess
	// per batch, instead of in-process on the caller's goroutine. The
	// subprocesses reload the saved script, so the graph must have a source.
	ExecuteInBackground bool
	// IgnoreScriptLoadErrors is forwarded to background subprocesses.
	IgnoreScriptLoadErrors bool
	// EnvironmentCommand prefixes every subprocess invocation. It is run
	// through the platform shell.
	EnvironmentCommand string
	// Executable is the program launched for background batches. Empty
	// means the running executable.
	Executable string
}

// ErrNoScriptSource is returned when a graph without script source is
// dispatched in the background.
var ErrNoScriptSource = errors.New("background dispatch requires a graph loaded from a script")

// Dispatcher is the local dispatch.Backend.
type Dispatcher struct {
	Options
	settings dispatch.Settings
	pool     *jobpool.Pool
}

// New returns a local dispatcher that records jobs in pool, or in the
// process-wide pool when pool is nil.
func New(pool *jobpool.Pool) *Dispatcher {
	if pool == nil {
		pool = jobpool.Default()
	}
	return &Dispatcher{pool: pool}
}

// Settings implements dispatch.Backend.
func (d *Dispatcher) Settings() *dispatch.Settings { return &d.settings }

// Pool returns the pool jobs are added to.
func (d *Dispatcher) Pool() *jobpool.Pool { return d.pool }

// ValidateDispatch implements dispatch.Validator.
func (d *Dispatcher) ValidateDispatch(nodes []node.TaskNode) error {
	if !d.ExecuteInBackground {
		return nil
	}
	if g := nodes[0].Graph(); len(g.Source()) == 0 {
		return fmt.Errorf("%w: graph %q has no source", ErrNoScriptSource, g.FileName())
	}
	return nil
}

// DoDispatch implements dispatch.Backend. In the foreground it returns the
// walk's error. In the background it returns once the worker has started.
func (d *Dispatcher) DoDispatch(ctx context.Context, root *batch.TaskBatch) error {
	job, err := newJob(ctx, d, root)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	d.pool.Add(job)
	return job.execute(ctx)
}

func init() {
	r := dispatch.DefaultRegistry()
	Module{}.Register(r)
	if r.Default() == "" {
		r.SetDefault(Name)
	}
}

// Module registers the local backend with a dispatch.Registry. A nil Pool
// means jobpool.Default().
type Module struct {
	Pool    *jobpool.Pool
	Options Options
}

// Register implements dispatch.Module.
func (m Module) Register(r *dispatch.Registry) {
	r.Register(Name, func() (dispatch.Backend, error) {
		d := New(m.Pool)
		d.Options = m.Options
		return d, nil
	})
}
