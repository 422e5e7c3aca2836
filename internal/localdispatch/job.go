package localdispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/vk/taskdispatch/internal/batch"
	"github.com/vk/taskdispatch/internal/ctxlog"
	"github.com/vk/taskdispatch/internal/dispatch"
	"github.com/vk/taskdispatch/internal/frames"
	"github.com/vk/taskdispatch/internal/jobpool"
	"github.com/vk/taskdispatch/internal/taskctx"
)

// errKilled unwinds the walk after a kill request. It never leaves the job.
var errKilled = errors.New("job killed")

// batchState is the job's execution record for one batch.
type batchState struct {
	executed bool
	nodeName string
}

// Job is one dispatch executed by the local backend.
type Job struct {
	// Settings captured at dispatch time.
	name                   string
	id                     string
	directory              string
	scriptFile             string
	frameRange             string
	background             bool
	ignoreScriptLoadErrors bool
	environmentCommand     string
	executable             string

	root   *batch.TaskBatch
	base   taskctx.Context
	states map[*batch.TaskBatch]*batchState

	messages *messageLog
	logger   *slog.Logger

	// ctx is cancelled by Kill.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    jobpool.Status
	startTime time.Time
	endTime   time.Time
	current   *batch.TaskBatch
	pid       int
	proc      *process.Process
	observers map[int]func(jobpool.Job, jobpool.Status)
	nextObs   int
}

var _ jobpool.Job = (*Job)(nil)

func newJob(ctx context.Context, d *Dispatcher, root *batch.TaskBatch) (*Job, error) {
	c, ok := dispatch.TaskContext(ctx)
	if !ok {
		return nil, errors.New("no dispatch context")
	}
	dir := c.String(dispatch.JobDirectoryKey, "")
	if dir == "" {
		return nil, errors.New("dispatch context has no job directory")
	}

	base := c
	if pre := root.PreTasks(); len(pre) > 0 && pre[0].Node() != nil {
		base = pre[0].Node().Graph().Context()
	}

	executable := d.Executable
	if executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		executable = exe
	}

	settings := d.Settings()
	frameRange := settings.FramesMode.String()
	if fs, err := settings.Frames(c); err == nil {
		frameRange = frames.Format(fs)
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &Job{
		name:                   filepath.Base(filepath.Dir(dir)),
		id:                     filepath.Base(dir),
		directory:              dir,
		scriptFile:             c.String(dispatch.ScriptFileNameKey, ""),
		frameRange:             frameRange,
		background:             d.ExecuteInBackground,
		ignoreScriptLoadErrors: d.IgnoreScriptLoadErrors,
		environmentCommand:     d.EnvironmentCommand,
		executable:             executable,
		root:                   root,
		base:                   base,
		states:                 make(map[*batch.TaskBatch]*batchState),
		messages:               &messageLog{},
		ctx:                    jobCtx,
		cancel:                 cancel,
		status:                 jobpool.Waiting,
		startTime:              time.Now(),
		observers:              make(map[int]func(jobpool.Job, jobpool.Status)),
	}
	source := j.name + " " + j.id
	j.logger = slog.New(newCaptureHandler(j.messages, ctxlog.FromContext(ctx).Handler(), source)).
		With("job", source)
	j.initStates(root)
	return j, nil
}

// initStates creates the state record of every batch in the graph.
func (j *Job) initStates(b *batch.TaskBatch) {
	if _, ok := j.states[b]; ok {
		return
	}
	st := &batchState{}
	if n := b.Node(); n != nil {
		st.nodeName = n.Name()
	}
	j.states[b] = st
	for _, up := range b.PreTasks() {
		j.initStates(up)
	}
}

// ID returns the job directory's number.
func (j *Job) ID() string { return j.id }

// Name returns the job name.
func (j *Job) Name() string { return j.name }

// Directory returns the job directory.
func (j *Job) Directory() string { return j.directory }

// ScriptFile returns the saved script passed to background processes.
func (j *Job) ScriptFile() string { return j.scriptFile }

// FrameRange returns the dispatched frames as a frame-list string.
func (j *Job) FrameRange() string { return j.frameRange }

// EnvironmentCommand returns the subprocess wrapper command.
func (j *Job) EnvironmentCommand() string { return j.environmentCommand }

// Background reports whether the job runs on a worker goroutine.
func (j *Job) Background() bool { return j.background }

// Status returns the current status.
func (j *Job) Status() jobpool.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// StartTime returns when the job was created.
func (j *Job) StartTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startTime
}

// RunningTime returns how long the job ran, or has been running so far.
func (j *Job) RunningTime() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.endTime.IsZero() {
		return j.endTime.Sub(j.startTime)
	}
	return time.Since(j.startTime)
}

// ProcessID returns the pid of the running background process.
func (j *Job) ProcessID() (int, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pid, j.pid != 0
}

// Usage samples the running background process. It returns a zero Usage
// when no process is running or sampling fails.
func (j *Job) Usage() Usage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return sampleUsage(j.proc)
}

// Description names the batch currently executing, such as
// "render frames 1-10". It is empty while no batch runs.
func (j *Job) Description() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current == nil {
		return ""
	}
	return describe(j.current)
}

// Messages returns a copy of the captured log.
func (j *Job) Messages() []Message {
	return j.messages.all()
}

// Kill requests the job to stop. Unvisited batches are skipped and a running
// subprocess is terminated. In-process work already running completes.
func (j *Job) Kill() {
	j.logger.Debug("Kill requested.")
	j.cancel()
}

// OnStatusChanged implements jobpool.Job.
func (j *Job) OnStatusChanged(fn func(jobpool.Job, jobpool.Status)) func() {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := j.nextObs
	j.nextObs++
	j.observers[id] = fn
	return func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		delete(j.observers, id)
	}
}

// setStatus applies a transition and notifies observers. Transitions that
// would move backwards are ignored.
func (j *Job) setStatus(s jobpool.Status) {
	j.mu.Lock()
	if !j.status.CanTransition(s) {
		j.mu.Unlock()
		return
	}
	j.status = s
	if s.Terminal() {
		j.endTime = time.Now()
	}
	observers := make([]func(jobpool.Job, jobpool.Status), 0, len(j.observers))
	for i := 0; i < j.nextObs; i++ {
		if fn, ok := j.observers[i]; ok {
			observers = append(observers, fn)
		}
	}
	j.mu.Unlock()

	j.logger.Info("Job status changed.", "status", s.String())
	for _, fn := range observers {
		fn(j, s)
	}
}

func (j *Job) setCurrent(b *batch.TaskBatch) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.current = b
}

func describe(b *batch.TaskBatch) string {
	name := "root"
	if n := b.Node(); n != nil {
		name = n.Name()
	}
	return name + " " + framesLabel(b.Frames())
}

// framesLabel renders "frame 5" or "frames 1-10".
func framesLabel(fs []int) string {
	if len(fs) == 1 {
		return "frame " + frames.Format(fs)
	}
	return "frames " + frames.Format(fs)
}

// execute runs the job. In the background it starts the worker and returns;
// status updates then travel from the worker to the job over a channel.
func (j *Job) execute(ctx context.Context) error {
	if !j.background {
		return j.run(ctx, j.setStatus)
	}

	updates := make(chan jobpool.Status)
	go func() {
		defer close(updates)
		// Background failures are reported through status and messages.
		_ = j.run(context.WithoutCancel(ctx), func(s jobpool.Status) { updates <- s })
	}()
	go func() {
		for s := range updates {
			j.setStatus(s)
		}
	}()
	return nil
}

// run performs the walk, reporting status through update. Kill is never an
// error.
func (j *Job) run(ctx context.Context, update func(jobpool.Status)) error {
	ctx = ctxlog.WithLogger(ctx, j.logger)

	if j.ctx.Err() != nil {
		update(jobpool.Killed)
		return nil
	}
	update(jobpool.Running)

	err := j.walk(ctx, j.root)
	j.setCurrent(nil)
	switch {
	case errors.Is(err, errKilled):
		update(jobpool.Killed)
		return nil
	case err != nil:
		j.logger.Error("Job failed.", "error", err)
		update(jobpool.Failed)
		return err
	default:
		update(jobpool.Complete)
		return nil
	}
}

// walk executes b after everything upstream of it, at most once per job.
func (j *Job) walk(ctx context.Context, b *batch.TaskBatch) error {
	st := j.states[b]
	if st.executed {
		return nil
	}

	for _, up := range b.PreTasks() {
		if err := j.walk(ctx, up); err != nil {
			return err
		}
	}

	if b.NoOp() {
		st.executed = true
		return nil
	}

	if j.ctx.Err() != nil {
		return errKilled
	}

	j.setCurrent(b)
	label := framesLabel(b.Frames())
	logger := j.logger.With("node", st.nodeName)
	logger.Info("Executing " + label + ".")

	start := time.Now()
	if err := j.executeBatch(ctx, b, st); err != nil {
		if errors.Is(err, errKilled) {
			return err
		}
		logger.Error("Execution failed for "+label+".", "error", err)
		return err
	}

	st.executed = true
	logger.Info("Completed "+label+".", "duration", time.Since(start).Round(time.Second).String())
	return nil
}

// executeBatch runs b in-process or in a subprocess.
func (j *Job) executeBatch(ctx context.Context, b *batch.TaskBatch, st *batchState) error {
	if !j.background {
		// In-process work cannot be interrupted once started.
		return b.Execute(context.WithoutCancel(ctx))
	}
	return j.executeProcess(ctx, b, st)
}
