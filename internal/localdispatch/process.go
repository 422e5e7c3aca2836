package localdispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/vk/taskdispatch/internal/batch"
	"github.com/vk/taskdispatch/internal/frames"
	"github.com/vk/taskdispatch/internal/taskctx"
)

// LogLevelEnv is set to "debug" in every subprocess so all of its output
// can be captured.
const LogLevelEnv = "TASKDISPATCH_LOG_LEVEL"

// killGrace is how long a terminated process group may take to exit before
// it is killed outright.
const killGrace = 5 * time.Second

// outputGrace is how long output is still read after the process exits,
// for descendants that inherited its stdout.
const outputGrace = 2 * time.Second

// ExecError reports a subprocess that exited with a non-zero code.
type ExecError struct {
	ExitCode int
	Command  string
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("command exited with code %d: %s", e.ExitCode, e.Command)
}

// commandArgs returns the `execute` invocation for b, without the
// environment command.
func (j *Job) commandArgs(b *batch.TaskBatch, nodeName string) []string {
	args := []string{
		j.executable,
		"execute",
		"-script", j.scriptFile,
		"-nodes", nodeName,
		"-frames", frames.Format(b.Frames()),
	}
	if j.ignoreScriptLoadErrors {
		args = append(args, "-ignoreScriptLoadErrors")
	}

	c := b.Context()
	if diff := c.Diff(j.base); len(diff) > 0 {
		args = append(args, "-context")
		for _, name := range diff {
			v, _ := c.Get(name)
			args = append(args, name, taskctx.FormatValue(v))
		}
	}
	return args
}

// argv returns the full argument vector to launch, applying the environment
// command through the platform shell when one is configured.
func (j *Job) argv(b *batch.TaskBatch, nodeName string) []string {
	args := j.commandArgs(b, nodeName)
	if strings.TrimSpace(j.environmentCommand) == "" {
		return args
	}
	return shellCommand(j.environmentCommand + " " + shellquote.Join(args...))
}

// executeProcess runs b as a subprocess and waits for it to exit or for the
// job to be killed.
func (j *Job) executeProcess(ctx context.Context, b *batch.TaskBatch, st *batchState) error {
	argv := j.argv(b, st.nodeName)
	command := strings.Join(argv, " ")
	logger := j.logger.With("node", st.nodeName)
	logger.Debug("Executing `" + command + "`.")

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), LogLevelEnv+"=debug")
	startInProcessGroup(cmd)

	// Output goes through an io.Pipe so that Wait, bounded by WaitDelay,
	// does not depend on descendants closing their copy of stdout.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.WaitDelay = outputGrace

	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("failed to start %s: %w", command, err)
	}
	j.trackProcess(cmd.Process.Pid)
	defer j.trackProcess(0)

	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		j.captureOutput(ctx, st.nodeName, pr)
	}()

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		<-outputDone
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-j.ctx.Done():
		logger.Info("Terminating process group.", "pid", cmd.Process.Pid)
		if err := signalProcessGroup(cmd, false); err != nil {
			logger.Warn("Failed to terminate process group.", "error", err)
		}
		select {
		case <-done:
		case <-time.After(killGrace):
			_ = signalProcessGroup(cmd, true)
			select {
			case <-done:
			case <-time.After(killGrace):
				logger.Warn("Process did not exit after being killed.", "pid", cmd.Process.Pid)
			}
		}
		return errKilled
	}

	if errors.Is(err, exec.ErrWaitDelay) {
		logger.Warn("Process exited but its output was still open; output left unread.")
		err = nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExecError{ExitCode: exitErr.ExitCode(), Command: command}
		}
		return fmt.Errorf("failed to run %s: %w", command, err)
	}
	return nil
}

// captureOutput forwards every line of r into the job log.
func (j *Job) captureOutput(ctx context.Context, nodeName string, r io.Reader) {
	logger := j.logger.With("node", nodeName)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line, level := messageLevel(scanner.Text())
		logger.Log(ctx, level, line)
	}
	// Keep draining so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

func (j *Job) trackProcess(pid int) {
	var proc *process.Process
	if pid != 0 {
		// Sampling is best effort, a missing handle only disables Usage.
		proc, _ = process.NewProcess(int32(pid))
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pid = pid
	j.proc = proc
}
