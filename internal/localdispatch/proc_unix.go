//go:build !windows

package localdispatch

import (
	"errors"
	"os/exec"
	"syscall"
)

// shellCommand wraps a command line for the platform shell.
func shellCommand(line string) []string {
	return []string{"sh", "-c", line}
}

// startInProcessGroup makes the child the leader of a new process group so
// signals reach everything it spawns.
func startInProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcessGroup sends SIGTERM, or SIGKILL when force is set, to the
// child's process group.
func signalProcessGroup(cmd *exec.Cmd, force bool) error {
	if cmd.Process == nil {
		return nil
	}
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
