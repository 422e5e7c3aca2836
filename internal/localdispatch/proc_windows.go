//go:build windows

package localdispatch

import (
	"os/exec"

	"github.com/shirou/gopsutil/v4/process"
)

func shellCommand(line string) []string {
	return []string{"cmd", "/C", line}
}

func startInProcessGroup(*exec.Cmd) {}

// signalProcessGroup kills the child and all of its descendants. Windows has
// no graceful equivalent of SIGTERM for console processes, so force is
// ignored.
func signalProcessGroup(cmd *exec.Cmd, _ bool) error {
	if cmd.Process == nil {
		return nil
	}
	proc, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		return nil
	}
	killDescendants(proc)
	return cmd.Process.Kill()
}

func killDescendants(proc *process.Process) {
	children, err := proc.Children()
	if err != nil {
		return
	}
	for _, child := range children {
		killDescendants(child)
		_ = child.Kill()
	}
}
