//go:build unix

package queue

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts the shell in its own process group and makes
// cancellation kill the whole group, so `sh -c "sleep 100"` does not leave
// the sleep running.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
