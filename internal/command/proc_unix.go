//go:build unix

package command

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the command in its own group so cancellation kills
// the children it spawned (npx, gradle daemons) along with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
