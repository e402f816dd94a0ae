//go:build !windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// detach puts the service in its own process group so terminal signals
// aimed at the caller do not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree kills the service's process group, which also takes down
// interpreters started by runners such as uv.
func killTree(p *os.Process) error {
	if pgid, err := syscall.Getpgid(p.Pid); err == nil && pgid == p.Pid {
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err == nil {
			return nil
		}
	}
	return p.Kill()
}
