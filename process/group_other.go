//go:build !linux

package process

import (
	"os/exec"
	"syscall"
)

// processGroupAttr puts the child in its own process group; Pdeathsig
// has no equivalent outside Linux.
func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	return syscall.Kill(-cmd.Process.Pid, sig)
}
