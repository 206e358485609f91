//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// processGroupAttr puts the child in its own process group and asks the
// kernel to send it SIGHUP if this process dies first, so a crashed
// build engine never leaves orphaned subprocesses behind.
func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGHUP, Setpgid: true}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	return syscall.Kill(-cmd.Process.Pid, sig)
}
