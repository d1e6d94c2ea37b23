//go:build !windows

package proc

import "syscall"

func sysProcAttr() *syscall.SysProcAttr {
	// Own process group so stop/kill reaches llama-server and any children.
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
}

func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
