//go:build !unix

package registry

import (
	"os"
	"syscall"
)

// SysProcAttr returns the default attributes; process groups are a POSIX
// concept.
func SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

func terminate(proc *os.Process) error {
	return proc.Kill()
}

func kill(proc *os.Process) error {
	return proc.Kill()
}

// Alive reports whether a process with pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}

// GroupAlive is Alive on systems without process groups.
func GroupAlive(pid int) bool {
	return Alive(pid)
}

// KillOrphan ends an untracked process left behind by an earlier run.
func KillOrphan(pid int, _ bool) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}

// KillGroup ends proc.
func KillGroup(proc *os.Process) error {
	return kill(proc)
}

// ExitCode returns the process exit status.
func ExitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
