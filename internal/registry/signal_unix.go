//go:build unix

package registry

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// SysProcAttr places a worker in its own process group so signals reach
// any children it spawns (npm -> node, for example).
func SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminate(proc *os.Process) error {
	return signalGroup(proc, unix.SIGTERM)
}

func kill(proc *os.Process) error {
	return signalGroup(proc, unix.SIGKILL)
}

// signalGroup signals the process group led by proc, falling back to the
// process itself if the group is already gone.
func signalGroup(proc *os.Process, sig unix.Signal) error {
	err := unix.Kill(-proc.Pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ESRCH) {
		if perr := proc.Signal(sig); perr != nil && !errors.Is(perr, os.ErrProcessDone) {
			return perr
		}
		return nil
	}
	return err
}

// Alive reports whether a process with pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// GroupAlive reports whether a process group led by pid exists.
func GroupAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(-pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// KillOrphan ends an untracked process group left behind by an earlier
// supervisor run. Workers lead their own group, so only the group is
// signalled; a pid that no longer leads a group is left alone.
func KillOrphan(pid int, graceful bool) error {
	if pid <= 0 {
		return nil
	}
	sig := unix.SIGKILL
	if graceful {
		sig = unix.SIGTERM
	}
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// KillGroup sends SIGKILL to the process group led by proc.
func KillGroup(proc *os.Process) error {
	return kill(proc)
}

// ExitCode returns the process exit status, or 128 plus the signal number
// when the process was killed by a signal.
func ExitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
