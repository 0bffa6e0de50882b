package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ErrStdinClosed is returned when writing to a process whose input has
// been closed.
var ErrStdinClosed = errors.New("process stdin closed")

// ErrInputTimeout is returned when the process did not take a line before
// the write deadline.
var ErrInputTimeout = errors.New("process input full")

// deadliner is implemented by *os.File pipes.
type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Handle is a running worker process. It exists from a successful launch
// until its exit has been observed.
type Handle struct {
	WorkerID  string
	PID       int
	StartedAt time.Time

	proc  *os.Process
	stdin io.WriteCloser
	done  chan struct{}

	inMu      sync.Mutex // serializes stdin writes
	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	exitCode int
	exited   bool
	stopping bool
}

// NewHandle wraps a started process.
func NewHandle(workerID string, proc *os.Process, stdin io.WriteCloser, startedAt time.Time) *Handle {
	return &Handle{
		WorkerID:  workerID,
		PID:       proc.Pid,
		StartedAt: startedAt,
		proc:      proc,
		stdin:     stdin,
		done:      make(chan struct{}),
		exitCode:  -1,
	}
}

// Done is closed once the process exit has been observed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// MarkExited records the exit code and closes Done. Only the first call
// has any effect.
func (h *Handle) MarkExited(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return
	}
	h.exited = true
	h.exitCode = code
	close(h.done)
}

// ExitCode returns the exit code and whether the process has exited.
func (h *Handle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.exited
}

// Exited reports whether the process exit has been observed.
func (h *Handle) Exited() bool {
	_, ok := h.ExitCode()
	return ok
}

// SetStopping marks that the supervisor asked this process to stop.
func (h *Handle) SetStopping() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopping = true
}

// Stopping reports whether SetStopping was called.
func (h *Handle) Stopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}

// WriteLine writes text followed by a newline to the process input. When
// the input supports deadlines and timeout is positive, a process that
// stops reading makes the write fail with ErrInputTimeout instead of
// blocking. A line cut short by the deadline is not retried.
func (h *Handle) WriteLine(text string, timeout time.Duration) error {
	if h.stdin == nil {
		return ErrStdinClosed
	}
	h.inMu.Lock()
	defer h.inMu.Unlock()
	if d, ok := h.stdin.(deadliner); ok {
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := d.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("registry: write stdin of %s: %w", h.WorkerID, err)
		}
	}
	if _, err := io.WriteString(h.stdin, text+"\n"); err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return fmt.Errorf("registry: write stdin of %s: %w", h.WorkerID, ErrInputTimeout)
		case errors.Is(err, os.ErrClosed):
			return fmt.Errorf("registry: write stdin of %s: %w", h.WorkerID, ErrStdinClosed)
		}
		return fmt.Errorf("registry: write stdin of %s: %w", h.WorkerID, err)
	}
	return nil
}

// CloseInput closes the process input. It does not wait for a pending
// WriteLine; closing the pipe makes that write fail.
func (h *Handle) CloseInput() error {
	if h.stdin == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.closeErr = h.stdin.Close()
	})
	return h.closeErr
}

// Terminate asks the process group to exit.
func (h *Handle) Terminate() error {
	return terminate(h.proc)
}

// Kill forcefully ends the process group.
func (h *Handle) Kill() error {
	return kill(h.proc)
}
