package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zulandar/hangar/internal/deploy"
	"github.com/zulandar/hangar/internal/logbuf"
	"github.com/zulandar/hangar/internal/registry"
	"github.com/zulandar/hangar/internal/status"
)

// outputWaitDelay bounds how long Wait keeps copying output after the
// process exits, in case a detached grandchild still holds the pipes.
const outputWaitDelay = 2 * time.Second

// launchStep is the pipeline's last step. The process is not tied to ctx:
// it outlives the request that started it.
func (s *Supervisor) launchStep(_ context.Context, t *deploy.Target) error {
	id := t.Worker.ID
	argv := t.Argv()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = t.Dir
	cmd.Env = t.Environ()
	cmd.SysProcAttr = registry.SysProcAttr()
	cmd.WaitDelay = outputWaitDelay

	// Stdin is a plain *os.File pipe so Execute can put a deadline on
	// writes to a worker that never reads.
	stdinR, stdin, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", deploy.ErrLaunchFailed, err)
	}
	cmd.Stdin = stdinR
	stdout := s.logs.NewWriter(id, logbuf.StreamStdout)
	stderr := s.logs.NewWriter(id, logbuf.StreamStderr)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if s.closing.Load() {
		stdinR.Close()
		stdin.Close()
		return ErrShuttingDown
	}
	err = cmd.Start()
	stdinR.Close()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("%w: %s: %v", deploy.ErrLaunchFailed, argv[0], err)
	}

	h := registry.NewHandle(id, cmd.Process, stdin, s.now())
	if err := s.registry.Register(h); err != nil {
		// Unreachable while the terminate step runs under the worker lock.
		h.Kill()
		cmd.Wait()
		return fmt.Errorf("%w: %v", deploy.ErrLaunchFailed, err)
	}
	s.logs.Append(id, logbuf.StreamSystem, fmt.Sprintf("launched pid %d: %s", h.PID, strings.Join(argv, " ")))

	go s.watch(h, cmd, stdout, stderr)
	return nil
}

// watch observes the exit of h. Output is drained before the exit line is
// appended so the exit line is always last. An exit nobody asked for is
// recorded as stopped, but only while the registry still holds this very
// handle.
func (s *Supervisor) watch(h *registry.Handle, cmd *exec.Cmd, stdout, stderr *logbuf.Writer) {
	cmd.Wait()
	stdout.Close()
	stderr.Close()

	code := registry.ExitCode(cmd.ProcessState)
	msg := fmt.Sprintf("process exited with code %d", code)
	s.logs.Append(h.WorkerID, logbuf.StreamSystem, msg)
	h.CloseInput()
	h.MarkExited(code)

	if h.Stopping() {
		return
	}

	unlock := s.locks.lock(h.WorkerID)
	defer unlock()
	if !s.registry.Remove(h) {
		return
	}
	s.logger.Warn("worker exited",
		slog.String("worker", h.WorkerID),
		slog.Int("pid", h.PID),
		slog.Int("code", code))
	now := s.now()
	s.transition(context.Background(), status.Update{
		WorkerID:  h.WorkerID,
		Status:    status.Stopped,
		StoppedAt: &now,
		ExitCode:  &code,
		Message:   msg,
	})
}
