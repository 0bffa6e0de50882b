package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zulandar/hangar/internal/deploy"
	"github.com/zulandar/hangar/internal/logbuf"
	"github.com/zulandar/hangar/internal/registry"
	"github.com/zulandar/hangar/internal/status"
	"github.com/zulandar/hangar/internal/workspace"
)

// Deploy runs the full pipeline for w: any live process is stopped, the
// workspace is rebuilt from scratch and a new process is launched.
func (s *Supervisor) Deploy(ctx context.Context, w deploy.Worker) Result {
	unlock := s.locks.lock(w.ID)
	defer unlock()
	return s.deployLocked(ctx, w, "deployed")
}

// Start has the same contract as Deploy: afterwards exactly one process
// built from w is running, or the worker is in error.
func (s *Supervisor) Start(ctx context.Context, w deploy.Worker) Result {
	unlock := s.locks.lock(w.ID)
	defer unlock()
	return s.deployLocked(ctx, w, "started")
}

// Restart stops and redeploys w under one acquisition of the worker lock,
// so no other operation on the worker can interleave.
func (s *Supervisor) Restart(ctx context.Context, w deploy.Worker) Result {
	unlock := s.locks.lock(w.ID)
	defer unlock()
	if res, rejected := s.rejectInvalid(ctx, w); rejected {
		return res
	}
	if _, err := s.stopLocked(ctx, w.ID); err != nil {
		return failed(err, s.currentStatus(ctx, w.ID))
	}
	return s.deployLocked(ctx, w, "restarted")
}

// Stop ends the live process of id. Stopping a worker with no process
// succeeds without side effects.
func (s *Supervisor) Stop(ctx context.Context, id string) Result {
	unlock := s.locks.lock(id)
	defer unlock()
	code, err := s.stopLocked(ctx, id)
	if err != nil {
		return failed(err, s.currentStatus(ctx, id))
	}
	if code == nil {
		return succeeded(fmt.Sprintf("%s is not running", id), s.currentStatus(ctx, id))
	}
	return succeeded(fmt.Sprintf("stopped %s (exit code %d)", id, *code), status.Stopped)
}

// Remove stops id, deletes its workspace, clears its log buffer and forgets
// its definition. It is used when a worker leaves the fleet.
func (s *Supervisor) Remove(ctx context.Context, id string) Result {
	unlock := s.locks.lock(id)
	defer unlock()
	if _, err := s.stopLocked(ctx, id); err != nil {
		return failed(err, s.currentStatus(ctx, id))
	}
	s.forget(id)
	s.logs.Reset(id)
	if workspace.ValidID(id) {
		if err := s.pipeline.RemoveWorkspace(id); err != nil {
			return failed(fmt.Errorf("supervisor: remove %s: %w", id, err), status.Stopped)
		}
	}
	s.logger.Info("removed worker", slog.String("worker", id))
	return succeeded(fmt.Sprintf("removed %s", id), status.Stopped)
}

// Execute writes text as one line to the process input. Delivery is fire
// and forget; the worker's reply, if any, shows up in its logs. The write
// happens outside the worker lock and gives up after the input timeout, so
// a worker that never reads its input cannot hold up Stop.
func (s *Supervisor) Execute(ctx context.Context, id, text string) Result {
	if strings.ContainsAny(text, "\r\n") {
		err := fmt.Errorf("supervisor: execute %s: %w: command must be a single line", id, ErrInvalidCommand)
		return failed(err, s.currentStatus(ctx, id))
	}
	unlock := s.locks.lock(id)
	h, found := s.registry.Get(id)
	unlock()
	if !found {
		return failed(fmt.Errorf("supervisor: execute %s: %w", id, ErrNotRunning), s.currentStatus(ctx, id))
	}
	if err := h.WriteLine(text, s.inputTimeout); err != nil {
		if errors.Is(err, registry.ErrStdinClosed) {
			err = fmt.Errorf("supervisor: execute %s: %w", id, ErrNotRunning)
		}
		s.logs.Append(id, logbuf.StreamSystem, "execute failed: "+err.Error())
		return failed(err, s.currentStatus(ctx, id))
	}
	s.logs.Append(id, logbuf.StreamSystem, "execute: "+text)
	return succeeded(fmt.Sprintf("sent to %s", id), status.Running)
}

func (s *Supervisor) deployLocked(ctx context.Context, w deploy.Worker, verb string) Result {
	if s.closing.Load() {
		return failed(fmt.Errorf("supervisor: %s %s: %w", verb, w.ID, ErrShuttingDown), s.currentStatus(ctx, w.ID))
	}
	if res, rejected := s.rejectInvalid(ctx, w); rejected {
		return res
	}

	s.Define(w)
	_, err := s.pipeline.Run(ctx, w, s.terminateStep, s.launchStep)
	if errors.Is(err, ErrShuttingDown) {
		return failed(err, status.Stopped)
	}
	if err != nil {
		s.logger.Error("deploy failed",
			slog.String("worker", w.ID),
			slog.String("error", err.Error()))
		s.transition(ctx, status.Update{
			WorkerID: w.ID,
			Status:   status.Error,
			Message:  err.Error(),
		})
		return failed(err, status.Error)
	}

	h, found := s.registry.Get(w.ID)
	if !found {
		// Launch registers the handle and the exit watcher cannot remove it
		// while we hold the lock.
		err := fmt.Errorf("supervisor: %w: handle missing after launch", deploy.ErrLaunchFailed)
		return failed(err, status.Error)
	}
	started := h.StartedAt
	msg := fmt.Sprintf("%s %s (pid %d)", verb, w.ID, h.PID)
	s.logger.Info(verb+" worker",
		slog.String("worker", w.ID),
		slog.Int("pid", h.PID))
	s.transition(ctx, status.Update{
		WorkerID:  w.ID,
		Status:    status.Running,
		PID:       h.PID,
		StartedAt: &started,
		Message:   msg,
	})
	return succeeded(msg, status.Running)
}

// rejectInvalid reports whether w fails validation. A rejected worker
// leaves any live process running, so its status is only set to error when
// nothing is running.
func (s *Supervisor) rejectInvalid(ctx context.Context, w deploy.Worker) (Result, bool) {
	_, err := s.pipeline.Resolve(w)
	if err == nil {
		return Result{}, false
	}
	s.logs.Append(w.ID, logbuf.StreamSystem, "deploy rejected: "+err.Error())
	s.logger.Error("deploy rejected",
		slog.String("worker", w.ID),
		slog.String("error", err.Error()))
	if workspace.ValidID(w.ID) && !s.Running(w.ID) {
		s.transition(ctx, status.Update{
			WorkerID: w.ID,
			Status:   status.Error,
			Message:  err.Error(),
		})
	}
	return failed(err, s.currentStatus(ctx, w.ID)), true
}

// terminateStep is the pipeline's first step.
func (s *Supervisor) terminateStep(ctx context.Context, t *deploy.Target) error {
	_, err := s.stopLocked(ctx, t.Worker.ID)
	return err
}

// stopLocked ends the live process of id, escalating to SIGKILL after the
// stop timeout. It returns the exit code, or nil when nothing was running.
// The caller holds the worker lock.
func (s *Supervisor) stopLocked(ctx context.Context, id string) (*int, error) {
	h, found := s.registry.Get(id)
	if !found {
		return nil, nil
	}
	h.SetStopping()
	s.logs.Append(id, logbuf.StreamSystem, fmt.Sprintf("stop: sending SIGTERM to pid %d", h.PID))
	if err := h.Terminate(); err != nil {
		s.logger.Warn("stop: terminate failed",
			slog.String("worker", id),
			slog.Int("pid", h.PID),
			slog.String("error", err.Error()))
	}
	h.CloseInput()

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-h.Done():
	case <-timer.C:
		s.escalate(id, h.PID, h.Kill)
		<-h.Done()
	case <-ctx.Done():
		s.escalate(id, h.PID, h.Kill)
		<-h.Done()
	}

	s.registry.Remove(h)
	code, _ := h.ExitCode()
	now := s.now()
	s.transition(ctx, status.Update{
		WorkerID:  id,
		Status:    status.Stopped,
		StoppedAt: &now,
		ExitCode:  &code,
		Message:   fmt.Sprintf("stopped (exit code %d)", code),
	})
	return &code, nil
}

func (s *Supervisor) escalate(id string, pid int, kill func() error) {
	s.logs.Append(id, logbuf.StreamSystem, "stop: grace period exceeded, killing")
	s.logger.Warn("stop: grace period exceeded, killing",
		slog.String("worker", id),
		slog.Int("pid", pid))
	if err := kill(); err != nil {
		s.logger.Warn("stop: kill failed",
			slog.String("worker", id),
			slog.String("error", err.Error()))
	}
}
