package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/hangar/internal/logbuf"
	"github.com/zulandar/hangar/internal/registry"
	"github.com/zulandar/hangar/internal/status"
)

// ReconcileMessage is recorded on workers found running at startup.
const ReconcileMessage = "reconciled after supervisor restart"

// orphanPoll is how often Reconcile checks whether an orphan has exited.
const orphanPoll = 100 * time.Millisecond

// Reconcile repairs records left behind by an earlier supervisor run. Any
// record still marked running has lost its process handle: a surviving
// process is terminated, since its output cannot be reattached, and the
// record is set to stopped. It returns the number of records repaired.
func (s *Supervisor) Reconcile(ctx context.Context) (int, error) {
	records, err := s.store.Running(ctx)
	if err != nil {
		return 0, fmt.Errorf("supervisor: reconcile: %w", err)
	}
	n := 0
	for _, r := range records {
		if s.reconcileOne(ctx, r) {
			n++
		}
	}
	return n, nil
}

func (s *Supervisor) reconcileOne(ctx context.Context, r status.Record) bool {
	unlock := s.locks.lock(r.WorkerID)
	defer unlock()
	if _, live := s.registry.Get(r.WorkerID); live {
		return false
	}

	orphan := registry.GroupAlive(r.PID)
	if orphan {
		s.logger.Warn("reconcile: terminating orphan",
			slog.String("worker", r.WorkerID),
			slog.Int("pid", r.PID))
		s.killOrphan(ctx, r.PID)
	}
	// The buffer is usually empty here, which keeps the previous run's
	// snapshot in the store.
	now := s.now()
	s.transition(ctx, status.Update{
		WorkerID:  r.WorkerID,
		Status:    status.Stopped,
		StoppedAt: &now,
		Message:   ReconcileMessage,
	})
	if orphan {
		s.logs.Append(r.WorkerID, logbuf.StreamSystem, fmt.Sprintf("reconcile: terminated orphan pid %d", r.PID))
	}
	return true
}

// killOrphan sends SIGTERM, waits up to the stop timeout, then SIGKILL.
// The orphan is not our child, so exit is detected by polling.
func (s *Supervisor) killOrphan(ctx context.Context, pid int) {
	if err := registry.KillOrphan(pid, true); err != nil {
		s.logger.Warn("reconcile: terminate failed", slog.Int("pid", pid), slog.String("error", err.Error()))
	}
	deadline := time.NewTimer(s.stopTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(orphanPoll)
	defer tick.Stop()
	for registry.GroupAlive(pid) {
		select {
		case <-tick.C:
		case <-deadline.C:
			registry.KillOrphan(pid, false)
			return
		case <-ctx.Done():
			registry.KillOrphan(pid, false)
			return
		}
	}
}
