// Package status persists the last-known state of every worker.
package status

import (
	"context"
	"time"

	"github.com/zulandar/hangar/internal/logbuf"
)

// Status values.
const (
	Stopped = "stopped"
	Running = "running"
	Error   = "error"
)

// DefaultSnapshotLines is the number of log lines persisted with a record.
const DefaultSnapshotLines = 100

// Update is one status transition. Status, PID and Message are always
// written; nil pointer fields and a nil Logs slice leave the stored value
// unchanged.
type Update struct {
	WorkerID  string
	Status    string
	PID       int
	StartedAt *time.Time
	StoppedAt *time.Time
	ExitCode  *int
	Message   string
	Logs      []logbuf.Line
}

// Record is the persisted state of one worker.
type Record struct {
	WorkerID     string        `json:"id"`
	Status       string        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	LastStarted  *time.Time    `json:"last_started,omitempty"`
	LastStopped  *time.Time    `json:"last_stopped,omitempty"`
	LastExitCode *int          `json:"last_exit_code,omitempty"`
	Message      string        `json:"message,omitempty"`
	Logs         []logbuf.Line `json:"logs,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Store receives status transitions.
type Store interface {
	Record(ctx context.Context, u Update) error
}

// Reader looks up persisted records.
type Reader interface {
	// Get returns the record for id. A worker with no record is stopped.
	Get(ctx context.Context, id string) (Record, error)
	// List returns every record ordered by id.
	List(ctx context.Context) ([]Record, error)
	// Running returns the records whose status is running.
	Running(ctx context.Context) ([]Record, error)
}

// ReadWriter is a Store that can also be read.
type ReadWriter interface {
	Store
	Reader
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// apply merges u into r.
func (r *Record) apply(u Update, snapshot int, now time.Time) {
	r.WorkerID = u.WorkerID
	r.Status = u.Status
	r.PID = u.PID
	r.Message = u.Message
	if u.StartedAt != nil {
		r.LastStarted = u.StartedAt
	}
	if u.StoppedAt != nil {
		r.LastStopped = u.StoppedAt
	}
	if u.ExitCode != nil {
		r.LastExitCode = u.ExitCode
	}
	if u.Logs != nil {
		r.Logs = tail(u.Logs, snapshot)
	}
	r.UpdatedAt = now
}

func tail(lines []logbuf.Line, n int) []logbuf.Line {
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]logbuf.Line, len(lines))
	copy(out, lines)
	return out
}

func stoppedRecord(id string) Record {
	return Record{WorkerID: id, Status: Stopped}
}
