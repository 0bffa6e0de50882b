// Package supervisor is the lifecycle controller: it deploys, starts,
// stops, restarts and talks to worker processes, keeping at most one live
// process per worker.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zulandar/hangar/internal/deploy"
	"github.com/zulandar/hangar/internal/logbuf"
	"github.com/zulandar/hangar/internal/notify"
	"github.com/zulandar/hangar/internal/registry"
	"github.com/zulandar/hangar/internal/status"
)

// ErrNotRunning is returned when an operation needs a live process and the
// worker has none.
var ErrNotRunning = errors.New("worker not running")

// ErrUnknownWorker is returned when an action names a worker that was never
// defined or deployed.
var ErrUnknownWorker = errors.New("unknown worker")

// ErrInvalidCommand is returned when an execute command cannot be sent as
// a single input line.
var ErrInvalidCommand = errors.New("invalid command")

// ErrShuttingDown is returned for deploys that arrive after Shutdown began.
var ErrShuttingDown = errors.New("supervisor shutting down")

// DefaultStopTimeout is how long Stop waits after SIGTERM before SIGKILL.
const DefaultStopTimeout = 10 * time.Second

// DefaultInputTimeout bounds a single Execute write.
const DefaultInputTimeout = 2 * time.Second

// Actions accepted by Do.
const (
	ActionDeploy  = "deploy"
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionExecute = "execute"
)

// Request is one lifecycle command.
type Request struct {
	WorkerID string
	Action   string
	Worker   *deploy.Worker // deploy, start and restart; falls back to the last definition
	Command  string         // execute
}

// Result is the outcome of a lifecycle command. Errors never escape the
// controller; they are reported here.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"`
	Err     error  `json:"-"`
}

func succeeded(msg, st string) Result {
	return Result{Success: true, Message: msg, Status: st}
}

func failed(err error, st string) Result {
	return Result{Message: err.Error(), Status: st, Err: err}
}

// Opts configures a Supervisor.
type Opts struct {
	Pipeline      *deploy.Pipeline
	Registry      *registry.Registry
	Logs          *logbuf.Store
	Store         status.ReadWriter
	Notifier      notify.Notifier
	Logger        *slog.Logger
	StopTimeout   time.Duration
	InputTimeout  time.Duration // bounds one Execute write
	SnapshotLines int           // log lines sent with each transition
	Clock         func() time.Time
}

// Supervisor owns the process registry and serializes operations per
// worker id. Operations on different workers run in parallel.
type Supervisor struct {
	pipeline      *deploy.Pipeline
	registry      *registry.Registry
	logs          *logbuf.Store
	store         status.ReadWriter
	notifier      notify.Notifier
	logger        *slog.Logger
	stopTimeout   time.Duration
	inputTimeout  time.Duration
	snapshotLines int
	now           func() time.Time

	locks   keyedMutex
	closing atomic.Bool

	defMu   sync.Mutex
	workers map[string]deploy.Worker
}

// New creates a Supervisor.
func New(opts Opts) (*Supervisor, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("supervisor: pipeline is required")
	}
	if opts.Logs == nil {
		return nil, fmt.Errorf("supervisor: log store is required")
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Store == nil {
		opts.Store = status.NewMemory(0)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.InputTimeout <= 0 {
		opts.InputTimeout = DefaultInputTimeout
	}
	if opts.SnapshotLines <= 0 {
		opts.SnapshotLines = status.DefaultSnapshotLines
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Supervisor{
		pipeline:      opts.Pipeline,
		registry:      opts.Registry,
		logs:          opts.Logs,
		store:         opts.Store,
		notifier:      opts.Notifier,
		logger:        opts.Logger,
		stopTimeout:   opts.StopTimeout,
		inputTimeout:  opts.InputTimeout,
		snapshotLines: opts.SnapshotLines,
		now:           opts.Clock,
		workers:       make(map[string]deploy.Worker),
	}, nil
}

// Define remembers w so later actions can name it by id alone.
func (s *Supervisor) Define(w deploy.Worker) {
	s.defMu.Lock()
	defer s.defMu.Unlock()
	s.workers[w.ID] = w
}

func (s *Supervisor) forget(id string) {
	s.defMu.Lock()
	defer s.defMu.Unlock()
	delete(s.workers, id)
}

// Definition returns the remembered definition for id.
func (s *Supervisor) Definition(id string) (deploy.Worker, bool) {
	s.defMu.Lock()
	defer s.defMu.Unlock()
	w, ok := s.workers[id]
	return w, ok
}

// Defined lists the ids of remembered workers, sorted.
func (s *Supervisor) Defined() []string {
	s.defMu.Lock()
	defer s.defMu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Do dispatches req to the matching lifecycle operation.
func (s *Supervisor) Do(ctx context.Context, req Request) Result {
	id := req.WorkerID
	if id == "" && req.Worker != nil {
		id = req.Worker.ID
	}
	switch req.Action {
	case ActionDeploy, ActionStart, ActionRestart:
		w, err := s.workerFor(id, req.Worker)
		if err != nil {
			return failed(err, s.currentStatus(ctx, id))
		}
		switch req.Action {
		case ActionDeploy:
			return s.Deploy(ctx, w)
		case ActionStart:
			return s.Start(ctx, w)
		default:
			return s.Restart(ctx, w)
		}
	case ActionStop:
		return s.Stop(ctx, id)
	case ActionExecute:
		return s.Execute(ctx, id, req.Command)
	default:
		return failed(fmt.Errorf("supervisor: unknown action %q", req.Action), s.currentStatus(ctx, id))
	}
}

func (s *Supervisor) workerFor(id string, w *deploy.Worker) (deploy.Worker, error) {
	if w != nil {
		if w.ID == "" {
			cp := *w
			cp.ID = id
			return cp, nil
		}
		if id != "" && w.ID != id {
			return deploy.Worker{}, fmt.Errorf("supervisor: %w: request id %q does not match worker %q", deploy.ErrInvalidWorker, id, w.ID)
		}
		return *w, nil
	}
	def, ok := s.Definition(id)
	if !ok {
		return deploy.Worker{}, fmt.Errorf("supervisor: %w: %q", ErrUnknownWorker, id)
	}
	return def, nil
}

// Logs returns the buffered output of id, oldest first.
func (s *Supervisor) Logs(id string) []logbuf.Line {
	return s.logs.Read(id)
}

// Running reports whether id has a live process.
func (s *Supervisor) Running(id string) bool {
	_, ok := s.registry.Get(id)
	return ok
}

// List returns the ids with live processes, sorted.
func (s *Supervisor) List() []string {
	return s.registry.List()
}

// DeployAsync runs Deploy on its own goroutine. The channel receives one
// Result when the pipeline completes and is then closed.
func (s *Supervisor) DeployAsync(ctx context.Context, w deploy.Worker) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- s.Deploy(ctx, w)
	}()
	return ch
}

// Shutdown stops every worker in parallel and refuses deploys from then
// on. Each stop queues behind any in-flight operation on its worker, so a
// deploy that launched just before Shutdown is stopped too.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.closing.Store(true)

	ids := s.registry.List()
	ids = append(ids, s.Defined()...)
	sort.Strings(ids)
	ids = slices.Compact(ids)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.locks.lock(id)
			defer unlock()
			code, err := s.stopLocked(ctx, id)
			switch {
			case err != nil:
				s.logger.Warn("shutdown: stop failed",
					slog.String("worker", id),
					slog.String("error", err.Error()))
			case code != nil:
				s.logger.Info("shutdown: stopped worker",
					slog.String("worker", id),
					slog.Int("code", *code))
			}
		}()
	}
	wg.Wait()
}

// Closing reports whether Shutdown has been called.
func (s *Supervisor) Closing() bool {
	return s.closing.Load()
}

// currentStatus reports the status a caller should see for id without a
// transition: running with a live handle, otherwise the stored value.
func (s *Supervisor) currentStatus(ctx context.Context, id string) string {
	if s.Running(id) {
		return status.Running
	}
	if id == "" {
		return status.Stopped
	}
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return status.Stopped
	}
	return r.Status
}

// transition persists u and notifies. Failures are logged, never returned.
func (s *Supervisor) transition(ctx context.Context, u status.Update) {
	ctx = context.WithoutCancel(ctx)
	// An empty buffer means this run has no output for the worker yet;
	// leave the stored snapshot from the previous run in place.
	if lines := s.logs.Tail(u.WorkerID, s.snapshotLines); len(lines) > 0 {
		u.Logs = lines
	}
	if err := s.store.Record(ctx, u); err != nil {
		s.logger.Warn("status update failed",
			slog.String("worker", u.WorkerID),
			slog.String("status", u.Status),
			slog.String("error", err.Error()))
	}
	e := notify.Event{WorkerID: u.WorkerID, Status: u.Status, Message: u.Message, Time: s.now()}
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.logger.Warn("notify failed",
			slog.String("worker", u.WorkerID),
			slog.String("error", err.Error()))
	}
}
