// Package schedule runs lifecycle actions on cron schedules.
package schedule

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/hangar/internal/supervisor"
)

// Parser accepts standard 5-field cron expressions (minute, hour, dom,
// month, dow) and descriptors such as @hourly.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether expr is a valid schedule.
func Validate(expr string) error {
	if _, err := Parser.Parse(expr); err != nil {
		return fmt.Errorf("schedule: parse %q: %w", expr, err)
	}
	return nil
}

// Job is one scheduled action against a worker.
type Job struct {
	WorkerID string
	Spec     string
	Action   string // start, stop, restart or execute
	Command  string // execute only
}

// Request converts the job into a supervisor request.
func (j Job) Request() supervisor.Request {
	return supervisor.Request{WorkerID: j.WorkerID, Action: j.Action, Command: j.Command}
}

// Runner executes lifecycle requests. *supervisor.Supervisor satisfies it.
type Runner interface {
	Do(ctx context.Context, req supervisor.Request) supervisor.Result
}

// Entry describes a registered job and its next fire time.
type Entry struct {
	Job  Job
	Next time.Time
}

// Scheduler fires jobs against a Runner. A job whose previous run is still
// in progress is skipped rather than queued.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *slog.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs map[cron.EntryID]Job
}

// New creates a Scheduler. Call Start to begin firing jobs.
func New(runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		logger: logger,
		ctx:    context.Background(),
		jobs:   make(map[cron.EntryID]Job),
	}
}

// Add registers j.
func (s *Scheduler) Add(j Job) (cron.EntryID, error) {
	if j.WorkerID == "" {
		return 0, fmt.Errorf("schedule: worker id is required")
	}
	switch j.Action {
	case supervisor.ActionStart, supervisor.ActionStop, supervisor.ActionRestart:
	case supervisor.ActionExecute:
		if j.Command == "" {
			return 0, fmt.Errorf("schedule: %s: execute needs a command", j.WorkerID)
		}
	default:
		return 0, fmt.Errorf("schedule: %s: unknown action %q", j.WorkerID, j.Action)
	}
	id, err := s.cron.AddFunc(j.Spec, func() { s.Fire(s.context(), j) })
	if err != nil {
		return 0, fmt.Errorf("schedule: %s: %w", j.WorkerID, err)
	}
	s.mu.Lock()
	s.jobs[id] = j
	s.mu.Unlock()
	return id, nil
}

// Fire runs j immediately and logs the outcome.
func (s *Scheduler) Fire(ctx context.Context, j Job) supervisor.Result {
	res := s.runner.Do(ctx, j.Request())
	attrs := []any{
		slog.String("worker", j.WorkerID),
		slog.String("action", j.Action),
		slog.String("result", res.Message),
	}
	if res.Success {
		s.logger.Info("scheduled action", attrs...)
	} else {
		s.logger.Warn("scheduled action failed", attrs...)
	}
	return res
}

// Start begins firing jobs. Runs use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to finish or ctx to
// end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries lists registered jobs ordered by next fire time.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.cron.Entries() {
		if j, ok := s.jobs[e.ID]; ok {
			out = append(out, Entry{Job: j, Next: e.Next})
		}
	}
	return out
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
