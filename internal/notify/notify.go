// Package notify posts worker status transitions to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event is one status transition worth telling operators about.
type Event struct {
	WorkerID string
	Status   string
	Message  string
	Time     time.Time
}

// Title renders the one-line summary used by every destination.
func (e Event) Title() string {
	return fmt.Sprintf("%s is %s", e.WorkerID, e.Status)
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultQueueSize is the number of undelivered events a Queue holds.
const DefaultQueueSize = 64

// Queue delivers events on a background goroutine in the order they were
// queued, so callers never wait on a chat API. Events are dropped when the
// queue is full.
type Queue struct {
	next    Notifier
	logger  *slog.Logger
	timeout time.Duration
	events  chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// NewQueue starts a Queue in front of next.
func NewQueue(next Notifier, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	q := &Queue{
		next:    next,
		logger:  logger,
		timeout: 15 * time.Second,
		events:  make(chan Event, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Notify queues e. It never blocks.
func (q *Queue) Notify(_ context.Context, e Event) error {
	select {
	case q.events <- e:
		return nil
	default:
		return fmt.Errorf("notify: queue full, dropped %s", e.Title())
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.closeOnce.Do(func() { close(q.events) })
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for e := range q.events {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := q.next.Notify(ctx, e); err != nil {
			q.logger.Warn("notify failed",
				slog.String("worker", e.WorkerID),
				slog.String("status", e.Status),
				slog.String("error", err.Error()))
		}
		cancel()
	}
}
