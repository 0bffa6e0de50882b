// Package logbuf keeps a bounded, in-memory tail of output lines per worker.
package logbuf

import (
	"sync"
	"time"
)

// Stream constants identify where a line came from.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamSystem = "system"
)

// DefaultCap is the number of lines retained per worker when no cap is given.
const DefaultCap = 500

// Line is one captured output line.
type Line struct {
	Time   time.Time `json:"timestamp"`
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
}

// String renders the line the way it is shown to operators. Stderr and
// system lines carry a bracketed prefix so a reader can tell them apart.
func (l Line) String() string {
	switch l.Stream {
	case StreamStderr:
		return "[stderr] " + l.Text
	case StreamSystem:
		return "[hangar] " + l.Text
	default:
		return l.Text
	}
}

// ring is a fixed-capacity FIFO. Appending to a full ring overwrites the
// oldest entry.
type ring struct {
	lines []Line
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{lines: make([]Line, capacity)}
}

func (r *ring) push(l Line) {
	c := len(r.lines)
	if r.n < c {
		r.lines[(r.start+r.n)%c] = l
		r.n++
		return
	}
	r.lines[r.start] = l
	r.start = (r.start + 1) % c
}

func (r *ring) snapshot() []Line {
	out := make([]Line, r.n)
	c := len(r.lines)
	for i := 0; i < r.n; i++ {
		out[i] = r.lines[(r.start+i)%c]
	}
	return out
}

// resize rebuilds the ring at a new capacity, keeping the newest lines.
func (r *ring) resize(capacity int) {
	lines := r.snapshot()
	if len(lines) > capacity {
		lines = lines[len(lines)-capacity:]
	}
	nr := newRing(capacity)
	for _, l := range lines {
		nr.push(l)
	}
	*r = *nr
}

// Store holds one bounded buffer per worker. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	cap     int
	buffers map[string]*ring
	now     func() time.Time
}

// New creates a Store retaining at most capacity lines per worker.
// A non-positive capacity selects DefaultCap.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Store{
		cap:     capacity,
		buffers: make(map[string]*ring),
		now:     time.Now,
	}
}

// Cap returns the per-worker line limit.
func (s *Store) Cap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cap
}

// Append records a line for workerID, evicting the oldest line when the
// buffer is full.
func (s *Store) Append(workerID, stream, text string) Line {
	l := Line{Time: s.now(), Stream: stream, Text: text}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.buffers[workerID]
	if !ok {
		r = newRing(s.cap)
		s.buffers[workerID] = r
	}
	r.push(l)
	return l
}

// Read returns a copy of the worker's lines, oldest first. Unknown workers
// yield an empty slice.
func (s *Store) Read(workerID string) []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.buffers[workerID]
	if !ok {
		return []Line{}
	}
	return r.snapshot()
}

// Tail returns at most the last n lines for workerID.
func (s *Store) Tail(workerID string, n int) []Line {
	lines := s.Read(workerID)
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// SetCap changes the per-worker limit and trims every buffer to fit.
func (s *Store) SetCap(capacity int) {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	s.mu.Lock()
	s.cap = capacity
	ids := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Trim(id)
	}
}

// Trim drops the oldest lines of workerID until the buffer is within the
// current cap.
func (s *Store) Trim(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.buffers[workerID]
	if !ok || len(r.lines) == s.cap {
		return
	}
	r.resize(s.cap)
}

// Reset discards all lines for workerID.
func (s *Store) Reset(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, workerID)
}
