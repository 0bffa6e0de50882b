package status

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process ReadWriter. It keeps every update in order,
// which tests use to assert on transitions.
type Memory struct {
	mu       sync.Mutex
	records  map[string]Record
	history  []Update
	snapshot int
	now      func() time.Time
}

// NewMemory creates an empty Memory store.
func NewMemory(snapshotLines int) *Memory {
	if snapshotLines <= 0 {
		snapshotLines = DefaultSnapshotLines
	}
	return &Memory{
		records:  make(map[string]Record),
		snapshot: snapshotLines,
		now:      time.Now,
	}
}

// Record applies u.
func (m *Memory) Record(_ context.Context, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[u.WorkerID]
	r.apply(u, m.snapshot, m.now())
	m.records[u.WorkerID] = r
	m.history = append(m.history, u)
	return nil
}

// Get returns the record for id, or a stopped record when none exists.
func (m *Memory) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return stoppedRecord(id), nil
	}
	return r, nil
}

// List returns every record ordered by id.
func (m *Memory) List(_ context.Context) ([]Record, error) {
	return m.filter(func(Record) bool { return true }), nil
}

// Running returns the records whose status is running.
func (m *Memory) Running(_ context.Context) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.Status == Running }), nil
}

// History returns the updates recorded for id, oldest first.
func (m *Memory) History(id string) []Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Update
	for _, u := range m.history {
		if u.WorkerID == id {
			out = append(out, u)
		}
	}
	return out
}

func (m *Memory) filter(keep func(Record) bool) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}
