package dispatch

import (
	"context"
	"sync"
)

// MemoryLog is an in-memory DeliveryLog for tests and one-shot tooling
// that runs without a database.
type MemoryLog struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryLog creates an empty in-memory delivery log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryLog) LastSent(_ context.Context, userID, reachID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		rec := m.records[i]
		if rec.Sent && rec.UserID == userID && rec.ReachID == reachID {
			cp := rec
			return &cp, nil
		}
	}
	return nil, nil
}

// Records returns a copy of everything appended so far.
func (m *MemoryLog) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
