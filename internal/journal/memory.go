package journal

import (
	"context"
	"sync"
)

// MemoryStore keeps events in memory for tests and storage-less runs.
type MemoryStore struct {
	mu     sync.Mutex
	events []TradeEvent
}

// NewMemoryStore creates an empty store optionally pre-sizing storage.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 0 {
		capacity = 0
	}
	return &MemoryStore{events: make([]TradeEvent, 0, capacity)}
}

// Append records an event.
func (m *MemoryStore) Append(_ context.Context, ev TradeEvent) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

// Query returns matching events newest first.
func (m *MemoryStore) Query(_ context.Context, f Filter) ([]TradeEvent, error) {
	return newestFirst(m.Snapshot(), f.Normalized()), nil
}

// Stats counts stored events.
func (m *MemoryStore) Stats(context.Context) (Stats, error) {
	stats := newStats()
	for _, ev := range m.Snapshot() {
		stats.add(ev)
	}
	return stats, nil
}

// Snapshot returns a copy of the recorded events in append order.
func (m *MemoryStore) Snapshot() []TradeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TradeEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Reset clears all stored events.
func (m *MemoryStore) Reset() {
	m.mu.Lock()
	m.events = m.events[:0]
	m.mu.Unlock()
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
