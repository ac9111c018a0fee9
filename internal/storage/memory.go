package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/crowdwatch/crowdwatch/internal/risk"
)

// Memory is an in-memory Store used by tests. It mirrors the Postgres
// implementation's atomicity: a forced failure leaves nothing behind.
type Memory struct {
	mu      sync.Mutex
	samples []risk.Telemetry
	events  []risk.Event

	// FailWith, when non-nil, makes the next SaveBatch fail without
	// persisting anything, then clears itself.
	FailWith error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// SaveBatch appends all records, or none if a failure is injected.
func (m *Memory) SaveBatch(_ context.Context, samples []risk.Telemetry, events []risk.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		err := m.FailWith
		m.FailWith = nil
		return err
	}
	m.samples = append(m.samples, samples...)
	m.events = append(m.events, events...)
	return nil
}

// RecentEvents returns stored events newest first, filtered by zone.
func (m *Memory) RecentEvents(_ context.Context, zone string, limit int) ([]risk.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	out := make([]risk.Event, 0, len(m.events))
	for _, e := range m.events {
		if zone == "" || e.Zone == zone {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SampleCount returns the number of persisted telemetry samples.
func (m *Memory) SampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

// EventCount returns the number of persisted risk events.
func (m *Memory) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Events returns a copy of all persisted events in insertion order.
func (m *Memory) Events() []risk.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]risk.Event, len(m.events))
	copy(out, m.events)
	return out
}
