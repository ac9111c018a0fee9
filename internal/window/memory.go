package window

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Default capacity bounds for the in-process fallback store.
const (
	DefaultPerZoneSamples = 10
	DefaultMaxZones       = 100
)

// Memory is the bounded in-process Store used when Redis is unavailable.
// Each zone keeps at most perZone recent samples sorted by time; when the
// tracked-zone cap is exceeded, the zone with the oldest write is evicted.
//
// Memory is safe for concurrent use. Its methods never return an error.
type Memory struct {
	mu       sync.Mutex
	zones    map[string]*zoneHistory
	perZone  int
	maxZones int
	now      func() time.Time // injectable for deterministic tests
}

type zoneHistory struct {
	samples   []Sample // sorted by At, oldest first
	lastWrite time.Time
}

// NewMemory creates a Memory store. Non-positive bounds fall back to the
// package defaults.
func NewMemory(perZone, maxZones int) *Memory {
	if perZone <= 0 {
		perZone = DefaultPerZoneSamples
	}
	if maxZones <= 0 {
		maxZones = DefaultMaxZones
	}
	return &Memory{
		zones:    make(map[string]*zoneHistory),
		perZone:  perZone,
		maxZones: maxZones,
		now:      time.Now,
	}
}

// Record inserts a score into the zone's history, keeping it time-sorted
// and capped to the per-zone capacity (oldest samples dropped first).
func (m *Memory) Record(_ context.Context, zone string, score float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.zones[zone]
	if !ok {
		if len(m.zones) >= m.maxZones {
			m.evictOldestLocked()
		}
		h = &zoneHistory{samples: make([]Sample, 0, m.perZone)}
		m.zones[zone] = h
	}

	s := Sample{Score: score, At: at}
	i := sort.Search(len(h.samples), func(i int) bool {
		return h.samples[i].At.After(at)
	})
	h.samples = append(h.samples, Sample{})
	copy(h.samples[i+1:], h.samples[i:])
	h.samples[i] = s

	if len(h.samples) > m.perZone {
		h.samples = h.samples[len(h.samples)-m.perZone:]
	}
	h.lastWrite = m.now()
	return nil
}

// Recent returns the zone's samples newer than now minus window, oldest
// first. An untracked zone yields an empty slice.
func (m *Memory) Recent(_ context.Context, zone string, window time.Duration) ([]Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.zones[zone]
	if !ok {
		return nil, nil
	}

	cutoff := m.now().Add(-window)
	out := make([]Sample, 0, len(h.samples))
	for _, s := range h.samples {
		if s.At.After(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ZoneCount returns the number of zones currently tracked.
func (m *Memory) ZoneCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.zones)
}

// evictOldestLocked drops the zone with the oldest last write.
// Caller must hold mu.
func (m *Memory) evictOldestLocked() {
	var victim string
	var oldest time.Time
	for zone, h := range m.zones {
		if victim == "" || h.lastWrite.Before(oldest) {
			victim = zone
			oldest = h.lastWrite
		}
	}
	delete(m.zones, victim)
}
