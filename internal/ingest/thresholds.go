package ingest

import (
	"sync/atomic"

	"github.com/crowdwatch/crowdwatch/internal/risk"
)

// Thresholds resolves the effective yellow/red boundaries for a zone.
// An unknown zone falls back to the configured defaults rather than
// failing. The whole table swaps atomically on config reload, so a batch
// in flight sees a consistent view per lookup.
type Thresholds struct {
	table atomic.Pointer[thresholdTable]
}

type thresholdTable struct {
	defaults risk.Thresholds
	zones    map[string]risk.Thresholds
}

// NewThresholds creates a resolver with the given defaults and per-zone
// overrides. zones may be nil.
func NewThresholds(defaults risk.Thresholds, zones map[string]risk.Thresholds) *Thresholds {
	t := &Thresholds{}
	t.Swap(defaults, zones)
	return t
}

// For returns the thresholds in effect for zone.
func (t *Thresholds) For(zone string) risk.Thresholds {
	tab := t.table.Load()
	if th, ok := tab.zones[zone]; ok {
		return th
	}
	return tab.defaults
}

// Swap atomically replaces the threshold table, e.g. on config reload.
func (t *Thresholds) Swap(defaults risk.Thresholds, zones map[string]risk.Thresholds) {
	if zones == nil {
		zones = map[string]risk.Thresholds{}
	}
	t.table.Store(&thresholdTable{defaults: defaults, zones: zones})
}
