package storage

import (
	"context"

	"github.com/crowdwatch/crowdwatch/internal/risk"
)

// Store is the durable record store for the ingestion pipeline.
type Store interface {
	// SaveBatch persists all samples and events in one atomic unit.
	// samples[i] is the source of events[i]; both slices keep batch order.
	SaveBatch(ctx context.Context, samples []risk.Telemetry, events []risk.Event) error

	// RecentEvents returns persisted risk events newest first, optionally
	// filtered by zone (empty zone means all zones), capped at limit.
	RecentEvents(ctx context.Context, zone string, limit int) ([]risk.Event, error)
}
