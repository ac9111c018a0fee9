package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crowdwatch/crowdwatch/internal/metrics"
	"github.com/crowdwatch/crowdwatch/internal/risk"
	"github.com/crowdwatch/crowdwatch/internal/storage"
	"github.com/crowdwatch/crowdwatch/internal/window"
)

// DefaultTrendWindow bounds how far back score history influences trend.
const DefaultTrendWindow = 5 * time.Minute

// ErrEmptyBatch is returned when a batch contains no samples. It is a
// client error: nothing was processed or persisted.
var ErrEmptyBatch = errors.New("ingest: empty batch")

// Publisher receives each produced risk event after its batch has been
// persisted. Implementations must not block.
type Publisher interface {
	Publish(e risk.Event)
}

// Coordinator runs the per-sample scoring pipeline over a batch and owns
// its atomicity: the whole batch persists or none of it does, and no event
// reaches the Publisher before the batch is durable.
//
// Multiple batches may be ingested concurrently; samples within one batch
// are processed sequentially so same-zone samples see each other's window
// updates.
type Coordinator struct {
	windows     window.Store
	store       storage.Store
	publisher   Publisher
	thresholds  *Thresholds
	trendWindow time.Duration
	damping     float64

	now   func() time.Time // injectable for deterministic tests
	newID func() string
}

// New creates a Coordinator. trendWindow falls back to the package default
// when non-positive. damping is taken as configured; zero means trend never
// adjusts the raw score.
func New(windows window.Store, store storage.Store, publisher Publisher, thresholds *Thresholds, trendWindow time.Duration, damping float64) *Coordinator {
	if trendWindow <= 0 {
		trendWindow = DefaultTrendWindow
	}
	return &Coordinator{
		windows:     windows,
		store:       store,
		publisher:   publisher,
		thresholds:  thresholds,
		trendWindow: trendWindow,
		damping:     damping,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Ingest processes a telemetry batch in order and returns the produced risk
// events, one per sample, in input order. On any failure the whole batch is
// rejected and nothing is persisted or published; the caller may retry the
// full batch.
func (c *Coordinator) Ingest(ctx context.Context, batch []risk.Telemetry) ([]risk.Event, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}

	samples := make([]risk.Telemetry, 0, len(batch))
	events := make([]risk.Event, 0, len(batch))

	for _, t := range batch {
		if err := ctx.Err(); err != nil {
			metrics.BatchFailures.Inc()
			return nil, fmt.Errorf("ingest: batch aborted: %w", err)
		}

		// Unspecified timezones were already treated as UTC at decode
		// time; this only rewrites the location for zoned inputs.
		t.Timestamp = t.Timestamp.UTC()

		raw := risk.RawScore(t)

		// Window failures are absorbed by the failover store; anything
		// surfacing here is unexpected but must not fail the batch, so
		// trend degrades to zero-history instead.
		if err := c.windows.Record(ctx, t.Zone, raw, t.Timestamp); err != nil {
			slog.Error("ingest: window record failed", "zone", t.Zone, "err", err)
		}
		trend, err := window.Trend(ctx, c.windows, t.Zone, c.trendWindow)
		if err != nil {
			slog.Error("ingest: trend read failed", "zone", t.Zone, "err", err)
			trend = 0
		}

		final := risk.FinalScore(raw, trend, c.damping)
		level := risk.Classify(final, c.thresholds.For(t.Zone))

		e := risk.Event{
			ID:               c.newID(),
			Tenant:           t.Tenant,
			Site:             t.Site,
			Camera:           t.Camera,
			Zone:             t.Zone,
			CreatedAt:        c.now().UTC(),
			RiskScore:        final,
			RiskLevel:        level,
			SuggestedActions: risk.Advise(t, level),
			SourceSampleRef:  sampleRef(t),
		}

		samples = append(samples, t)
		events = append(events, e)
	}

	if err := c.store.SaveBatch(ctx, samples, events); err != nil {
		metrics.BatchFailures.Inc()
		return nil, fmt.Errorf("ingest: persist batch of %d: %w", len(batch), err)
	}

	// Fan-out only after the batch is durable. Publish is fire-and-forget;
	// subscriber problems never reach the ingestion caller.
	for _, e := range events {
		c.publisher.Publish(e)
		metrics.EventsProduced.WithLabelValues(e.RiskLevel.String()).Inc()
	}
	metrics.SamplesIngested.Add(float64(len(batch)))

	return events, nil
}

// sampleRef identifies the telemetry sample an event was derived from.
func sampleRef(t risk.Telemetry) string {
	return fmt.Sprintf("%s/%s/%d", t.Camera, t.Zone, t.Timestamp.UnixMilli())
}
