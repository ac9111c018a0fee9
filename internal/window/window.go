package window

import (
	"context"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/risk"
)

// Sample is one recorded score for a zone.
type Sample struct {
	Score float64
	At    time.Time
}

// Store is the per-zone score history shared by concurrent ingestion calls.
// Recent returns samples within the window ordered oldest first.
type Store interface {
	Record(ctx context.Context, zone string, score float64, at time.Time) error
	Recent(ctx context.Context, zone string, window time.Duration) ([]Sample, error)
}

// Trend computes the trend factor for a zone from its recent history in s.
// It is a thin composition of Store.Recent and risk.Trend so both store
// variants share identical trend semantics.
func Trend(ctx context.Context, s Store, zone string, window time.Duration) (float64, error) {
	samples, err := s.Recent(ctx, zone, window)
	if err != nil {
		return 0, err
	}
	scores := make([]float64, len(samples))
	for i, smp := range samples {
		scores[i] = smp.Score
	}
	return risk.Trend(scores), nil
}
