package window

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/metrics"
)

// pinger is implemented by stores that can report backend reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// Failover serves window operations from the primary store until the first
// detected failure, then switches to the fallback permanently for the
// process lifetime. The switch is one-way: flapping back and forth per call
// would give each call a different view of the history.
//
// Failover itself never returns reachability errors; after the switch,
// trend simply rebuilds from the fallback's (initially empty) history.
type Failover struct {
	primary  Store
	fallback Store
	degraded atomic.Bool
}

// NewFailover wraps primary with fallback. If primary supports a
// reachability check it is probed once up front, so a backend that is down
// at startup never receives traffic.
func NewFailover(ctx context.Context, primary, fallback Store) *Failover {
	f := &Failover{primary: primary, fallback: fallback}
	if p, ok := primary.(pinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			f.markDegraded(err)
		}
	}
	return f
}

// Record writes to the active store. A primary failure flips to the
// fallback and re-records the sample there so it is not lost.
func (f *Failover) Record(ctx context.Context, zone string, score float64, at time.Time) error {
	if !f.degraded.Load() {
		err := f.primary.Record(ctx, zone, score, at)
		if err == nil {
			return nil
		}
		f.markDegraded(err)
	}
	return f.fallback.Record(ctx, zone, score, at)
}

// Recent reads from the active store, switching on primary failure.
func (f *Failover) Recent(ctx context.Context, zone string, window time.Duration) ([]Sample, error) {
	if !f.degraded.Load() {
		samples, err := f.primary.Recent(ctx, zone, window)
		if err == nil {
			return samples, nil
		}
		f.markDegraded(err)
	}
	return f.fallback.Recent(ctx, zone, window)
}

// Degraded reports whether the store has switched to the fallback.
func (f *Failover) Degraded() bool {
	return f.degraded.Load()
}

func (f *Failover) markDegraded(err error) {
	if f.degraded.CompareAndSwap(false, true) {
		metrics.WindowDegraded.Set(1)
		slog.Warn("window: primary store unreachable — switching to in-process fallback for process lifetime",
			"err", err)
	}
}
