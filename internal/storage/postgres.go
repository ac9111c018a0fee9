package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/crowdwatch/crowdwatch/internal/risk"
)

// Connection pool limits. The write path is a single short transaction per
// batch, so a small pool is plenty.
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

const schema = `
CREATE TABLE IF NOT EXISTS telemetry_samples (
	id               BIGSERIAL PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	site_id          TEXT NOT NULL,
	camera_id        TEXT NOT NULL,
	zone_id          TEXT NOT NULL,
	ts               TIMESTAMPTZ NOT NULL,
	density          DOUBLE PRECISION NOT NULL,
	avg_speed        DOUBLE PRECISION NOT NULL,
	speed_variance   DOUBLE PRECISION NOT NULL,
	flow_entropy     DOUBLE PRECISION NOT NULL,
	alignment        DOUBLE PRECISION NOT NULL,
	bottleneck_index DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_events (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	site_id           TEXT NOT NULL,
	camera_id         TEXT NOT NULL,
	zone_id           TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	risk_score        DOUBLE PRECISION NOT NULL,
	risk_level        TEXT NOT NULL,
	suggested_actions TEXT[] NOT NULL DEFAULT '{}',
	acknowledged      BOOLEAN NOT NULL DEFAULT FALSE,
	acknowledged_by   TEXT,
	acknowledged_at   TIMESTAMPTZ,
	source_sample_ref TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_events_zone_created
	ON risk_events (zone_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_telemetry_zone_ts
	ON telemetry_samples (zone_id, ts DESC);
`

// Postgres implements Store on PostgreSQL via lib/pq.
type Postgres struct {
	db *sql.DB
}

// Open connects to Postgres, applies pool limits, and verifies reachability.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Migrate creates the schema if it does not exist. Idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// Ping reports database reachability, for the health endpoint.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// SaveBatch inserts all samples and events in one transaction. Any failure
// rolls the whole batch back so a retry sees no partial state.
func (p *Postgres) SaveBatch(ctx context.Context, samples []risk.Telemetry, events []risk.Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	sampleStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO telemetry_samples
			(tenant_id, site_id, camera_id, zone_id, ts,
			 density, avg_speed, speed_variance, flow_entropy, alignment, bottleneck_index)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`)
	if err != nil {
		return fmt.Errorf("storage: prepare sample insert: %w", err)
	}
	defer sampleStmt.Close()

	for _, s := range samples {
		if _, err := sampleStmt.ExecContext(ctx,
			s.Tenant, s.Site, s.Camera, s.Zone, s.Timestamp,
			s.Density, s.AvgSpeed, s.SpeedVariance, s.FlowEntropy, s.Alignment, s.BottleneckIndex,
		); err != nil {
			return fmt.Errorf("storage: insert sample zone %s: %w", s.Zone, err)
		}
	}

	eventStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO risk_events
			(id, tenant_id, site_id, camera_id, zone_id, created_at,
			 risk_score, risk_level, suggested_actions,
			 acknowledged, acknowledged_by, acknowledged_at, source_sample_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`)
	if err != nil {
		return fmt.Errorf("storage: prepare event insert: %w", err)
	}
	defer eventStmt.Close()

	for _, e := range events {
		// The column is NOT NULL; pq.Array maps a nil slice to SQL NULL.
		actions := e.SuggestedActions
		if actions == nil {
			actions = []string{}
		}
		var ackBy sql.NullString
		if e.AcknowledgedBy != "" {
			ackBy = sql.NullString{String: e.AcknowledgedBy, Valid: true}
		}
		var ackAt sql.NullTime
		if e.AcknowledgedAt != nil {
			ackAt = sql.NullTime{Time: *e.AcknowledgedAt, Valid: true}
		}
		if _, err := eventStmt.ExecContext(ctx,
			e.ID, e.Tenant, e.Site, e.Camera, e.Zone, e.CreatedAt,
			e.RiskScore, e.RiskLevel.String(), pq.Array(actions),
			e.Acknowledged, ackBy, ackAt, e.SourceSampleRef,
		); err != nil {
			return fmt.Errorf("storage: insert event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit batch: %w", err)
	}
	return nil
}

// RecentEvents returns persisted events newest first. An empty zone matches
// all zones.
func (p *Postgres) RecentEvents(ctx context.Context, zone string, limit int) ([]risk.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	const base = `
		SELECT id, tenant_id, site_id, camera_id, zone_id, created_at,
		       risk_score, risk_level, suggested_actions,
		       acknowledged, acknowledged_by, acknowledged_at, source_sample_ref
		FROM risk_events`

	var rows *sql.Rows
	var err error
	if zone == "" {
		rows, err = p.db.QueryContext(ctx, base+` ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, base+` WHERE zone_id = $1 ORDER BY created_at DESC LIMIT $2`, zone, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	defer rows.Close()

	var out []risk.Event
	for rows.Next() {
		var e risk.Event
		var level string
		var actions pq.StringArray
		var ackBy sql.NullString
		var ackAt sql.NullTime
		if err := rows.Scan(
			&e.ID, &e.Tenant, &e.Site, &e.Camera, &e.Zone, &e.CreatedAt,
			&e.RiskScore, &level, &actions,
			&e.Acknowledged, &ackBy, &ackAt, &e.SourceSampleRef,
		); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		if e.RiskLevel, err = risk.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("storage: event %s: %w", e.ID, err)
		}
		e.SuggestedActions = []string(actions)
		if ackBy.Valid {
			e.AcknowledgedBy = ackBy.String
		}
		if ackAt.Valid {
			at := ackAt.Time
			e.AcknowledgedAt = &at
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate events: %w", err)
	}
	return out, nil
}
