// Package storage persists telemetry samples and risk events.
//
// SaveBatch is the single write path and is atomic: either every record of
// a batch becomes durable or none does. Postgres is the production
// implementation; Memory backs tests.
package storage
