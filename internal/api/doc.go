// Package api exposes the HTTP surface of the risk core: the batch
// telemetry ingest endpoint, recent-event queries, and the health probe.
// All responses are JSON.
package api
