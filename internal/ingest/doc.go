// Package ingest drives the scoring pipeline for telemetry batches:
// raw score, window update, trend, classification, advice, atomic batch
// persistence, then fan-out. Batches are all-or-nothing; fan-out happens
// strictly after the batch commits.
package ingest
