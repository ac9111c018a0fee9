// Package window keeps the time-bounded per-zone score history used for
// trend estimation.
//
// Two interchangeable Store implementations exist: Redis (sorted set per
// zone, atomic append+trim) and Memory (mutex-guarded bounded rings). The
// Failover wrapper selects Redis while it is reachable and switches to
// Memory permanently on the first detected failure, so window operations
// never surface reachability errors to the ingestion path.
package window
