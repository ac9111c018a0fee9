// Package risk holds the domain types and the pure scoring pipeline:
// raw score from a telemetry sample, trend estimation over recent score
// history, threshold classification, and mitigation advice.
//
// Everything in this package is stateless and non-blocking. Window history
// and persistence live in internal/window and internal/storage.
package risk
