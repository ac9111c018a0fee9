package risk

import "math"

// Weight constants for the raw score formula. They must sum to 1.0.
const (
	weightDensity    = 0.35
	weightEntropy    = 0.25
	weightMisaligned = 0.20
	weightBottleneck = 0.20
)

// DefaultDamping bounds how much trend momentum can distort the raw score.
const DefaultDamping = 0.3

// RawScore computes the instantaneous crowd-risk score for one sample.
//
// Formula:
//
//	raw = density*0.35 + flowEntropy*0.25 + (1-alignment)*0.20 + bottleneckIndex*0.20
//
// The result is in [0, 1] when all inputs are in [0, 1]. Out-of-range
// inputs are passed through unclamped; normalization is the producer's job.
func RawScore(t Telemetry) float64 {
	return t.Density*weightDensity +
		t.FlowEntropy*weightEntropy +
		(1-t.Alignment)*weightMisaligned +
		t.BottleneckIndex*weightBottleneck
}

// Trend estimates recent score momentum from time-ordered scores, oldest
// first. The series is split at the integer midpoint (the earlier half may
// be one element shorter) and the trend is mean(later) - mean(earlier).
// Returns 0 with fewer than 2 scores. The result is not clamped.
func Trend(scores []float64) float64 {
	if len(scores) < 2 {
		return 0
	}
	mid := len(scores) / 2
	return mean(scores[mid:]) - mean(scores[:mid])
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// FinalScore applies trend damping to the raw score:
//
//	final = min(1.0, raw*(1 + trend*damping))
//
// rounded to 4 decimals. The outer clamp prevents a strong positive trend
// from pushing the score past 1.0.
func FinalScore(raw, trend, damping float64) float64 {
	return Round4(math.Min(1.0, raw*(1+trend*damping)))
}

// Round4 rounds to 4 decimal places, matching the producer's precision.
func Round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}

// Classify maps a final score onto a risk level using half-open bands:
// a score exactly equal to a threshold classifies into the higher tier.
func Classify(score float64, th Thresholds) Level {
	switch {
	case score >= th.Red:
		return LevelRed
	case score >= th.Yellow:
		return LevelYellow
	default:
		return LevelGreen
	}
}
