package risk

import (
	"encoding/json"
	"fmt"
	"time"
)

// Telemetry is one anonymized crowd sample produced by an edge agent for a
// single zone. All feature values are expected in [0, 1]; the producer owns
// normalization and this package does not clamp.
type Telemetry struct {
	Tenant          string    `json:"tenantId"`
	Site            string    `json:"siteId"`
	Camera          string    `json:"cameraId"`
	Zone            string    `json:"zoneId"`
	Timestamp       time.Time `json:"timestamp"`
	Density         float64   `json:"density"`
	AvgSpeed        float64   `json:"avgSpeed"`
	SpeedVariance   float64   `json:"speedVariance"`
	FlowEntropy     float64   `json:"flowEntropy"`
	Alignment       float64   `json:"alignment"`
	BottleneckIndex float64   `json:"bottleneckIndex"`
}

// Level is the three-tier ordinal risk classification.
// Higher values mean higher risk.
type Level int

const (
	LevelGreen Level = iota
	LevelYellow
	LevelRed
)

// String returns the lowercase wire name of the level.
func (l Level) String() string {
	switch l {
	case LevelGreen:
		return "green"
	case LevelYellow:
		return "yellow"
	case LevelRed:
		return "red"
	default:
		return "unknown"
	}
}

// ParseLevel converts a wire name back into a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "green":
		return LevelGreen, nil
	case "yellow":
		return LevelYellow, nil
	case "red":
		return LevelRed, nil
	default:
		return LevelGreen, fmt.Errorf("unknown risk level %q", s)
	}
}

// MarshalJSON encodes the level as its wire name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes the level from its wire name.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	lv, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = lv
	return nil
}

// Thresholds are the yellow/red score boundaries in effect for a zone.
// Bands are half-open: green = [0, Yellow), yellow = [Yellow, Red),
// red = [Red, 1].
type Thresholds struct {
	Yellow float64
	Red    float64
}

// DefaultThresholds apply to any zone without explicit configuration.
var DefaultThresholds = Thresholds{Yellow: 0.5, Red: 0.75}

// Event is the risk classification produced for one telemetry sample.
// It is immutable once created except for the acknowledgement fields,
// which an external workflow sets later.
type Event struct {
	ID               string     `json:"id"`
	Tenant           string     `json:"tenantId"`
	Site             string     `json:"siteId"`
	Camera           string     `json:"cameraId"`
	Zone             string     `json:"zoneId"`
	CreatedAt        time.Time  `json:"createdAt"`
	RiskScore        float64    `json:"riskScore"` // final score, 4-decimal rounded
	RiskLevel        Level      `json:"riskLevel"`
	SuggestedActions []string   `json:"suggestedActions"`
	Acknowledged     bool       `json:"acknowledged"`
	AcknowledgedBy   string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt   *time.Time `json:"acknowledgedAt,omitempty"`
	SourceSampleRef  string     `json:"sourceSampleRef"`
}
