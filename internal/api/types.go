package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/risk"
)

// timestampLayouts are accepted on the wire, tried in order. Layouts
// without a timezone are interpreted as UTC — never the server's local
// time — so producers that omit the offset don't get silently shifted.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // no offset → UTC
	"2006-01-02 15:04:05.999999999", // space separator, no offset → UTC
}

// wireTime decodes producer timestamps with UTC defaulting.
type wireTime struct {
	time.Time
}

func (w *wireTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			w.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// telemetryRecord is one telemetry sample as submitted by the edge agent.
type telemetryRecord struct {
	TenantID        string   `json:"tenantId"`
	SiteID          string   `json:"siteId"`
	CameraID        string   `json:"cameraId"`
	ZoneID          string   `json:"zoneId"`
	Timestamp       wireTime `json:"timestamp"`
	Density         float64  `json:"density"`
	AvgSpeed        float64  `json:"avgSpeed"`
	SpeedVariance   float64  `json:"speedVariance"`
	FlowEntropy     float64  `json:"flowEntropy"`
	Alignment       float64  `json:"alignment"`
	BottleneckIndex float64  `json:"bottleneckIndex"`
}

func (r telemetryRecord) toDomain() risk.Telemetry {
	return risk.Telemetry{
		Tenant:          r.TenantID,
		Site:            r.SiteID,
		Camera:          r.CameraID,
		Zone:            r.ZoneID,
		Timestamp:       r.Timestamp.Time,
		Density:         r.Density,
		AvgSpeed:        r.AvgSpeed,
		SpeedVariance:   r.SpeedVariance,
		FlowEntropy:     r.FlowEntropy,
		Alignment:       r.Alignment,
		BottleneckIndex: r.BottleneckIndex,
	}
}

// ingestEnvelope is the wrapped batch form {"records": [...]} the edge
// agent's buffer flush sends. A bare JSON array is accepted too.
type ingestEnvelope struct {
	Records []telemetryRecord `json:"records"`
}

// IngestResponse reports the outcome of a successful batch ingest.
type IngestResponse struct {
	ProcessedCount int          `json:"processedCount"`
	Events         []risk.Event `json:"events"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status          string `json:"status"` // "ok" | "degraded"
	Database        string `json:"database"`
	WindowStore     string `json:"windowStore"` // "redis" | "fallback"
	SubscriberCount int    `json:"subscriberCount"`
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
