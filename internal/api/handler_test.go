package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/api"
	"github.com/crowdwatch/crowdwatch/internal/ingest"
	"github.com/crowdwatch/crowdwatch/internal/risk"
	"github.com/crowdwatch/crowdwatch/internal/storage"
	"github.com/crowdwatch/crowdwatch/internal/window"
)

// --- test helpers -----------------------------------------------------------

type noopPublisher struct{}

func (noopPublisher) Publish(risk.Event) {}

func newHandler(t *testing.T) (http.Handler, *storage.Memory) {
	t.Helper()
	st := storage.NewMemory()
	th := ingest.NewThresholds(risk.DefaultThresholds, nil)
	coord := ingest.New(window.NewMemory(10, 100), st, noopPublisher{}, th, 5*time.Minute, risk.DefaultDamping)
	return api.New(coord, st, nil, nil, nil), st
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

const sampleJSON = `{
	"tenantId": "t1", "siteId": "s1", "cameraId": "cam-1", "zoneId": "z1",
	"timestamp": "2026-08-23T10:00:00Z",
	"density": 0.8, "avgSpeed": 0.1, "speedVariance": 0.05,
	"flowEntropy": 0.9, "alignment": 0.2, "bottleneckIndex": 0.1
}`

// --- POST /api/v1/telemetry/ingest -------------------------------------------

func TestIngest_BareArray(t *testing.T) {
	h, st := newHandler(t)
	rr := post(t, h, "/api/v1/telemetry/ingest", "["+sampleJSON+"]")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var resp api.IngestResponse
	decode(t, rr, &resp)

	if resp.ProcessedCount != 1 {
		t.Errorf("processedCount: got %d, want 1", resp.ProcessedCount)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("events: got %d, want 1", len(resp.Events))
	}
	e := resp.Events[0]
	if e.RiskScore != 0.685 {
		t.Errorf("riskScore: got %v, want 0.685", e.RiskScore)
	}
	if e.RiskLevel != risk.LevelYellow {
		t.Errorf("riskLevel: got %v, want yellow", e.RiskLevel)
	}
	if st.SampleCount() != 1 || st.EventCount() != 1 {
		t.Errorf("persisted %d/%d records, want 1/1", st.SampleCount(), st.EventCount())
	}
}

func TestIngest_RecordsEnvelope(t *testing.T) {
	h, _ := newHandler(t)
	rr := post(t, h, "/api/v1/telemetry/ingest", `{"records": [`+sampleJSON+`, `+sampleJSON+`]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var resp api.IngestResponse
	decode(t, rr, &resp)
	if resp.ProcessedCount != 2 {
		t.Errorf("processedCount: got %d, want 2", resp.ProcessedCount)
	}
}

func TestIngest_TimestampWithoutOffsetIsUTC(t *testing.T) {
	h, _ := newHandler(t)
	body := strings.Replace(sampleJSON, "2026-08-23T10:00:00Z", "2026-08-23T10:00:00", 1)
	rr := post(t, h, "/api/v1/telemetry/ingest", "["+body+"]")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var resp api.IngestResponse
	decode(t, rr, &resp)
	// The sample ref encodes the parsed instant; a bare timestamp read as
	// local time would shift it.
	wantMs := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC).UnixMilli()
	wantRef := "cam-1/z1/" + strconv.FormatInt(wantMs, 10)
	if got := resp.Events[0].SourceSampleRef; got != wantRef {
		t.Errorf("sourceSampleRef: got %q, want %q", got, wantRef)
	}
}

func TestIngest_EmptyBatch(t *testing.T) {
	h, st := newHandler(t)
	for _, body := range []string{"[]", `{"records": []}`} {
		rr := post(t, h, "/api/v1/telemetry/ingest", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status for %q: got %d, want 400", body, rr.Code)
		}
	}
	if st.SampleCount() != 0 {
		t.Error("empty batches must not persist anything")
	}
}

func TestIngest_MalformedBody(t *testing.T) {
	h, _ := newHandler(t)
	for _, body := range []string{"", "not json", `{"records": "nope"}`, `[{"timestamp": "not-a-time"}]`} {
		rr := post(t, h, "/api/v1/telemetry/ingest", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status for %q: got %d, want 400", body, rr.Code)
		}
	}
}

func TestIngest_PersistenceFailureIsServerError(t *testing.T) {
	h, st := newHandler(t)
	st.FailWith = errors.New("disk full")

	rr := post(t, h, "/api/v1/telemetry/ingest", "["+sampleJSON+"]")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rr.Code)
	}
	if st.SampleCount() != 0 {
		t.Error("failed batch left records behind")
	}
}

func TestIngest_MethodNotAllowed(t *testing.T) {
	h, _ := newHandler(t)
	rr := get(t, h, "/api/v1/telemetry/ingest")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- GET /api/v1/events -------------------------------------------------------

func TestEvents_ZoneFilterAndLimit(t *testing.T) {
	h, _ := newHandler(t)

	other := strings.Replace(sampleJSON, `"zoneId": "z1"`, `"zoneId": "z2"`, 1)
	post(t, h, "/api/v1/telemetry/ingest", "["+sampleJSON+","+other+","+sampleJSON+"]")

	rr := get(t, h, "/api/v1/events?zone=z1")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var events []risk.Event
	decode(t, rr, &events)
	if len(events) != 2 {
		t.Fatalf("events: got %d, want 2", len(events))
	}
	for _, e := range events {
		if e.Zone != "z1" {
			t.Errorf("zone filter leaked event for %s", e.Zone)
		}
	}

	rr = get(t, h, "/api/v1/events?limit=1")
	decode(t, rr, &events)
	if len(events) != 1 {
		t.Errorf("limit=1: got %d events", len(events))
	}

	rr = get(t, h, "/api/v1/events?limit=0")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("limit=0: got %d, want 400", rr.Code)
	}
}

func TestEvents_EmptyStoreReturnsEmptyArray(t *testing.T) {
	h, _ := newHandler(t)
	rr := get(t, h, "/api/v1/events")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body: got %q, want []", body)
	}
}

// --- GET /api/v1/health ---------------------------------------------------------

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubDegrader struct{ degraded bool }

func (s stubDegrader) Degraded() bool { return s.degraded }

func TestHealth(t *testing.T) {
	st := storage.NewMemory()
	th := ingest.NewThresholds(risk.DefaultThresholds, nil)
	coord := ingest.New(window.NewMemory(10, 100), st, noopPublisher{}, th, 5*time.Minute, risk.DefaultDamping)

	tests := []struct {
		name       string
		db         api.Pinger
		win        api.Degrader
		wantStatus string
		wantWindow string
	}{
		{name: "all healthy", db: stubPinger{}, win: stubDegrader{}, wantStatus: "ok", wantWindow: "redis"},
		{name: "db down", db: stubPinger{err: errors.New("refused")}, win: stubDegrader{}, wantStatus: "degraded", wantWindow: "redis"},
		{name: "window fallback", db: stubPinger{}, win: stubDegrader{degraded: true}, wantStatus: "degraded", wantWindow: "fallback"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := api.New(coord, st, tc.db, tc.win, nil)
			rr := get(t, h, "/api/v1/health")
			if rr.Code != http.StatusOK {
				t.Fatalf("status: got %d, want 200", rr.Code)
			}
			var resp api.HealthResponse
			decode(t, rr, &resp)
			if resp.Status != tc.wantStatus {
				t.Errorf("status: got %q, want %q", resp.Status, tc.wantStatus)
			}
			if resp.WindowStore != tc.wantWindow {
				t.Errorf("windowStore: got %q, want %q", resp.WindowStore, tc.wantWindow)
			}
		})
	}
}
