package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/ingest"
	"github.com/crowdwatch/crowdwatch/internal/risk"
	"github.com/crowdwatch/crowdwatch/internal/storage"
)

// maxBodyBytes bounds the ingest request body.
const maxBodyBytes = 4 << 20

// Pinger reports backend reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Degrader reports whether the window store runs on its fallback.
type Degrader interface {
	Degraded() bool
}

// Counter reports connected WebSocket subscribers.
type Counter interface {
	Count() int
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	coord  *ingest.Coordinator
	store  storage.Store
	db     Pinger   // nil when health should not probe the database
	window Degrader // nil when no failover wrapper is in play
	hub    Counter  // nil when fan-out is disabled
	mux    *http.ServeMux
}

// New creates a Handler wired to the coordinator and record store and
// registers all routes. db, window, and hub may be nil; the health endpoint
// then skips the corresponding probe.
func New(coord *ingest.Coordinator, store storage.Store, db Pinger, window Degrader, hub Counter) http.Handler {
	h := &Handler{coord: coord, store: store, db: db, window: window, hub: hub, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/telemetry/ingest", h.ingest)
	h.mux.HandleFunc("/api/v1/events", h.events)
	h.mux.HandleFunc("/api/v1/health", h.health)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// ingest handles POST /api/v1/telemetry/ingest — a telemetry batch, either
// a bare JSON array or the {"records": [...]} envelope.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	records, err := decodeBatch(body)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	batch := make([]risk.Telemetry, len(records))
	for i, rec := range records {
		batch[i] = rec.toDomain()
	}

	events, err := h.coord.Ingest(r.Context(), batch)
	switch {
	case errors.Is(err, ingest.ErrEmptyBatch):
		jsonErr(w, http.StatusBadRequest, "batch must contain at least one sample")
		return
	case err != nil:
		slog.Error("api: batch ingest failed", "samples", len(batch), "err", err)
		jsonErr(w, http.StatusInternalServerError, "batch not persisted; retry the full batch")
		return
	}

	jsonResp(w, http.StatusOK, IngestResponse{
		ProcessedCount: len(events),
		Events:         events,
	})
}

// decodeBatch accepts a bare array or the records envelope.
func decodeBatch(body []byte) ([]telemetryRecord, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, errors.New("empty request body")
	}

	if trimmed[0] == '[' {
		var records []telemetryRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, errors.New("malformed batch: " + err.Error())
		}
		return records, nil
	}

	var env ingestEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, errors.New("malformed batch: " + err.Error())
	}
	return env.Records, nil
}

// events handles GET /api/v1/events?zone=Z&limit=N — persisted risk events,
// newest first.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			jsonErr(w, http.StatusBadRequest, "limit must be in [1, 1000]")
			return
		}
		limit = n
	}

	events, err := h.store.RecentEvents(r.Context(), r.URL.Query().Get("zone"), limit)
	if err != nil {
		slog.Error("api: query events failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "query failed")
		return
	}
	if events == nil {
		events = []risk.Event{}
	}
	jsonResp(w, http.StatusOK, events)
}

// health handles GET /api/v1/health — liveness plus dependency status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{Status: "ok", Database: "ok", WindowStore: "redis"}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
		}
	}
	if h.window != nil && h.window.Degraded() {
		resp.Status = "degraded"
		resp.WindowStore = "fallback"
	}
	if h.hub != nil {
		resp.SubscriberCount = h.hub.Count()
	}

	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ------------------------------------------------------------------

func jsonResp(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: encode response", "err", err)
	}
}

func jsonErr(w http.ResponseWriter, status int, msg string) {
	jsonResp(w, status, errorResponse{Error: msg})
}
