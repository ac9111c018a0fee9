package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crowdwatch/crowdwatch/internal/risk"
	wsHub "github.com/crowdwatch/crowdwatch/internal/ws"
)

// --- helpers ----------------------------------------------------------------

// startHub starts a test HTTP server with the hub as its handler.
// Returns the ws:// URL and the hub.
func startHub(t *testing.T) (string, *wsHub.Hub) {
	t.Helper()

	hub := wsHub.New()
	ctx, cancel := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// subscribe sends a control message and waits briefly for the hub to apply it.
func subscribe(t *testing.T, conn *websocket.Conn, action, scope, id string) {
	t.Helper()
	msg := map[string]string{"action": action, "scope": scope, "id": id}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("send control message: %v", err)
	}
	// Control messages are applied asynchronously by the read pump.
	time.Sleep(50 * time.Millisecond)
}

// readEvent reads one pushed risk event from conn with a short deadline.
func readEvent(t *testing.T, conn *websocket.Conn) risk.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m wsHub.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, raw)
	}
	if m.Event != "risk_event" {
		t.Fatalf("event: got %q, want risk_event", m.Event)
	}
	return m.Data
}

// expectSilence asserts that no message arrives on conn within the wait.
func expectSilence(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no message, got: %s", raw)
	}
}

func event(zone, site string) risk.Event {
	return risk.Event{
		ID: "evt-" + zone, Tenant: "t1", Site: site, Camera: "cam-1", Zone: zone,
		CreatedAt: time.Now().UTC(), RiskScore: 0.685, RiskLevel: risk.LevelYellow,
		SuggestedActions: []string{"reduce_inflow"},
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_ZoneSubscriberReceivesOnlyItsZone(t *testing.T) {
	wsURL, hub := startHub(t)
	conn := dial(t, wsURL)
	subscribe(t, conn, "subscribe", "zone", "z1")

	hub.Publish(event("z1", "s1"))
	got := readEvent(t, conn)
	if got.Zone != "z1" {
		t.Errorf("zone: got %q, want z1", got.Zone)
	}
	if got.RiskLevel != risk.LevelYellow {
		t.Errorf("riskLevel: got %v, want yellow", got.RiskLevel)
	}

	hub.Publish(event("z2", "s1"))
	expectSilence(t, conn, 300*time.Millisecond)
}

func TestHub_SiteSubscriberReceivesAllZonesOfSite(t *testing.T) {
	wsURL, hub := startHub(t)
	conn := dial(t, wsURL)
	subscribe(t, conn, "subscribe", "site", "s1")

	hub.Publish(event("z1", "s1"))
	hub.Publish(event("z2", "s1"))

	first := readEvent(t, conn)
	second := readEvent(t, conn)
	zones := map[string]bool{first.Zone: true, second.Zone: true}
	if !zones["z1"] || !zones["z2"] {
		t.Errorf("site subscriber saw zones %v, want z1 and z2", zones)
	}

	hub.Publish(event("z9", "other-site"))
	expectSilence(t, conn, 300*time.Millisecond)
}

func TestHub_UnsubscribedConnectionReceivesNothing(t *testing.T) {
	wsURL, hub := startHub(t)
	conn := dial(t, wsURL) // connected but never subscribes

	hub.Publish(event("z1", "s1"))
	expectSilence(t, conn, 300*time.Millisecond)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	wsURL, hub := startHub(t)
	conn := dial(t, wsURL)
	subscribe(t, conn, "subscribe", "zone", "z1")

	hub.Publish(event("z1", "s1"))
	readEvent(t, conn)

	subscribe(t, conn, "unsubscribe", "zone", "z1")
	hub.Publish(event("z1", "s1"))
	expectSilence(t, conn, 300*time.Millisecond)
}

func TestHub_ZoneAndSiteOverlapDeliversOnce(t *testing.T) {
	wsURL, hub := startHub(t)
	conn := dial(t, wsURL)
	subscribe(t, conn, "subscribe", "zone", "z1")
	subscribe(t, conn, "subscribe", "site", "s1")

	hub.Publish(event("z1", "s1"))
	readEvent(t, conn)
	// Deduplicated: the overlapping membership yields exactly one copy.
	expectSilence(t, conn, 300*time.Millisecond)
}

func TestHub_MalformedControlMessagesIgnored(t *testing.T) {
	wsURL, hub := startHub(t)
	conn := dial(t, wsURL)

	for _, raw := range []string{"not json", `{"action":"subscribe","scope":"galaxy","id":"x"}`, `{"action":"subscribe","scope":"zone","id":""}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	// Connection survives and a valid subscribe still works.
	subscribe(t, conn, "subscribe", "zone", "z1")
	hub.Publish(event("z1", "s1"))
	if got := readEvent(t, conn); got.Zone != "z1" {
		t.Errorf("zone: got %q, want z1", got.Zone)
	}
}

func TestHub_ConcurrentPublishAndDisconnect(t *testing.T) {
	// Subscribers churn while publishers hammer their group. Disconnects
	// race with in-flight deliveries; none of them may panic the hub, and
	// every connection must be cleaned up.
	wsURL, hub := startHub(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.Publish(event("z1", "s1"))
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		conn := dial(t, wsURL)
		msg := map[string]string{"action": "subscribe", "scope": "zone", "id": "z1"}
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
		conn.Close()
	}

	close(stop)
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after churn: got %d, want 0", n)
	}
}

func TestHub_CountTracksConnections(t *testing.T) {
	wsURL, hub := startHub(t)

	if n := hub.Count(); n != 0 {
		t.Fatalf("Count: got %d, want 0", n)
	}
	conn := dial(t, wsURL)
	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 1 {
		t.Errorf("Count after dial: got %d, want 1", n)
	}
	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after close: got %d, want 0", n)
	}
}
