// Package ws implements the WebSocket fan-out hub for risk events.
//
// Clients connect at /ws/stream and manage their group membership with
// control messages:
//
//	{"action": "subscribe",   "scope": "zone", "id": "lobby-north"}
//	{"action": "subscribe",   "scope": "site", "id": "hq"}
//	{"action": "unsubscribe", "scope": "zone", "id": "lobby-north"}
//
// Publish delivers each risk event to the event's zone group and site group
// (site subscribers implicitly receive all zones of that site). Delivery is
// fire-and-forget: a slow client whose buffer fills is disconnected, never
// blocking the publisher. Membership lives only as long as the connection.
//
// Message pushed to clients:
//
//	{"event": "risk_event", "data": { /* full risk event */ }}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
