package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNilHubBroadcast(t *testing.T) {
	var h *Hub
	h.Broadcast(Event{Type: DeployState}) // must not panic
}

func TestBroadcastReachesClient(t *testing.T) {
	h := New(nil)
	go h.Run()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnect))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", h.Clients())
	}

	h.Broadcast(Event{Type: DeployCompleted, App: "shop", Payload: map[string]string{"slot": "B"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt struct {
		Type    string            `json:"type"`
		App     string            `json:"app"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Type != DeployCompleted || evt.App != "shop" || evt.Payload["slot"] != "B" {
		t.Errorf("event = %+v", evt)
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	h := New(nil) // Run not started, so nothing drains the queue
	for i := 0; i < 300; i++ {
		h.Broadcast(Event{Type: ProbeAttempt})
	}
	if len(h.broadcast) != cap(h.broadcast) {
		t.Errorf("queue len = %d, want %d", len(h.broadcast), cap(h.broadcast))
	}
}
