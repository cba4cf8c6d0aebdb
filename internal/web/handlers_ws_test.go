package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"domestia-go-home/internal/coordinator"

	"nhooyr.io/websocket"
)

func newTestHub() *WSHub {
	return NewWSHub(newTestLogger())
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client

	// Give hub time to process
	time.Sleep(10 * time.Millisecond)

	if count := hub.Clients(); count != 1 {
		t.Errorf("after register: count = %d, want 1", count)
	}

	hub.unregister <- client

	time.Sleep(10 * time.Millisecond)

	if count := hub.Clients(); count != 0 {
		t.Errorf("after unregister: count = %d, want 0", count)
	}
}

func TestWSHubBroadcast(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	c1 := &wsClient{send: make(chan []byte, 16)}
	c2 := &wsClient{send: make(chan []byte, 16)}

	hub.register <- c1
	hub.register <- c2
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(coordinator.Event{Type: coordinator.EventPollCompleted})
	time.Sleep(10 * time.Millisecond)

	select {
	case msg := <-c1.send:
		if len(msg) == 0 {
			t.Error("c1 received empty message")
		}
	default:
		t.Error("c1 did not receive broadcast")
	}

	select {
	case msg := <-c2.send:
		if len(msg) == 0 {
			t.Error("c2 received empty message")
		}
	default:
		t.Error("c2 did not receive broadcast")
	}
}

func TestWSHubSlowClientEviction(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	slow := &wsClient{send: make(chan []byte, 1)}
	fast := &wsClient{send: make(chan []byte, 64)}

	hub.register <- slow
	hub.register <- fast
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(coordinator.Event{Type: coordinator.EventStateChanged})
	time.Sleep(10 * time.Millisecond)

	// The slow client's buffer is full now.
	hub.Broadcast(coordinator.Event{Type: coordinator.EventStateChanged})
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, slowPresent := hub.clients[slow]
	_, fastPresent := hub.clients[fast]
	hub.mu.RUnlock()

	if slowPresent {
		t.Error("slow client should have been evicted")
	}
	if !fastPresent {
		t.Error("fast client should still be present")
	}
}

func TestWSHubBroadcastDropsWhenFull(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	for i := 0; i < cap(hub.broadcast); i++ {
		hub.Broadcast(i)
	}

	done := make(chan struct{})
	go func() {
		hub.Broadcast("overflow")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("Broadcast blocked when channel is full")
	}
}

func TestWSHubStopIdempotent(t *testing.T) {
	hub := newTestHub()
	go hub.Run()

	hub.Stop()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("second Stop() panicked: %v", r)
		}
	}()
	hub.Stop()
}

func TestWSHubStopClosesClients(t *testing.T) {
	hub := newTestHub()
	go hub.Run()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Stop()
	time.Sleep(10 * time.Millisecond)

	_, ok := <-client.send
	if ok {
		t.Error("client.send should be closed after hub stop")
	}
}

func TestWSHubUnregisterNonExistentClient(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	unknown := &wsClient{send: make(chan []byte, 16)}
	hub.unregister <- unknown
	time.Sleep(10 * time.Millisecond)

	select {
	case unknown.send <- []byte("test"):
	default:
		t.Error("channel should still be open for non-registered client")
	}
}

func TestHandleWSMessage(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"refresh", `{"type":"refresh"}`, "ack"},
		{"command", `{"type":"command","id":0,"command":{"state":"ON"}}`, "ack"},
		{"command error", `{"type":"command","id":42,"command":{"state":"ON"}}`, "error"},
		{"unknown type", `{"type":"reboot"}`, "error"},
		{"garbage", `not json`, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := env.srv.handleWSMessage(ctx, []byte(tt.msg)); got.Type != tt.want {
				t.Errorf("reply = %+v, want type %s", got, tt.want)
			}
		})
	}
	if env.ctrl.lastSent() == nil {
		t.Error("command not sent")
	}
}

func TestWSSnapshotAndEvents(t *testing.T) {
	env := setupTestServer(t, nil)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() map[string]any {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		return msg
	}

	snap := read()
	if snap["type"] != "snapshot" {
		t.Fatalf("first message = %v, want snapshot", snap)
	}
	devices := snap["data"].(map[string]any)["devices"].([]any)
	if len(devices) != 5 {
		t.Errorf("snapshot devices = %d, want 5", len(devices))
	}

	for env.srv.wsHub.Clients() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if err := env.coord.TurnOn(ctx, 0); err != nil {
		t.Fatal(err)
	}

	// command_sent then state_changed, in emit order.
	if msg := read(); msg["type"] != coordinator.EventCommandSent {
		t.Errorf("message = %v, want command_sent", msg)
	}
	msg := read()
	if msg["type"] != coordinator.EventStateChanged {
		t.Fatalf("message = %v, want state_changed", msg)
	}
	if on := msg["data"].(map[string]any)["state"].(map[string]any)["on"]; on != true {
		t.Errorf("state.on = %v, want true", on)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"refresh"}`)); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg["type"] != "ack" {
		t.Errorf("reply = %v, want ack", msg)
	}
}
