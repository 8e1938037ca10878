package gateway

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/rosoideae/weave/internal/hub"
)

func TestParseControlFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		action  string
	}{
		{"subscribe", `{"action":"SUBSCRIBE_CHANNEL","channel_key":"thread:t1"}`, false, ActionSubscribe},
		{"unsubscribe", `{"action":"UNSUBSCRIBE_CHANNEL","channel_key":"thread:t1"}`, false, ActionUnsubscribe},
		{"ping", `{"action":"PING"}`, false, ActionPing},
		{"subscribe without channel", `{"action":"SUBSCRIBE_CHANNEL"}`, true, ""},
		{"unknown action", `{"action":"DANCE"}`, true, ""},
		{"not json", `subscribe please`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := ParseControlFrame([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %s", tt.data)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if frame.Action != tt.action {
				t.Errorf("action = %s, expected %s", frame.Action, tt.action)
			}
		})
	}
}

func testGateway(t *testing.T) (*Gateway, *hub.Hub) {
	t.Helper()
	h := hub.New(100, 1000, slog.Default())
	return New(h, nil, slog.Default()), h
}

// registerClient plants a socketless client so delivery can be observed
// through its send queue.
func registerClient(g *Gateway, id string, buffer int) *client {
	c := &client{id: id, send: make(chan []byte, buffer)}
	g.mu.Lock()
	g.clients[id] = c
	g.mu.Unlock()
	return c
}

func TestDeliver_EnqueuesEnvelope(t *testing.T) {
	g, _ := testGateway(t)
	c := registerClient(g, "c1", 4)

	msg := hub.Message{
		ID:         "m1",
		ChannelKey: "thread:t1",
		Payload:    []byte(`{"node_id":"n1"}`),
		SentAt:     time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
		Category:   "new-contribution",
	}
	g.Deliver(msg, []string{"c1", "absent"})

	select {
	case data := <-c.send:
		var env struct {
			MessageType string          `json:"message_type"`
			ChannelKey  string          `json:"channel_key"`
			Payload     json.RawMessage `json:"payload"`
			SentAtMs    int64           `json:"sent_at_utc_millis"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("envelope not JSON: %v", err)
		}
		if env.MessageType != "new-contribution" || env.ChannelKey != "thread:t1" {
			t.Errorf("unexpected envelope %+v", env)
		}
		if env.SentAtMs != msg.SentAt.UnixMilli() {
			t.Errorf("sent_at = %d, expected %d", env.SentAtMs, msg.SentAt.UnixMilli())
		}
	default:
		t.Fatal("nothing delivered")
	}
}

func TestDeliver_SlowSubscriberDoesNotBlock(t *testing.T) {
	g, _ := testGateway(t)
	slow := registerClient(g, "slow", 1)
	fast := registerClient(g, "fast", 4)

	msg := hub.Message{ID: "m1", ChannelKey: "thread:t1", Payload: []byte(`{}`)}

	done := make(chan struct{})
	go func() {
		// Three deliveries against a queue of one: overflow must drop, not block.
		for i := 0; i < 3; i++ {
			g.Deliver(msg, []string{"slow", "fast"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked on a slow subscriber")
	}

	if got := len(slow.send); got != 1 {
		t.Errorf("slow queue = %d, expected 1 retained message", got)
	}
	if got := len(fast.send); got != 3 {
		t.Errorf("fast queue = %d, expected all 3", got)
	}
}

func TestHandleFrame_RoutesToHub(t *testing.T) {
	g, h := testGateway(t)
	h.Connect("c1", nil)
	c := registerClient(g, "c1", 1)

	g.handleFrame(c, ControlFrame{Action: ActionSubscribe, ChannelKey: "thread:t1"})
	subs := h.Subscribers("thread:t1")
	if len(subs) != 1 || subs[0] != "c1" {
		t.Fatalf("expected [c1] subscribed, got %v", subs)
	}

	g.handleFrame(c, ControlFrame{Action: ActionUnsubscribe, ChannelKey: "thread:t1"})
	if h.Subscribers("thread:t1") != nil {
		t.Error("expected channel gone after unsubscribe")
	}
}

func TestDrop_CurrentClientDisconnectsFromHub(t *testing.T) {
	g, h := testGateway(t)
	h.Connect("c1", nil)
	c := registerClient(g, "c1", 1)

	g.drop(c)

	if h.Subscribe("c1", "thread:t1") {
		t.Error("dropped connection must be gone from the hub")
	}
	g.mu.Lock()
	_, still := g.clients["c1"]
	g.mu.Unlock()
	if still {
		t.Error("dropped client must be unregistered")
	}
}

func TestDrop_ReplacedSocketKeepsFreshRegistration(t *testing.T) {
	g, h := testGateway(t)

	h.Connect("c1", nil)
	old := registerClient(g, "c1", 1)

	// Reconnect with the same id: the hub registration is refreshed and the
	// gateway replaces the socket. Tearing down the old socket afterwards
	// must not disconnect the fresh registration.
	h.Connect("c1", nil)
	fresh := registerClient(g, "c1", 1)

	g.drop(old)

	if !h.Subscribe("c1", "thread:t1") {
		t.Fatal("fresh connection lost its hub registration to the old socket's teardown")
	}
	g.mu.Lock()
	got := g.clients["c1"]
	g.mu.Unlock()
	if got != fresh {
		t.Error("fresh client must stay registered after the old socket drops")
	}
}

type denyAll struct{}

func (denyAll) IsAuthorized(string, string) bool { return false }

func TestHandleFrame_SubscribeDenied(t *testing.T) {
	h := hub.New(100, 1000, slog.Default())
	g := New(h, denyAll{}, slog.Default())
	h.Connect("c1", nil)
	c := registerClient(g, "c1", 1)

	g.handleFrame(c, ControlFrame{Action: ActionSubscribe, ChannelKey: "thread:t1"})
	if h.Subscribers("thread:t1") != nil {
		t.Error("denied caller must not be subscribed")
	}
}
