// Package bridge forwards conversation graph events into streaming hub
// broadcasts and external score events. It is the only component that knows
// both sides.
package bridge

import (
	"encoding/json"
	"log/slog"

	"github.com/rosoideae/weave/internal/graph"
	"github.com/rosoideae/weave/internal/hub"
	"github.com/rosoideae/weave/internal/relay"
)

// Publisher pushes live score events to external listeners (NATS in
// production). May be nil when no relay is configured.
type Publisher interface {
	Publish(subject string, data any) error
}

// Deliverer fans a recorded broadcast out to subscriber connections. The
// implementation must not block: a slow subscriber is its own problem.
type Deliverer interface {
	Deliver(msg hub.Message, subscribers []string)
}

// Envelope is the outbound broadcast payload a transport delivers to each
// subscriber.
type Envelope struct {
	MessageType string          `json:"message_type"`
	ChannelKey  string          `json:"channel_key"`
	Payload     json.RawMessage `json:"payload"`
	SentAtMs    int64           `json:"sent_at_utc_millis"`
}

// nodePayload is the graph-event body carried inside the envelope.
type nodePayload struct {
	NodeID    string  `json:"node_id"`
	AuthorID  string  `json:"author_id"`
	Text      string  `json:"text"`
	ParentID  string  `json:"parent_id,omitempty"`
	ThreadID  string  `json:"thread_id"`
	Score     float64 `json:"score"`
	CreatedMs int64   `json:"created_at_utc_millis"`
}

type Bridge struct {
	graph      *graph.Graph
	hub        *hub.Hub
	publisher  Publisher
	logger     *slog.Logger
	deliverers []Deliverer
}

func New(g *graph.Graph, h *hub.Hub, pub Publisher, logger *slog.Logger, deliverers ...Deliverer) *Bridge {
	return &Bridge{
		graph:      g,
		hub:        h,
		publisher:  pub,
		logger:     logger,
		deliverers: deliverers,
	}
}

// Attach registers the bridge as a graph listener and returns the removal
// func for shutdown.
func (b *Bridge) Attach() (remove func()) {
	return b.graph.OnEvent(b.handle)
}

// ChannelKey names the hub channel for one thread.
func ChannelKey(threadID string) string {
	return "thread:" + threadID
}

// handle runs synchronously inside graph.Insert/Edit. It only records
// bookkeeping and enqueues: no transport I/O happens on this path.
func (b *Bridge) handle(evt graph.Event) error {
	threadID, ok := b.graph.RootOf(evt.Node.ID)
	if !ok {
		// The node vanished between mutation and notification; nothing to route.
		return nil
	}
	key := ChannelKey(threadID)

	payload, err := json.Marshal(nodePayload{
		NodeID:    evt.Node.ID,
		AuthorID:  evt.Node.AuthorID,
		Text:      evt.Node.Text,
		ParentID:  evt.Node.ParentID,
		ThreadID:  threadID,
		Score:     evt.Node.Score,
		CreatedMs: evt.Node.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}

	// nil means nobody ever subscribed to this thread's channel; the graph
	// insert still stands and external listeners still get their event.
	if msg := b.hub.Broadcast(key, evt.Node.AuthorID, payload, string(evt.Kind)); msg != nil {
		subs := b.hub.Subscribers(key)
		for _, d := range b.deliverers {
			d.Deliver(*msg, subs)
		}
	}

	if b.publisher != nil {
		scoreEvt := relay.ScoreEvent{
			NodeID:     evt.Node.ID,
			ThreadID:   threadID,
			ChannelKey: key,
			AuthorID:   evt.Node.AuthorID,
			Score:      evt.Node.Score,
			Kind:       string(evt.Kind),
			SentAtMs:   evt.Node.CreatedAt.UnixMilli(),
		}
		if err := b.publisher.Publish(relay.ThreadSubject(threadID, string(evt.Kind)), scoreEvt); err != nil {
			b.logger.Warn("failed to publish score event", "thread_id", threadID, "error", err)
		}
	}

	return nil
}

// WrapForTransport builds the subscriber-facing envelope for a recorded
// broadcast message.
func WrapForTransport(msg hub.Message) ([]byte, error) {
	return json.Marshal(Envelope{
		MessageType: msg.Category,
		ChannelKey:  msg.ChannelKey,
		Payload:     msg.Payload,
		SentAtMs:    msg.SentAt.UnixMilli(),
	})
}
