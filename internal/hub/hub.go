package hub

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CategoryStandard is the default message category.
const CategoryStandard = "standard"

// Message is one unit of broadcast. Messages are immutable once created and
// live only in channel history and the global ring buffer; the hub does not
// persist them.
type Message struct {
	ID           string    `json:"id"`
	ChannelKey   string    `json:"channel_key"`
	OriginatorID string    `json:"originator_id"`
	Payload      []byte    `json:"payload"`
	SentAt       time.Time `json:"sent_at"`
	Category     string    `json:"category"`
}

// ChannelMetrics is a consistent snapshot of one channel's activity.
type ChannelMetrics struct {
	SubscriberCount     int       `json:"subscriber_count"`
	TotalMessages       int       `json:"total_messages"`
	MessagesLastHour    int       `json:"messages_last_hour"`
	DistinctOriginators int       `json:"distinct_originators"`
	LastActivity        time.Time `json:"last_activity"`
	RatePerMinute       float64   `json:"rate_per_minute"`
}

type channel struct {
	key          string
	subscribers  map[string]struct{}
	history      []Message
	lastActivity time.Time
}

type connection struct {
	id            string
	channels      map[string]struct{}
	lastHeartbeat time.Time
	capabilities  []string
}

// Hub owns channel subscriptions, connection liveness, and bounded message
// history. All state sits behind one mutex: every mutating operation is
// atomic with respect to every other, and reads see consistent snapshots.
//
// Broadcast only records routing state; it never blocks on delivery. The
// transport layer reads the returned message and pushes it to subscribers.
type Hub struct {
	historyCap int
	globalCap  int
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	channels map[string]*channel
	conns    map[string]*connection
	global   *ring
	closed   bool
}

func New(historyCap, globalCap int, logger *slog.Logger) *Hub {
	if historyCap <= 0 {
		historyCap = 100
	}
	if globalCap <= 0 {
		globalCap = 1000
	}
	return &Hub{
		historyCap: historyCap,
		globalCap:  globalCap,
		logger:     logger,
		now:        time.Now,
		channels:   make(map[string]*channel),
		conns:      make(map[string]*connection),
		global:     newRing(globalCap),
	}
}

// Connect registers a connection. Re-connecting with an existing id resets
// its channel set to empty (cascading channel teardown) and refreshes the
// heartbeat. Capabilities come from the access-control collaborator and are
// held read-only.
func (h *Hub) Connect(connID string, capabilities []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	if existing, ok := h.conns[connID]; ok {
		h.detachAllLocked(existing)
	}
	h.conns[connID] = &connection{
		id:            connID,
		channels:      make(map[string]struct{}),
		lastHeartbeat: h.now(),
		capabilities:  append([]string(nil), capabilities...),
	}
}

// Disconnect removes the connection from every subscribed channel, tearing
// down channels left empty, then forgets the connection. No-op if unknown.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	h.detachAllLocked(conn)
	delete(h.conns, connID)
}

// Subscribe adds the connection to the channel, creating the channel on
// first subscription. Returns false for an unknown connection. Idempotent.
func (h *Hub) Subscribe(connID, channelKey string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	conn, ok := h.conns[connID]
	if !ok {
		return false
	}

	ch, ok := h.channels[channelKey]
	if !ok {
		ch = &channel{
			key:         channelKey,
			subscribers: make(map[string]struct{}),
		}
		h.channels[channelKey] = ch
	}
	ch.subscribers[connID] = struct{}{}
	conn.channels[channelKey] = struct{}{}
	conn.lastHeartbeat = h.now()
	return true
}

// Unsubscribe removes the connection from the channel, tearing the channel
// down if it becomes empty. Returns false if either side is unknown.
func (h *Hub) Unsubscribe(connID, channelKey string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return false
	}
	ch, ok := h.channels[channelKey]
	if !ok {
		return false
	}

	delete(ch.subscribers, connID)
	delete(conn.channels, channelKey)
	conn.lastHeartbeat = h.now()
	if len(ch.subscribers) == 0 {
		delete(h.channels, channelKey)
	}
	return true
}

// Touch refreshes a connection's heartbeat (explicit ping). Returns false
// for an unknown connection.
func (h *Hub) Touch(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return false
	}
	conn.lastHeartbeat = h.now()
	return true
}

// Broadcast records a message on the channel and in the global ring buffer,
// evicting oldest entries past capacity, and returns the message. It returns
// nil when the channel does not exist: a channel is only created by a
// subscription, so a broadcast with no listener ever registered is a no-op.
// Delivery to subscribers is the transport layer's job.
func (h *Hub) Broadcast(channelKey, originatorID string, payload []byte, category string) *Message {
	if category == "" {
		category = CategoryStandard
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	ch, ok := h.channels[channelKey]
	if !ok {
		return nil
	}

	msg := Message{
		ID:           uuid.NewString(),
		ChannelKey:   channelKey,
		OriginatorID: originatorID,
		Payload:      payload,
		SentAt:       h.now(),
		Category:     category,
	}

	ch.history = append(ch.history, msg)
	if len(ch.history) > h.historyCap {
		ch.history = ch.history[len(ch.history)-h.historyCap:]
	}
	ch.lastActivity = msg.SentAt
	h.global.push(msg)

	out := msg
	return &out
}

// SweepStale disconnects every connection whose heartbeat is older than the
// threshold and returns the evicted ids. The whole sweep runs under the hub
// lock, so a heartbeat lands either before the scan (connection retained)
// or after it completes (connection already gone) — never half of each.
func (h *Hub) SweepStale(threshold time.Duration) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-threshold)
	var evicted []string
	for id, conn := range h.conns {
		if conn.lastHeartbeat.Before(cutoff) {
			h.detachAllLocked(conn)
			delete(h.conns, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// RunSweeper sweeps stale connections on a fixed interval until ctx is done.
// Intended to run as a background goroutine.
func (h *Hub) RunSweeper(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := h.SweepStale(threshold); len(evicted) > 0 {
				h.logger.Info("swept stale connections", "count", len(evicted), "ids", evicted)
			}
		}
	}
}

// Metrics returns a snapshot of channel activity, or nil if the channel is
// absent. Rate is messages in the last hour divided by 60 (per minute).
func (h *Hub) Metrics(channelKey string) *ChannelMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[channelKey]
	if !ok {
		return nil
	}

	hourAgo := h.now().Add(-time.Hour)
	lastHour := 0
	originators := make(map[string]struct{})
	for _, m := range ch.history {
		if m.SentAt.After(hourAgo) {
			lastHour++
		}
		originators[m.OriginatorID] = struct{}{}
	}

	return &ChannelMetrics{
		SubscriberCount:     len(ch.subscribers),
		TotalMessages:       len(ch.history),
		MessagesLastHour:    lastHour,
		DistinctOriginators: len(originators),
		LastActivity:        ch.lastActivity,
		RatePerMinute:       float64(lastHour) / 60,
	}
}

// Subscribers returns the sorted subscriber ids of a channel, or nil if the
// channel is absent.
func (h *Hub) Subscribers(channelKey string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[channelKey]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ch.subscribers))
	for id := range ch.subscribers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// History returns a copy of the channel's buffered messages, oldest-first,
// or nil if the channel is absent.
func (h *Hub) History(channelKey string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[channelKey]
	if !ok {
		return nil
	}
	return append([]Message(nil), ch.history...)
}

// Recent returns up to n of the newest messages from the global ring buffer,
// oldest-first.
func (h *Hub) Recent(n int) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	items := h.global.items()
	if n > 0 && len(items) > n {
		items = items[len(items)-n:]
	}
	return items
}

// Capabilities returns the capability set granted to a connection.
func (h *Hub) Capabilities(connID string) ([]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), conn.capabilities...), true
}

// Counts reports the number of live connections and channels.
func (h *Hub) Counts() (connections, channels int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns), len(h.channels)
}

// Close releases all channels and connections. Mutating calls after Close
// are no-ops; the background sweeper stops via its context.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.channels = make(map[string]*channel)
	h.conns = make(map[string]*connection)
	h.global = newRing(h.globalCap)
}

// detachAllLocked removes the connection from every channel it subscribes
// to, tearing down channels left empty. Caller holds h.mu.
func (h *Hub) detachAllLocked(conn *connection) {
	for key := range conn.channels {
		ch, ok := h.channels[key]
		if !ok {
			continue
		}
		delete(ch.subscribers, conn.id)
		if len(ch.subscribers) == 0 {
			delete(h.channels, key)
		}
	}
	conn.channels = make(map[string]struct{})
}
