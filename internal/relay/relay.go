package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix roots every weave subject; thread events publish on
// weave.thread.<threadID>.<kind>.
const SubjectPrefix = "weave"

// ScoreEvent is published for every accepted contribution so external
// listeners can follow live quality scores without a hub connection.
type ScoreEvent struct {
	NodeID     string  `json:"node_id"`
	ThreadID   string  `json:"thread_id"`
	ChannelKey string  `json:"channel_key"`
	AuthorID   string  `json:"author_id"`
	Score      float64 `json:"score"`
	Kind       string  `json:"kind"` // new-contribution or edit
	SentAtMs   int64   `json:"sent_at_utc_millis"`
}

// ThreadSubject builds the subject for one thread's event stream.
func ThreadSubject(threadID, kind string) string {
	return fmt.Sprintf("%s.thread.%s.%s", SubjectPrefix, threadID, kind)
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
