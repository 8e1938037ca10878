// Package archive is the persistence hook for an external durable store.
// The core stays in-memory; when DATABASE_URL is configured, the archive
// mirrors contributions and stream messages into Postgres off the hot path
// and can replay a stored thread for a collaborator.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rosoideae/weave/internal/graph"
	"github.com/rosoideae/weave/internal/hub"
)

const (
	writeTimeout = 5 * time.Second
	queueSize    = 256
)

type Archive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	jobs chan func(context.Context)
	wg   sync.WaitGroup
	once sync.Once
}

func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Archive, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	a := &Archive{
		pool:   pool,
		logger: logger,
		jobs:   make(chan func(context.Context), queueSize),
	}
	a.wg.Add(1)
	go a.worker()
	return a, nil
}

// worker drains archive jobs so graph listeners never block on database I/O.
func (a *Archive) worker() {
	defer a.wg.Done()
	for fn := range a.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		fn(ctx)
		cancel()
	}
}

// enqueue hands a write to the worker. A full queue drops the write: the
// archive is a mirror, not the system of record, and eviction beats
// stalling an insert.
func (a *Archive) enqueue(fn func(context.Context)) {
	select {
	case a.jobs <- fn:
	default:
		a.logger.Warn("archive queue full, dropping write")
	}
}

func (a *Archive) Close() {
	a.once.Do(func() {
		close(a.jobs)
	})
	a.wg.Wait()
	a.pool.Close()
}

// Listener returns a graph listener that mirrors inserts and edits. rootOf
// resolves a node's thread id (graph.RootOf in production).
func (a *Archive) Listener(rootOf func(id string) (string, bool)) graph.Listener {
	return func(evt graph.Event) error {
		n := evt.Node
		threadID, _ := rootOf(n.ID)

		switch evt.Kind {
		case graph.EventCreated:
			a.enqueue(func(ctx context.Context) {
				if err := a.SaveNode(ctx, threadID, n); err != nil {
					a.logger.Error("failed to archive contribution", "node_id", n.ID, "error", err)
				}
			})
		case graph.EventEdited:
			a.enqueue(func(ctx context.Context) {
				if err := a.UpdateNodeText(ctx, n.ID, n.Text); err != nil {
					a.logger.Error("failed to archive edit", "node_id", n.ID, "error", err)
				}
			})
		}
		return nil
	}
}

// Deliver mirrors a broadcast message; the subscriber list is the
// transport's concern and is ignored here.
func (a *Archive) Deliver(msg hub.Message, _ []string) {
	a.enqueue(func(ctx context.Context) {
		if err := a.SaveMessage(ctx, msg); err != nil {
			a.logger.Error("failed to archive message", "message_id", msg.ID, "error", err)
		}
	})
}

func (a *Archive) SaveNode(ctx context.Context, threadID string, n graph.Node) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO contributions (id, thread_id, author_id, parent_id, body, score, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		n.ID, threadID, n.AuthorID, n.ParentID, n.Text, n.Score, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contribution: %w", err)
	}
	return nil
}

func (a *Archive) UpdateNodeText(ctx context.Context, id, text string) error {
	_, err := a.pool.Exec(ctx, `
		UPDATE contributions SET body = $1, edited_at = now() WHERE id = $2`,
		text, id,
	)
	if err != nil {
		return fmt.Errorf("update contribution: %w", err)
	}
	return nil
}

func (a *Archive) SaveMessage(ctx context.Context, m hub.Message) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO stream_messages (id, channel_key, originator_id, payload, category, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.ChannelKey, m.OriginatorID, m.Payload, m.Category, m.SentAt,
	)
	if err != nil {
		return fmt.Errorf("insert stream message: %w", err)
	}
	return nil
}

// ReplayThread loads a thread's archived contributions in creation order,
// for collaborators rebuilding an in-memory graph.
func (a *Archive) ReplayThread(ctx context.Context, threadID string) ([]graph.Node, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, author_id, COALESCE(parent_id, ''), body, score, created_at
		FROM contributions
		WHERE thread_id = $1
		ORDER BY created_at ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("query thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var nodes []graph.Node
	for rows.Next() {
		var n graph.Node
		if err := rows.Scan(&n.ID, &n.AuthorID, &n.ParentID, &n.Text, &n.Score, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read contributions: %w", err)
	}
	return nodes, nil
}
