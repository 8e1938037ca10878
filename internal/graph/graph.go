package graph

import (
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind tags graph events for downstream broadcast categories.
type EventKind string

const (
	EventCreated EventKind = "new-contribution"
	EventEdited  EventKind = "edit"
)

// Node is one contribution. Children holds child ids in creation order;
// nodes reference each other by id only, never by pointer.
type Node struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	ParentID  string    `json:"parent_id,omitempty"` // empty marks a root
	Children  []string  `json:"children,omitempty"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is delivered synchronously to registered listeners on insert and edit.
type Event struct {
	Kind EventKind
	Node Node
}

// Listener receives graph events. A listener error is reported and does not
// affect the operation that produced the event.
type Listener func(Event) error

// Graph owns the conversation nodes and their reply edges. All exported
// methods are safe for concurrent use.
type Graph struct {
	maxTextLen int
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.RWMutex
	nodes       map[string]*Node
	lastCreated time.Time

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func New(maxTextLen int, logger *slog.Logger) *Graph {
	return &Graph{
		maxTextLen: maxTextLen,
		logger:     logger,
		now:        time.Now,
		nodes:      make(map[string]*Node),
		listeners:  make(map[int]Listener),
	}
}

// OnEvent registers a listener and returns its removal func. Listeners are
// invoked synchronously, in registration order, after the mutation commits.
func (g *Graph) OnEvent(fn Listener) (remove func()) {
	g.lmu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.lmu.Unlock()

	return func() {
		g.lmu.Lock()
		delete(g.listeners, id)
		g.lmu.Unlock()
	}
}

// Insert validates and stores a new contribution, scores it, and notifies
// listeners. parentID may be empty for a root node; a non-empty parentID
// must reference an existing node or the insert fails with UnknownParentError.
func (g *Graph) Insert(authorID, text, parentID string) (Node, error) {
	if err := g.validateText(text); err != nil {
		return Node{}, err
	}

	g.mu.Lock()
	if parentID != "" {
		if _, ok := g.nodes[parentID]; !ok {
			g.mu.Unlock()
			return Node{}, &UnknownParentError{ParentID: parentID}
		}
	}

	// Creation timestamps never go backwards, even if the wall clock does.
	ts := g.now()
	if ts.Before(g.lastCreated) {
		ts = g.lastCreated
	}
	g.lastCreated = ts

	n := &Node{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Text:      text,
		ParentID:  parentID,
		Score:     Score(text),
		CreatedAt: ts,
	}
	g.nodes[n.ID] = n
	if parentID != "" {
		p := g.nodes[parentID]
		p.Children = append(p.Children, n.ID)
	}
	out := snapshot(n)
	g.mu.Unlock()

	g.notify(Event{Kind: EventCreated, Node: out})
	return out, nil
}

// Edit replaces the text of an existing contribution. Score and creation
// timestamp are deliberately left untouched.
func (g *Graph) Edit(id, text string) (Node, error) {
	if err := g.validateText(text); err != nil {
		return Node{}, err
	}

	g.mu.Lock()
	n, ok := g.nodes[id]
	if !ok {
		g.mu.Unlock()
		return Node{}, &UnknownNodeError{ID: id}
	}
	n.Text = text
	out := snapshot(n)
	g.mu.Unlock()

	g.notify(Event{Kind: EventEdited, Node: out})
	return out, nil
}

// Get returns a copy of the node, if present.
func (g *Graph) Get(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return snapshot(n), true
}

// Len returns the number of stored nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Ancestors yields the path from the thread root down to the named node.
// The walk follows parent links and stops at a root or at a dangling parent
// reference; a dangling reference is treated as if that node were a root.
// An unknown id yields an empty sequence. The sequence is finite for any
// acyclic graph and restartable: each range re-walks the current state.
func (g *Graph) Ancestors(id string) iter.Seq[Node] {
	return func(yield func(Node) bool) {
		path := g.pathToRoot(id)
		for i := len(path) - 1; i >= 0; i-- {
			if !yield(path[i]) {
				return
			}
		}
	}
}

// RootOf returns the id of the thread root reached by walking parent links
// from the named node, and false if the node is unknown.
func (g *Graph) RootOf(id string) (string, bool) {
	path := g.pathToRoot(id)
	if len(path) == 0 {
		return "", false
	}
	return path[len(path)-1].ID, true
}

// pathToRoot collects node copies from id up to the root (node-first order).
func (g *Graph) pathToRoot(id string) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var path []Node
	for id != "" {
		n, ok := g.nodes[id]
		if !ok {
			break
		}
		path = append(path, snapshot(n))
		id = n.ParentID
	}
	return path
}

// Velocity returns the contribution rate over the requested window:
// nodes created within the last windowHours hours, divided by windowHours.
// The divisor is the requested window, not elapsed observation time.
func (g *Graph) Velocity(windowHours float64) (float64, error) {
	if windowHours <= 0 {
		return 0, &InvalidWindowError{Hours: windowHours}
	}

	cutoff := g.now().Add(-time.Duration(windowHours * float64(time.Hour)))

	g.mu.RLock()
	count := 0
	for _, n := range g.nodes {
		if !n.CreatedAt.Before(cutoff) {
			count++
		}
	}
	g.mu.RUnlock()

	return float64(count) / windowHours, nil
}

func (g *Graph) validateText(text string) error {
	if text == "" {
		return &ValidationError{Reason: "text is empty"}
	}
	if g.maxTextLen > 0 && len(text) > g.maxTextLen {
		return &ValidationError{Reason: fmt.Sprintf("text exceeds %d bytes", g.maxTextLen)}
	}
	return nil
}

// notify invokes listeners outside the graph lock so a listener may call
// back into the graph. Listener errors and panics are logged, never fatal.
func (g *Graph) notify(evt Event) {
	g.lmu.Lock()
	ids := make([]int, 0, len(g.listeners))
	for id := range g.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, g.listeners[id])
	}
	g.lmu.Unlock()

	for _, fn := range fns {
		g.invoke(fn, evt)
	}
}

func (g *Graph) invoke(fn Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("graph listener panicked", "kind", string(evt.Kind), "node_id", evt.Node.ID, "panic", r)
		}
	}()
	if err := fn(evt); err != nil {
		g.logger.Warn("graph listener failed", "kind", string(evt.Kind), "node_id", evt.Node.ID, "error", err)
	}
}

// snapshot copies a node, including its children slice, so callers never
// share memory with the arena.
func snapshot(n *Node) Node {
	out := *n
	if n.Children != nil {
		out.Children = append([]string(nil), n.Children...)
	}
	return out
}
