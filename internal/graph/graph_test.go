package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testGraph(t *testing.T) *Graph {
	t.Helper()
	return New(10000, slog.Default())
}

func TestInsert_Root(t *testing.T) {
	g := testGraph(t)

	n, err := g.Insert("author-1", "Hello world. Great news!", "")
	if err != nil {
		t.Fatalf("insert root: %v", err)
	}
	if n.ID == "" {
		t.Error("expected generated id")
	}
	if n.ParentID != "" {
		t.Errorf("expected root node, got parent %q", n.ParentID)
	}
	if n.Score != Score("Hello world. Great news!") {
		t.Errorf("score mismatch: %v", n.Score)
	}
	if n.CreatedAt.IsZero() {
		t.Error("expected creation timestamp")
	}
}

func TestInsert_ChildAppearsOnceInParent(t *testing.T) {
	g := testGraph(t)

	root, err := g.Insert("author-1", "root text", "")
	if err != nil {
		t.Fatalf("insert root: %v", err)
	}
	child, err := g.Insert("author-2", "reply text", root.ID)
	if err != nil {
		t.Fatalf("insert child: %v", err)
	}

	parent, ok := g.Get(root.ID)
	if !ok {
		t.Fatal("root disappeared")
	}
	count := 0
	for _, id := range parent.Children {
		if id == child.ID {
			count++
		}
	}
	if count != 1 {
		t.Errorf("child appears %d times in parent children, expected 1", count)
	}
}

func TestInsert_ChildOrderIsCreationOrder(t *testing.T) {
	g := testGraph(t)

	root, _ := g.Insert("a", "root", "")
	c1, _ := g.Insert("a", "first reply", root.ID)
	c2, _ := g.Insert("b", "second reply", root.ID)
	c3, _ := g.Insert("c", "third reply", root.ID)

	parent, _ := g.Get(root.ID)
	want := []string{c1.ID, c2.ID, c3.ID}
	if len(parent.Children) != len(want) {
		t.Fatalf("expected %d children, got %d", len(want), len(parent.Children))
	}
	for i, id := range want {
		if parent.Children[i] != id {
			t.Errorf("children[%d] = %s, expected %s", i, parent.Children[i], id)
		}
	}
}

func TestInsert_Validation(t *testing.T) {
	g := New(10, slog.Default())

	tests := []struct {
		name string
		text string
	}{
		{"empty text", ""},
		{"over-length text", strings.Repeat("x", 11)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Insert("author-1", tt.text, "")
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestInsert_UnknownParent(t *testing.T) {
	g := testGraph(t)

	_, err := g.Insert("author-1", "orphan attempt", "no-such-node")
	var perr *UnknownParentError
	if !errors.As(err, &perr) {
		t.Fatalf("expected UnknownParentError, got %v", err)
	}
	if perr.ParentID != "no-such-node" {
		t.Errorf("unexpected parent id in error: %s", perr.ParentID)
	}
	if g.Len() != 0 {
		t.Errorf("rejected insert must not store the node, graph has %d", g.Len())
	}
}

func TestEdit(t *testing.T) {
	g := testGraph(t)

	n, _ := g.Insert("author-1", "original text.", "")
	origScore := n.Score

	edited, err := g.Edit(n.ID, "rewritten entirely! much longer than before!")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Text != "rewritten entirely! much longer than before!" {
		t.Errorf("text not updated: %q", edited.Text)
	}
	if edited.Score != origScore {
		t.Errorf("edit must not recompute score: %v != %v", edited.Score, origScore)
	}
	if !edited.CreatedAt.Equal(n.CreatedAt) {
		t.Error("edit must not touch creation timestamp")
	}

	_, err = g.Edit("missing", "whatever")
	var uerr *UnknownNodeError
	if !errors.As(err, &uerr) {
		t.Errorf("expected UnknownNodeError, got %v", err)
	}
}

func TestAncestors_RootFirst(t *testing.T) {
	g := testGraph(t)

	root, _ := g.Insert("a", "root", "")
	mid, _ := g.Insert("b", "mid", root.ID)
	leaf, _ := g.Insert("c", "leaf", mid.ID)

	var ids []string
	for n := range g.Ancestors(leaf.ID) {
		ids = append(ids, n.ID)
	}

	want := []string{root.ID, mid.ID, leaf.ID}
	if len(ids) != len(want) {
		t.Fatalf("expected path of %d, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("path[%d] = %s, expected %s", i, ids[i], want[i])
		}
	}
}

func TestAncestors_Restartable(t *testing.T) {
	g := testGraph(t)

	root, _ := g.Insert("a", "root", "")
	leaf, _ := g.Insert("b", "leaf", root.ID)

	seq := g.Ancestors(leaf.ID)
	for pass := 0; pass < 2; pass++ {
		count := 0
		for range seq {
			count++
		}
		if count != 2 {
			t.Errorf("pass %d: expected 2 nodes, got %d", pass, count)
		}
	}
}

func TestAncestors_DanglingParentStopsWalk(t *testing.T) {
	g := testGraph(t)

	// A dangling parent reference cannot be produced through Insert; plant
	// one directly to exercise the trace behavior.
	g.nodes["orphan"] = &Node{ID: "orphan", ParentID: "ghost", Text: "x"}

	var ids []string
	for n := range g.Ancestors("orphan") {
		ids = append(ids, n.ID)
	}
	if len(ids) != 1 || ids[0] != "orphan" {
		t.Errorf("expected walk to stop at the dangling node, got %v", ids)
	}
}

func TestAncestors_UnknownNode(t *testing.T) {
	g := testGraph(t)

	count := 0
	for range g.Ancestors("missing") {
		count++
	}
	if count != 0 {
		t.Errorf("expected empty sequence for unknown id, got %d nodes", count)
	}
}

func TestRootOf(t *testing.T) {
	g := testGraph(t)

	root, _ := g.Insert("a", "root", "")
	mid, _ := g.Insert("b", "mid", root.ID)
	leaf, _ := g.Insert("c", "leaf", mid.ID)

	got, ok := g.RootOf(leaf.ID)
	if !ok || got != root.ID {
		t.Errorf("RootOf(leaf) = %s, %v; expected %s, true", got, ok, root.ID)
	}
	if _, ok := g.RootOf("missing"); ok {
		t.Error("RootOf must report unknown ids")
	}
}

func TestVelocity(t *testing.T) {
	g := testGraph(t)
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	// Three nodes inside a 2h window, one outside.
	offsets := []time.Duration{-3 * time.Hour, -90 * time.Minute, -30 * time.Minute, -time.Minute}
	for i, off := range offsets {
		g.now = func() time.Time { return base.Add(off) }
		if _, err := g.Insert("a", fmt.Sprintf("node %d", i), ""); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	g.now = func() time.Time { return base }

	v, err := g.Velocity(2)
	if err != nil {
		t.Fatalf("velocity: %v", err)
	}
	if v != 1.5 {
		t.Errorf("velocity = %v, expected 1.5 (3 nodes / 2h)", v)
	}
}

func TestVelocity_InvalidWindow(t *testing.T) {
	g := testGraph(t)

	for _, w := range []float64{0, -1, -0.5} {
		_, err := g.Velocity(w)
		var werr *InvalidWindowError
		if !errors.As(err, &werr) {
			t.Errorf("Velocity(%v): expected InvalidWindowError, got %v", w, err)
		}
	}
}

func TestTimestamps_MonotonicallyNonDecreasing(t *testing.T) {
	g := testGraph(t)
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	g.now = func() time.Time { return base }
	first, _ := g.Insert("a", "first", "")

	// Wall clock steps backwards; creation time must not.
	g.now = func() time.Time { return base.Add(-time.Minute) }
	second, _ := g.Insert("a", "second", "")

	if second.CreatedAt.Before(first.CreatedAt) {
		t.Errorf("creation timestamps regressed: %v < %v", second.CreatedAt, first.CreatedAt)
	}
}

func TestListeners(t *testing.T) {
	g := testGraph(t)

	var events []Event
	remove := g.OnEvent(func(evt Event) error {
		events = append(events, evt)
		return nil
	})

	n, err := g.Insert("author-1", "hello there.", "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventCreated || events[0].Node.ID != n.ID {
		t.Fatalf("expected one created event for %s, got %+v", n.ID, events)
	}

	if _, err := g.Edit(n.ID, "changed."); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if len(events) != 2 || events[1].Kind != EventEdited {
		t.Fatalf("expected edited event, got %+v", events)
	}

	remove()
	if _, err := g.Insert("author-1", "after removal", ""); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("removed listener still invoked, %d events", len(events))
	}
}

func TestListeners_RegistrationOrderSurvivesRemoval(t *testing.T) {
	g := testGraph(t)

	var order []int
	g.OnEvent(func(Event) error { order = append(order, 1); return nil })
	removeSecond := g.OnEvent(func(Event) error { order = append(order, 2); return nil })
	g.OnEvent(func(Event) error { order = append(order, 3); return nil })
	removeSecond()

	if _, err := g.Insert("a", "hello.", ""); err != nil {
		t.Fatalf("insert: %v", err)
	}

	want := []int{1, 3}
	if len(order) != len(want) {
		t.Fatalf("expected %d invocations, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("invocation[%d] = %d, expected %d", i, order[i], want[i])
		}
	}
}

func TestListenerFailure_DoesNotRollBackInsert(t *testing.T) {
	g := testGraph(t)

	g.OnEvent(func(Event) error { return errors.New("listener boom") })
	g.OnEvent(func(Event) error { panic("listener panic") })

	called := false
	g.OnEvent(func(Event) error {
		called = true
		return nil
	})

	n, err := g.Insert("author-1", "still stored.", "")
	if err != nil {
		t.Fatalf("insert must succeed despite listener failures: %v", err)
	}
	if _, ok := g.Get(n.ID); !ok {
		t.Error("node missing after listener failure")
	}
	if !called {
		t.Error("later listeners must still run after an earlier failure")
	}
}
