package graph

import "fmt"

// ValidationError reports malformed contribution input (empty or over-length text).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid contribution: " + e.Reason
}

// UnknownParentError reports an insert whose parent id does not reference a
// stored node. There is no implicit root fallback: the caller either omits
// the parent or names one that exists.
type UnknownParentError struct {
	ParentID string
}

func (e *UnknownParentError) Error() string {
	return fmt.Sprintf("unknown parent node %q", e.ParentID)
}

// UnknownNodeError reports an operation against a node id that is not in the graph.
type UnknownNodeError struct {
	ID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown node %q", e.ID)
}

// InvalidWindowError reports a non-positive velocity window.
type InvalidWindowError struct {
	Hours float64
}

func (e *InvalidWindowError) Error() string {
	return fmt.Sprintf("velocity window must be positive, got %g", e.Hours)
}
