package graph

import "context"

// ToolFunc is the callable signature for workflow nodes. A tool receives
// the run's state and returns the (usually same, mutated) state. The
// executor always invokes tools on a worker goroutine, so a tool may block;
// it should watch ctx for cooperative cancellation and timeouts.
type ToolFunc func(ctx context.Context, state *WorkflowState) (*WorkflowState, error)

// BranchFunc evaluates a branch edge condition against the run's state.
type BranchFunc func(state *WorkflowState) bool

// Node is a runtime workflow node wrapping an executable tool. Callable
// is the registry name the tool was resolved from; it is set when the node
// comes from a document and is what serializes back out.
type Node struct {
	ID       string
	Name     string
	Func     ToolFunc
	Callable string
	Metadata map[string]any
}

// NewNode constructs a Node. An empty name defaults to the node id.
func NewNode(id, name string, fn ToolFunc, metadata map[string]any) Node {
	if name == "" {
		name = id
	}
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return Node{ID: id, Name: name, Func: fn, Metadata: metadata}
}
