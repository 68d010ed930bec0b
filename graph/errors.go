package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound is returned when a node id is not present in a graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrValidation is returned when a graph document fails validation.
	ErrValidation = errors.New("graph validation failed")

	// ErrLoopLimit is returned when a loop edge exceeds its configured
	// iteration limit.
	ErrLoopLimit = errors.New("loop limit exceeded")

	// ErrNodeTimeout is returned when a node exceeds the per-node timeout.
	ErrNodeTimeout = errors.New("node timeout")

	// ErrInvalidState is returned when a tool returns a nil state.
	ErrInvalidState = errors.New("invalid state")

	// ErrCancelled is returned when a run is cancelled cooperatively.
	ErrCancelled = errors.New("run cancelled")

	// ErrExprNotAllowed is returned when an expression uses a construct
	// outside the sandboxed grammar.
	ErrExprNotAllowed = errors.New("expression not allowed")
)

// NodeError wraps a node failure together with the ready-made execution
// log entry describing it. The executor appends the log and transitions
// the run before surfacing the error.
type NodeError struct {
	Log ExecutionLog
	Err error
}

func (e *NodeError) Error() string {
	if e.Log.Error != "" {
		return e.Log.Error
	}
	if e.Log.Message != "" {
		return e.Log.Message
	}
	return "node execution failed"
}

func (e *NodeError) Unwrap() error { return e.Err }

// EvalError wraps a failure inside the expression evaluator, either a
// parse rejection or a runtime evaluation error.
type EvalError struct {
	Expression string
	Err        error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluating %q: %v", e.Expression, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }
