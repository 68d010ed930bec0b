package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/smallnest/workflowgo/log"
)

// LogStatus is the outcome classification of a single node execution.
type LogStatus string

const (
	LogSuccess   LogStatus = "success"
	LogFailed    LogStatus = "failed"
	LogCancelled LogStatus = "cancelled"
)

// ExecutionLog is the structured record of one node execution (or of the
// run-level cancellation sentinel, which uses node_id "executor").
type ExecutionLog struct {
	NodeID    string    `json:"node_id"`
	Status    LogStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ExecutionResult aggregates the outcome of a whole run.
type ExecutionResult struct {
	RunID      string         `json:"run_id"`
	FinalState *WorkflowState `json:"final_state"`
	Logs       []ExecutionLog `json:"logs"`
}

const (
	// DefaultNodeTimeout bounds a single node execution.
	DefaultNodeTimeout = 30 * time.Second
	// DefaultCancelPollInterval is how often a running node is checked
	// against the cancel checker.
	DefaultCancelPollInterval = 100 * time.Millisecond

	defaultPoolSize = 64
)

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithNodeTimeout sets the per-node execution timeout. Zero disables it.
func WithNodeTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.nodeTimeout = d }
}

// WithCancelPollInterval sets the cancellation polling interval.
func WithCancelPollInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.cancelPoll = d }
}

// WithPoolSize sets the worker pool capacity for node execution.
func WithPoolSize(n int) ExecutorOption {
	return func(e *Executor) { e.poolSize = n }
}

// WithLogger sets the executor's logger.
func WithLogger(l log.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// Executor walks a graph from its start node, running each node on a
// shared worker pool with a per-node timeout and cooperative
// cancellation, then selecting the successor from the node's outgoing
// edges in declaration order.
type Executor struct {
	pool        *ants.Pool
	nodeTimeout time.Duration
	cancelPoll  time.Duration
	poolSize    int
	logger      log.Logger
}

// NewExecutor creates an executor and its worker pool.
func NewExecutor(opts ...ExecutorOption) (*Executor, error) {
	e := &Executor{
		nodeTimeout: DefaultNodeTimeout,
		cancelPoll:  DefaultCancelPollInterval,
		poolSize:    defaultPoolSize,
		logger:      log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cancelPoll <= 0 {
		e.cancelPoll = DefaultCancelPollInterval
	}
	pool, err := ants.NewPool(e.poolSize)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	e.pool = pool
	return e, nil
}

// Close releases the worker pool. In-flight nodes finish first.
func (e *Executor) Close() {
	if e.pool != nil {
		e.pool.Release()
	}
}

type loopKey struct {
	source string
	target string
}

// Run executes the graph against the state. Every node execution produces
// an ExecutionLog that is appended to the result and, when logHook is
// non-nil, delivered to it as the run progresses. cancelChecker, when
// non-nil, is consulted before each node and polled while a node runs;
// once it reports true the run stops with the state marked cancelled.
//
// The returned ExecutionResult is non-nil even on error, carrying the
// logs and state accumulated up to the failure.
func (e *Executor) Run(
	ctx context.Context,
	g *Graph,
	state *WorkflowState,
	logHook func(ExecutionLog),
	cancelChecker func() bool,
) (*ExecutionResult, error) {
	logs := make([]ExecutionLog, 0, 8)
	emit := func(entry ExecutionLog) {
		logs = append(logs, entry)
		if logHook != nil {
			logHook(entry)
		}
	}
	result := func() *ExecutionResult {
		return &ExecutionResult{RunID: state.RunID, FinalState: state, Logs: logs}
	}

	loopCounters := make(map[loopKey]int)
	current := g.StartNode
	state.SetStatus(StatusRunning)
	e.logger.Debug("run %s: starting graph %q at node %q", state.RunID, g.ID, current)

	for current != "" {
		if cancelChecker != nil && cancelChecker() {
			emit(ExecutionLog{
				NodeID:    current,
				Status:    LogCancelled,
				Timestamp: time.Now().UTC(),
				Message:   "Run cancelled by user",
			})
			state.SetStatus(StatusCancelled)
			e.logger.Info("run %s: cancelled before node %q", state.RunID, current)
			break
		}

		node, err := g.NodeByID(current)
		if err != nil {
			emit(ExecutionLog{
				NodeID:    current,
				Status:    LogFailed,
				Timestamp: time.Now().UTC(),
				Message:   "Node execution failed",
				Error:     err.Error(),
			})
			state.SetStatus(StatusFailed)
			return result(), err
		}

		newState, entry, err := e.runOnce(ctx, node, state, cancelChecker)
		if err != nil {
			var nodeErr *NodeError
			if errors.As(err, &nodeErr) {
				emit(nodeErr.Log)
			}
			if errors.Is(err, ErrCancelled) {
				state.SetStatus(StatusCancelled)
				e.logger.Info("run %s: cancelled during node %q", state.RunID, current)
			} else {
				state.SetStatus(StatusFailed)
				e.logger.Error("run %s: node %q failed: %v", state.RunID, current, err)
			}
			return result(), err
		}
		state = newState
		emit(entry)

		next, err := e.selectNext(g.OutEdges(current), state, loopCounters)
		if err != nil {
			emit(ExecutionLog{
				NodeID:    current,
				Status:    LogFailed,
				Timestamp: time.Now().UTC(),
				Message:   "Loop evaluation failed",
				Error:     err.Error(),
			})
			state.SetStatus(StatusFailed)
			e.logger.Error("run %s: successor selection after %q failed: %v", state.RunID, current, err)
			return result(), err
		}
		current = next
	}

	if state.Status != StatusCancelled {
		state.SetStatus(StatusCompleted)
	}
	e.logger.Debug("run %s: finished with status %s", state.RunID, state.Status)
	return result(), nil
}

// RunOnce executes a single node outside any graph traversal and returns
// the updated state with its execution log.
func (e *Executor) RunOnce(ctx context.Context, node Node, state *WorkflowState) (*WorkflowState, ExecutionLog, error) {
	return e.runOnce(ctx, node, state, nil)
}

func (e *Executor) runOnce(
	ctx context.Context,
	node Node,
	state *WorkflowState,
	cancelChecker func() bool,
) (*WorkflowState, ExecutionLog, error) {
	newState, err := e.invoke(ctx, node, state, cancelChecker)
	switch {
	case errors.Is(err, ErrNodeTimeout):
		state.Record(node.ID, "Node execution timed out", map[string]any{"error": err.Error()})
		entry := ExecutionLog{
			NodeID:    node.ID,
			Status:    LogFailed,
			Timestamp: time.Now().UTC(),
			Message:   "Node execution timed out",
			Error:     "timeout",
		}
		return nil, entry, &NodeError{Log: entry, Err: err}
	case errors.Is(err, ErrCancelled):
		state.Record(node.ID, "Node execution cancelled", nil)
		entry := ExecutionLog{
			NodeID:    node.ID,
			Status:    LogCancelled,
			Timestamp: time.Now().UTC(),
			Message:   "Node execution cancelled",
		}
		return nil, entry, &NodeError{Log: entry, Err: err}
	case err != nil:
		state.Record(node.ID, "Node execution failed", map[string]any{"error": err.Error()})
		entry := ExecutionLog{
			NodeID:    node.ID,
			Status:    LogFailed,
			Timestamp: time.Now().UTC(),
			Message:   "Node execution failed",
			Error:     err.Error(),
		}
		return nil, entry, &NodeError{Log: entry, Err: err}
	}

	if newState == nil {
		entry := ExecutionLog{
			NodeID:    node.ID,
			Status:    LogFailed,
			Timestamp: time.Now().UTC(),
			Message:   "Node returned invalid state",
			Error:     "expected *WorkflowState, got nil",
		}
		return nil, entry, &NodeError{Log: entry, Err: ErrInvalidState}
	}

	newState.Record(node.ID, "Node executed successfully", nil)
	entry := ExecutionLog{
		NodeID:    node.ID,
		Status:    LogSuccess,
		Timestamp: time.Now().UTC(),
	}
	return newState, entry, nil
}

// invoke runs the node's tool on the worker pool, bounded by the node
// timeout, cancelling the tool's context as soon as the cancel checker
// fires.
func (e *Executor) invoke(
	ctx context.Context,
	node Node,
	state *WorkflowState,
	cancelChecker func() bool,
) (*WorkflowState, error) {
	if cancelChecker != nil && cancelChecker() {
		return nil, ErrCancelled
	}
	if node.Func == nil {
		return nil, fmt.Errorf("node %q has no callable", node.ID)
	}

	var nodeCtx context.Context
	var cancel context.CancelFunc
	if e.nodeTimeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, e.nodeTimeout)
	} else {
		nodeCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type outcome struct {
		state *WorkflowState
		err   error
	}
	done := make(chan outcome, 1)
	if err := e.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("node %q panicked: %v", node.ID, r)}
			}
		}()
		s, err := node.Func(nodeCtx, state)
		done <- outcome{state: s, err: err}
	}); err != nil {
		return nil, fmt.Errorf("submit node %q: %w", node.ID, err)
	}

	ticker := time.NewTicker(e.cancelPoll)
	defer ticker.Stop()
	for {
		select {
		case out := <-done:
			return out.state, out.err
		case <-nodeCtx.Done():
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			return nil, fmt.Errorf("%w: node %q exceeded %s", ErrNodeTimeout, node.ID, e.nodeTimeout)
		case <-ticker.C:
			if cancelChecker != nil && cancelChecker() {
				cancel()
				return nil, ErrCancelled
			}
		}
	}
}

// selectNext walks the outgoing edges in declaration order and returns
// the first matching target. Sequential edges always match, branch edges
// match when their condition is truthy, loop edges match while the loop
// may still continue. No match ends the run.
func (e *Executor) selectNext(edges []Edge, state *WorkflowState, counters map[loopKey]int) (string, error) {
	for _, edge := range edges {
		switch edge.Type {
		case EdgeSequential:
			return edge.Target, nil
		case EdgeBranch:
			matched, err := evaluateBranch(edge, state)
			if err != nil {
				return "", err
			}
			if matched {
				return edge.Target, nil
			}
		case EdgeLoop:
			again, err := shouldContinueLoop(edge, state, counters)
			if err != nil {
				return "", err
			}
			if again {
				return edge.Target, nil
			}
		}
	}
	return "", nil
}

func evaluateBranch(edge Edge, state *WorkflowState) (bool, error) {
	cond := edge.Condition
	if cond == nil {
		return false, nil
	}
	if cond.Func != nil {
		return cond.Func(state), nil
	}
	if cond.Expression != "" && cond.Language == "python" {
		return EvaluateTruthy(cond.Expression, state)
	}
	return false, nil
}

// shouldContinueLoop checks the until expression first, then charges the
// per-edge counter. The traversal after the configured limit fails with
// ErrLoopLimit.
func shouldContinueLoop(edge Edge, state *WorkflowState, counters map[loopKey]int) (bool, error) {
	cfg := edge.Loop
	if cfg == nil {
		cfg = &LoopConfig{MaxIterations: DefaultMaxIterations}
	}
	if cfg.UntilExpression != "" {
		stop, err := EvaluateTruthy(cfg.UntilExpression, state)
		if err != nil {
			return false, err
		}
		if stop {
			return false, nil
		}
	}

	key := loopKey{source: edge.Source, target: edge.Target}
	counters[key]++
	if counters[key] > cfg.MaxIterations {
		return false, fmt.Errorf("%w: loop %s->%s exceeded %d iterations",
			ErrLoopLimit, edge.Source, edge.Target, cfg.MaxIterations)
	}
	return true, nil
}
