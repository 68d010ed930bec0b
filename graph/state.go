package graph

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a workflow run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Once a run reaches a
// terminal status it never transitions again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StateSnapshot is an immutable record of state at a point in the workflow.
type StateSnapshot struct {
	NodeID    string         `json:"node_id"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data"`
}

// WorkflowState is the shared mutable state passed between nodes of a
// single run. It is owned exclusively by its run: tools mutate Context
// through Set and the executor appends to History. It is never shared
// across runs. Other goroutines observe a run in flight through Clone,
// which copies under the same lock Set and Record hold.
type WorkflowState struct {
	RunID   string          `json:"run_id"`
	Status  Status          `json:"status"`
	Context map[string]any  `json:"context"`
	History []StateSnapshot `json:"history"`

	mu sync.RWMutex
}

// NewState creates a pending WorkflowState with a fresh v4 run id. The
// initial context may be nil.
func NewState(initial map[string]any) *WorkflowState {
	if initial == nil {
		initial = make(map[string]any)
	}
	return &WorkflowState{
		RunID:   uuid.NewString(),
		Status:  StatusPending,
		Context: initial,
		History: nil,
	}
}

// Record appends a snapshot to the execution history.
func (s *WorkflowState) Record(nodeID, message string, data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, StateSnapshot{
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Data:      data,
	})
}

// Set mutates the context in place.
func (s *WorkflowState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	s.Context[key] = value
}

// Get returns the context value for key and whether it is present.
func (s *WorkflowState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Context[key]
	return v, ok
}

// GetDefault returns the context value for key, or def when absent.
func (s *WorkflowState) GetDefault(key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.Context[key]; ok {
		return v
	}
	return def
}

// SetStatus transitions the run status.
func (s *WorkflowState) SetStatus(status Status) {
	s.mu.Lock()
	s.Status = status
	s.mu.Unlock()
}

// Clone returns a detached copy of the state that stays valid while the
// run keeps mutating the original. Context and snapshot data are copied
// down through nested maps and slices.
func (s *WorkflowState) Clone() *WorkflowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]StateSnapshot, len(s.History))
	for i, snap := range s.History {
		snap.Data = deepCopyMap(snap.Data)
		history[i] = snap
	}
	return &WorkflowState{
		RunID:   s.RunID,
		Status:  s.Status,
		Context: deepCopyMap(s.Context),
		History: history,
	}
}

func deepCopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
