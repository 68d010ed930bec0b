package store

import (
	"fmt"
	"sync"

	"github.com/smallnest/workflowgo/graph"
)

// RunRecord tracks one run's metadata and resulting state.
type RunRecord struct {
	RunID     string                 `json:"run_id"`
	GraphID   string                 `json:"graph_id"`
	State     *graph.WorkflowState   `json:"state"`
	Status    graph.Status           `json:"status"`
	Logs      []graph.ExecutionLog   `json:"logs"`
	Result    *graph.ExecutionResult `json:"result,omitempty"`
	Cancelled bool                   `json:"cancelled"`
}

// snapshot copies the record for callers outside the run. The live
// WorkflowState is still being mutated by the executor, so the copy
// carries a detached clone of it and of the log slice.
func (r *RunRecord) snapshot() RunRecord {
	out := *r
	if r.State != nil {
		out.State = r.State.Clone()
	}
	out.Logs = append([]graph.ExecutionLog(nil), r.Logs...)
	return out
}

// RunPatch carries the fields Update may change. Nil fields are left
// untouched.
type RunPatch struct {
	Status *graph.Status
	Logs   []graph.ExecutionLog
	Result *graph.ExecutionResult
}

// RunStore is an in-memory store for run records. Each run is guarded by
// its own lock so concurrent updates to different runs never contend.
type RunStore struct {
	mu    sync.Mutex
	runs  map[string]*RunRecord
	locks map[string]*sync.Mutex
}

// NewRunStore creates an empty run store.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[string]*RunRecord),
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the lock guarding a known run. Probing an unknown id
// fails with ErrNotFound and leaves no trace in the lock map.
func (s *RunStore) lockFor(runID string) (*sync.Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	return lock, nil
}

// Create persists a new run record and allocates its lock.
func (s *RunStore) Create(record *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[record.RunID]; exists {
		return fmt.Errorf("%w: run %q", ErrAlreadyExists, record.RunID)
	}
	s.runs[record.RunID] = record
	s.locks[record.RunID] = &sync.Mutex{}
	return nil
}

// Get returns a detached copy of the run record; its state is a clone
// that is safe to read and serialize while the run is still executing.
func (s *RunStore) Get(runID string) (RunRecord, error) {
	lock, err := s.lockFor(runID)
	if err != nil {
		return RunRecord{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	record, err := s.lookup(runID)
	if err != nil {
		return RunRecord{}, err
	}
	return record.snapshot(), nil
}

// Update applies a patch to a run. A terminal status is frozen: once a
// run is completed, failed or cancelled, later status changes are
// ignored while logs and result still land.
func (s *RunStore) Update(runID string, patch RunPatch) error {
	lock, err := s.lockFor(runID)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	record, err := s.lookup(runID)
	if err != nil {
		return err
	}
	if patch.Status != nil && !record.Status.Terminal() {
		record.Status = *patch.Status
	}
	if patch.Logs != nil {
		record.Logs = patch.Logs
	}
	if patch.Result != nil {
		record.Result = patch.Result
	}
	return nil
}

// AppendLog appends one execution log entry to the run.
func (s *RunStore) AppendLog(runID string, entry graph.ExecutionLog) error {
	lock, err := s.lockFor(runID)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	record, err := s.lookup(runID)
	if err != nil {
		return err
	}
	record.Logs = append(record.Logs, entry)
	return nil
}

// RequestCancel marks a run for cancellation and returns the updated
// record. Re-cancelling an already-cancelled run is idempotent; a run
// that completed or failed cannot be cancelled and fails with
// ErrConflict.
func (s *RunStore) RequestCancel(runID string) (RunRecord, error) {
	lock, err := s.lockFor(runID)
	if err != nil {
		return RunRecord{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	record, err := s.lookup(runID)
	if err != nil {
		return RunRecord{}, err
	}
	switch record.Status {
	case graph.StatusCompleted, graph.StatusFailed:
		return RunRecord{}, fmt.Errorf("%w: run %q is %s", ErrConflict, runID, record.Status)
	}
	record.Cancelled = true
	record.Status = graph.StatusCancelled
	return record.snapshot(), nil
}

// IsCancelled reports whether cancellation was requested for the run.
// Unknown runs report false.
func (s *RunStore) IsCancelled(runID string) bool {
	lock, err := s.lockFor(runID)
	if err != nil {
		return false
	}
	lock.Lock()
	defer lock.Unlock()

	record, err := s.lookup(runID)
	if err != nil {
		return false
	}
	return record.Cancelled
}

func (s *RunStore) lookup(runID string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	return record, nil
}
