package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallnest/workflowgo/graph"
	"github.com/smallnest/workflowgo/log"
	"github.com/smallnest/workflowgo/store"
	"github.com/smallnest/workflowgo/stream"
	"github.com/smallnest/workflowgo/tool"
)

// Event is one message on a run's log stream. Type is "log" for node
// execution entries and "status" for run status transitions; a status
// event for a terminal status ends the stream.
type Event struct {
	Type   string              `json:"type"`
	Log    *graph.ExecutionLog `json:"log,omitempty"`
	Status graph.Status        `json:"status,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// EventTypeLog and EventTypeStatus are the two stream event types.
const (
	EventTypeLog    = "log"
	EventTypeStatus = "status"
)

// Service orchestrates graph registration, run launches, cancellation
// and log streaming on top of the in-memory stores.
type Service struct {
	registry *tool.Registry
	graphs   *store.GraphStore
	runs     *store.RunStore
	exec     *graph.Executor
	hub      *stream.Hub
	logger   log.Logger
}

// NewService wires a service from its collaborators. A nil logger falls
// back to the package default.
func NewService(
	registry *tool.Registry,
	graphs *store.GraphStore,
	runs *store.RunStore,
	exec *graph.Executor,
	hub *stream.Hub,
	logger log.Logger,
) *Service {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Service{
		registry: registry,
		graphs:   graphs,
		runs:     runs,
		exec:     exec,
		hub:      hub,
		logger:   logger,
	}
}

// Registry exposes the tool registry for bootstrap registration.
func (s *Service) Registry() *tool.Registry { return s.registry }

// CreateGraph validates the document against the registry and stores it.
// Validation failures surface as graph.ErrValidation and duplicate ids
// as store.ErrAlreadyExists.
func (s *Service) CreateGraph(doc *graph.Document) error {
	if s.graphs.Exists(doc.ID) {
		return fmt.Errorf("%w: graph %q", store.ErrAlreadyExists, doc.ID)
	}
	if _, err := doc.Build(s.registry); err != nil {
		return err
	}
	if err := s.graphs.Save(doc); err != nil {
		return err
	}
	s.logger.Info("registered graph %s", doc.ID)
	return nil
}

// Graph returns the stored document for a graph id.
func (s *Service) Graph(graphID string) (*graph.Document, error) {
	return s.graphs.Get(graphID)
}

// Launch starts a run of the given graph with the initial context. When
// background is true the run executes on its own goroutine and the
// returned record is still pending; otherwise Launch blocks until the
// run finishes and returns the final record.
func (s *Service) Launch(ctx context.Context, graphID string, initialState map[string]any, background bool) (store.RunRecord, error) {
	doc, err := s.graphs.Get(graphID)
	if err != nil {
		return store.RunRecord{}, err
	}
	g, err := doc.Build(s.registry)
	if err != nil {
		return store.RunRecord{}, err
	}

	state := graph.NewState(initialState)
	record := &store.RunRecord{
		RunID:   state.RunID,
		GraphID: graphID,
		State:   state,
		Status:  graph.StatusPending,
	}
	if err := s.runs.Create(record); err != nil {
		return store.RunRecord{}, err
	}

	if background {
		// Snapshot the pending record before the run goroutine starts
		// mutating the live state.
		pending, err := s.runs.Get(state.RunID)
		if err != nil {
			return store.RunRecord{}, err
		}
		go s.execute(context.WithoutCancel(ctx), g, state)
		return pending, nil
	}
	s.execute(ctx, g, state)
	return s.runs.Get(state.RunID)
}

// execute drives one run to a terminal status, mirroring every log entry
// and status change into the run store and the stream hub.
func (s *Service) execute(ctx context.Context, g *graph.Graph, state *graph.WorkflowState) {
	runID := state.RunID

	running := graph.StatusRunning
	if err := s.runs.Update(runID, store.RunPatch{Status: &running}); err != nil {
		s.logger.Error("run %s: mark running: %v", runID, err)
		return
	}
	s.hub.Publish(runID, Event{Type: EventTypeStatus, Status: graph.StatusRunning})

	logHook := func(entry graph.ExecutionLog) {
		if err := s.runs.AppendLog(runID, entry); err != nil {
			s.logger.Error("run %s: append log: %v", runID, err)
		}
		e := entry
		s.hub.Publish(runID, Event{Type: EventTypeLog, Log: &e})
	}
	cancelChecker := func() bool { return s.runs.IsCancelled(runID) }

	result, err := s.exec.Run(ctx, g, state, logHook, cancelChecker)

	final := result.FinalState.Status
	patch := store.RunPatch{Status: &final, Logs: result.Logs, Result: result}
	if updateErr := s.runs.Update(runID, patch); updateErr != nil {
		s.logger.Error("run %s: store result: %v", runID, updateErr)
	}

	terminal := Event{Type: EventTypeStatus, Status: final}
	if err != nil && !errors.Is(err, graph.ErrCancelled) {
		terminal.Error = err.Error()
		s.logger.Error("run %s failed: %v", runID, err)
	} else {
		s.logger.Info("run %s finished: %s", runID, final)
	}
	s.hub.Publish(runID, terminal)
}

// RunState returns the current record for a run.
func (s *Service) RunState(runID string) (store.RunRecord, error) {
	return s.runs.Get(runID)
}

// Cancel requests cancellation of a run. Cancelling an already-cancelled
// run succeeds idempotently; a completed or failed run fails with
// store.ErrConflict. The running executor notices the request at its
// next poll and stops.
func (s *Service) Cancel(runID string) (store.RunRecord, error) {
	record, err := s.runs.RequestCancel(runID)
	if err != nil {
		return store.RunRecord{}, err
	}
	s.logger.Info("run %s: cancellation requested", runID)
	return record, nil
}

// Subscribe registers a live stream subscriber for a run and returns it
// with the record snapshot to replay first. The caller must Unsubscribe
// when done.
func (s *Service) Subscribe(runID string) (*stream.Subscriber, store.RunRecord, error) {
	record, err := s.runs.Get(runID)
	if err != nil {
		return nil, store.RunRecord{}, err
	}
	return s.hub.Register(runID), record, nil
}

// Unsubscribe removes a subscriber registered via Subscribe.
func (s *Service) Unsubscribe(runID string, sub *stream.Subscriber) {
	s.hub.Unregister(runID, sub)
}
