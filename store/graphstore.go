package store

import (
	"fmt"
	"sync"

	"github.com/smallnest/workflowgo/graph"
)

// GraphStore is an in-memory store for graph documents keyed by graph id.
type GraphStore struct {
	mu     sync.RWMutex
	graphs map[string]*graph.Document
}

// NewGraphStore creates an empty graph store.
func NewGraphStore() *GraphStore {
	return &GraphStore{graphs: make(map[string]*graph.Document)}
}

// Save persists a graph document. Saving an id that already exists fails
// with ErrAlreadyExists.
func (s *GraphStore) Save(doc *graph.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.graphs[doc.ID]; exists {
		return fmt.Errorf("%w: graph %q", ErrAlreadyExists, doc.ID)
	}
	s.graphs[doc.ID] = doc
	return nil
}

// Get retrieves a graph document by id.
func (s *GraphStore) Get(graphID string) (*graph.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.graphs[graphID]
	if !ok {
		return nil, fmt.Errorf("%w: graph %q", ErrNotFound, graphID)
	}
	return doc, nil
}

// Exists reports whether a graph id is stored.
func (s *GraphStore) Exists(graphID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.graphs[graphID]
	return ok
}
