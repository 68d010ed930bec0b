package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/smallnest/workflowgo/graph"
	"github.com/smallnest/workflowgo/log"
	"github.com/smallnest/workflowgo/runner"
	"github.com/smallnest/workflowgo/store"
)

// Server exposes the workflow service over HTTP and WebSocket.
type Server struct {
	svc    *runner.Service
	router *mux.Router
	logger log.Logger
}

// New builds the HTTP server around the service. A nil logger falls back
// to the package default.
func New(svc *runner.Service, logger log.Logger) *Server {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	s := &Server{
		svc:    svc,
		router: mux.NewRouter(),
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/graph/create", s.handleCreateGraph).Methods(http.MethodPost)
	s.router.HandleFunc("/graph/run", s.handleLaunchRun).Methods(http.MethodPost)
	s.router.HandleFunc("/graph/state/{run_id}", s.handleRunState).Methods(http.MethodGet)
	s.router.HandleFunc("/graph/cancel/{run_id}", s.handleCancelRun).Methods(http.MethodPost)
	s.router.HandleFunc("/ws/logs/{run_id}", s.handleLogStream).Methods(http.MethodGet)
}

// Handler returns the routing handler wrapped with permissive CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type graphCreateResponse struct {
	GraphID string `json:"graph_id"`
	Message string `json:"message"`
}

func (s *Server) handleCreateGraph(w http.ResponseWriter, r *http.Request) {
	var doc graph.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
		return
	}

	err := s.svc.CreateGraph(&doc)
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, graph.ErrValidation):
		s.logger.Warn("graph validation failed: %v", err)
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, graphCreateResponse{
		GraphID: doc.ID,
		Message: "Graph registered",
	})
}

type runRequest struct {
	GraphID      string         `json:"graph_id"`
	InitialState map[string]any `json:"initial_state"`
	Background   bool           `json:"background"`
}

type runResponse struct {
	RunID   string       `json:"run_id"`
	GraphID string       `json:"graph_id"`
	Status  graph.Status `json:"status"`
}

func (s *Server) handleLaunchRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
		return
	}
	if req.GraphID == "" {
		respondError(w, http.StatusBadRequest, "graph_id is required")
		return
	}

	record, err := s.svc.Launch(r.Context(), req.GraphID, req.InitialState, req.Background)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "Graph not found.")
		return
	case errors.Is(err, graph.ErrValidation):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, runResponse{
		RunID:   record.RunID,
		GraphID: record.GraphID,
		Status:  record.Status,
	})
}

type runStateResponse struct {
	RunID   string               `json:"run_id"`
	GraphID string               `json:"graph_id"`
	Status  graph.Status         `json:"status"`
	Context map[string]any       `json:"context"`
	Logs    []graph.ExecutionLog `json:"logs"`
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	record, err := s.svc.RunState(runID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logs := record.Logs
	if logs == nil {
		logs = []graph.ExecutionLog{}
	}
	respondJSON(w, http.StatusOK, runStateResponse{
		RunID:   record.RunID,
		GraphID: record.GraphID,
		Status:  record.Status,
		Context: record.State.Context,
		Logs:    logs,
	})
}

type cancelResponse struct {
	RunID   string       `json:"run_id"`
	GraphID string       `json:"graph_id"`
	Status  graph.Status `json:"status"`
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	record, err := s.svc.Cancel(runID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, store.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cancelResponse{
		RunID:   record.RunID,
		GraphID: record.GraphID,
		Status:  record.Status,
	})
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, detail string) {
	respondJSON(w, code, map[string]string{"detail": detail})
}
