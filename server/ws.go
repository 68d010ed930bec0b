package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/smallnest/workflowgo/runner"
	"github.com/smallnest/workflowgo/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleLogStream streams a run's execution logs over WebSocket: the
// already-recorded logs first, then live events until a terminal status
// event closes the stream.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed for run %s: %v", runID, err)
		return
	}
	defer conn.Close()

	sub, record, err := s.svc.Subscribe(runID)
	if errors.Is(err, store.ErrNotFound) {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unknown run_id")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		return
	}
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error())
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		return
	}
	defer s.svc.Unsubscribe(runID, sub)

	for i := range record.Logs {
		event := runner.Event{Type: runner.EventTypeLog, Log: &record.Logs[i]}
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
	if record.Status.Terminal() {
		_ = conn.WriteJSON(runner.Event{Type: runner.EventTypeStatus, Status: record.Status})
		return
	}

	// Reads are discarded; they only surface client disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	for {
		msg, ok, err := sub.Next(r.Context())
		if err != nil || !ok {
			return
		}
		event, isEvent := msg.(runner.Event)
		if !isEvent {
			continue
		}
		if err := conn.WriteJSON(event); err != nil {
			s.logger.Info("websocket disconnected for run %s", runID)
			return
		}
		if event.Type == runner.EventTypeStatus && event.Status.Terminal() {
			return
		}
	}
}
