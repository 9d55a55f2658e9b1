package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// getDisplayState returns the owner's current display state, derived purely
// from run events.
// GET /api/display?owner=
func (s *Server) getDisplayState(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.displayHub == nil {
		http.Error(w, "display not available", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, s.displayHub.Snapshot(ownerID))
}

var displayUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The wall display and companion UI are served from other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// displaySocket pushes the owner's display state over a WebSocket: the
// current state immediately on connect, then a fresh state after every run
// event. Duplicate pushes are harmless since the payload is the whole state.
// GET /api/display/ws?owner=
func (s *Server) displaySocket(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.displayHub == nil {
		http.Error(w, "display not available", http.StatusServiceUnavailable)
		return
	}

	conn, err := displayUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("display socket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain reads so we notice the client hanging up.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		notify := s.displayHub.Watch(ownerID)
		if err := conn.WriteJSON(s.displayHub.Snapshot(ownerID)); err != nil {
			return
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-notify:
		}
	}
}
