package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kpellas/iris-assist/internal/gateway"
)

// streamEvents streams an owner's run events via SSE. A fresh connection
// replays the buffered window; reconnections resume from Last-Event-ID.
// GET /api/events?owner=
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.displayHub == nil {
		http.Error(w, "event streaming not available", http.StatusServiceUnavailable)
		return
	}

	startSeq := 0
	if idStr := r.Header.Get("Last-Event-ID"); idStr != "" {
		if n, perr := strconv.Atoi(idStr); perr == nil {
			startSeq = n + 1
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, notify := s.displayHub.Subscribe(ownerID, startSeq)
	for {
		for _, ev := range events {
			writeSSEEvent(w, ev)
			startSeq = ev.Seq + 1
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-notify:
			events, notify = s.displayHub.Subscribe(ownerID, startSeq)
		}
	}
}

// writeSSEEvent writes one frame with the per-owner seq as the id, so
// Last-Event-ID reconnects resume without gaps.
func writeSSEEvent(w http.ResponseWriter, ev gateway.BufferedEvent) {
	data, _ := json.Marshal(ev.Event)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Event.Type, data)
}
