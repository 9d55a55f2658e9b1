package api

import (
	"encoding/json"
	"net/http"

	"github.com/kpellas/iris-assist/internal/intent"
	"github.com/kpellas/iris-assist/internal/iris"
)

// handleIntent accepts one parsed voice intent and answers with speech. Only
// a malformed envelope fails the request; domain outcomes (conflicts, missing
// protocols) come back as 200s with the apology in the speech.
// POST /api/intents
func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req intent.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, iris.ErrValidation("invalid request body"))
		return
	}

	resp, err := s.intentRouter.Route(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
