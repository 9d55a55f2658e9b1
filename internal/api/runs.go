package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kpellas/iris-assist/internal/iris"
)

type startRunRequest struct {
	OwnerID  string `json:"owner_id"`
	Protocol string `json:"protocol"`
}

// startRun activates a protocol for the owner. 409 with the active protocol
// name in details when a run is already going.
// POST /api/runs
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, iris.ErrValidation("invalid request body"))
		return
	}
	if req.Protocol == "" {
		writeError(w, iris.ErrValidation("protocol is required"))
		return
	}

	result, err := s.engine.StartRun(r.Context(), req.OwnerID, req.Protocol)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// listRuns returns the owner's run history, most recent first.
// GET /api/runs?owner=&protocol=&limit=
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, iris.ErrValidation("limit must be a non-negative integer"))
			return
		}
	}

	runs, err := s.engine.History(r.Context(), ownerID, r.URL.Query().Get("protocol"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*iris.ProtocolRun{}
	}

	writeJSON(w, http.StatusOK, runs)
}

// getActiveRun reports what the owner is running right now.
// GET /api/runs/active?owner=
func (s *Server) getActiveRun(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	status, err := s.engine.GetStatus(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// getRun fetches one run by ID, terminal or not.
// GET /api/runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// advanceRun is the timer callback: move the run one step forward, completing
// it on the last step. Advancing an already-finished run reports its terminal
// status instead of failing.
// POST /api/runs/{id}/advance
func (s *Server) advanceRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.AdvanceToNextStep(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type cancelRunRequest struct {
	OwnerID string `json:"owner_id"`
}

type cancelRunResponse struct {
	Status string            `json:"status"`
	Run    *iris.ProtocolRun `json:"run"`
}

// cancelActiveRun abandons whatever the owner is currently running.
// POST /api/runs/cancel
func (s *Server) cancelActiveRun(w http.ResponseWriter, r *http.Request) {
	var req cancelRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, iris.ErrValidation("invalid request body"))
		return
	}
	if req.OwnerID == "" {
		writeError(w, iris.ErrValidation("owner_id is required"))
		return
	}

	run, err := s.engine.CancelActiveRun(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cancelRunResponse{Status: string(run.Status), Run: run})
}
