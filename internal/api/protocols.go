package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kpellas/iris-assist/internal/iris"
)

type upsertProtocolRequest struct {
	OwnerID     string      `json:"owner_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Steps       []iris.Step `json:"steps"`
	Tags        []string    `json:"tags,omitempty"`
}

// upsertProtocol creates a protocol, or revises the owner's existing one with
// the same name (case-insensitive).
// POST /api/protocols
func (s *Server) upsertProtocol(w http.ResponseWriter, r *http.Request) {
	var req upsertProtocolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, iris.ErrValidation("invalid request body"))
		return
	}

	p, err := s.protocolSvc.Upsert(r.Context(), req.OwnerID, req.Name, req.Description, req.Steps, req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// listProtocols returns the owner's active protocols, most used first.
// GET /api/protocols?owner=
func (s *Server) listProtocols(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	protocols, err := s.protocolSvc.List(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if protocols == nil {
		protocols = []*iris.Protocol{}
	}

	writeJSON(w, http.StatusOK, protocols)
}

// getProtocol looks a protocol up by name, case-insensitive.
// GET /api/protocols/{name}?owner=
func (s *Server) getProtocol(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := s.protocolSvc.GetByName(r.Context(), ownerID, chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// deleteProtocol soft-deletes by name; run history keeps referencing it.
// DELETE /api/protocols/{name}?owner=
func (s *Server) deleteProtocol(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.protocolSvc.Delete(r.Context(), ownerID, chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
