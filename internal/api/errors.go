package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kpellas/iris-assist/internal/iris"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

type errorBody struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeError maps domain error kinds onto statuses: validation 400,
// not_found 404, conflict and invalid_state 409, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Kind: "internal", Message: "internal error"}

	var derr *iris.Error
	if errors.As(err, &derr) {
		body = errorBody{Kind: string(derr.Kind), Message: derr.Message, Details: derr.Details}
		switch derr.Kind {
		case iris.ErrKindValidation:
			status = http.StatusBadRequest
		case iris.ErrKindNotFound:
			status = http.StatusNotFound
		case iris.ErrKindConflict, iris.ErrKindInvalidState:
			status = http.StatusConflict
		}
	} else {
		slog.Error("request failed", "error", err)
	}

	writeJSON(w, status, errorResponse{Error: body})
}

// ownerParam reads the required ?owner= query parameter.
func ownerParam(r *http.Request) (string, error) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		return "", iris.ErrValidation("owner query parameter is required")
	}
	return owner, nil
}
