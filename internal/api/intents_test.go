package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/kpellas/iris-assist/internal/intent"
)

func TestIntentEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "red light", redLightSteps)

	w := doJSON(t, srv, "POST", "/api/intents", map[string]any{
		"owner_id": "kp",
		"intent":   "start_protocol",
		"protocol": "red light",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[intent.Response](t, w)
	if !strings.Contains(resp.Speech, "Starting red light") {
		t.Errorf("speech = %q", resp.Speech)
	}

	// Conflicts are speech, not HTTP errors.
	w = doJSON(t, srv, "POST", "/api/intents", map[string]any{
		"owner_id": "kp",
		"intent":   "start_protocol",
		"protocol": "red light",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("conflict via intent: expected 200, got %d", w.Code)
	}
	resp = decodeBody[intent.Response](t, w)
	if !strings.Contains(resp.Speech, "already have red light running") {
		t.Errorf("conflict speech = %q", resp.Speech)
	}
}

func TestIntentEndpointRejectsBadEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "POST", "/api/intents", map[string]any{
		"owner_id": "kp",
		"intent":   "paint_the_fence",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown intent: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, "POST", "/api/intents", map[string]any{
		"intent": "protocol_status",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing owner: expected 400, got %d", w.Code)
	}
}
