package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// sseRequest performs a stream request whose context is already cancelled,
// so the handler replays the buffer, then returns instead of blocking.
func sseRequest(t *testing.T, srv *Server, path string, lastEventID string) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("GET", path, nil).WithContext(ctx)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestStreamEventsReplaysBuffer(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "stretch", redLightSteps[:2])
	result := startRunViaAPI(t, srv, "kp", "stretch")
	doJSON(t, srv, "POST", "/api/runs/"+result.Run.ID+"/advance", nil)

	w := sseRequest(t, srv, "/api/events?owner=kp", "")
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "id: 0\nevent: run_started\n") {
		t.Errorf("missing run_started frame:\n%s", body)
	}
	if !strings.Contains(body, "id: 1\nevent: step_advanced\n") {
		t.Errorf("missing step_advanced frame:\n%s", body)
	}
	if !strings.Contains(body, result.Run.ID) {
		t.Errorf("frames do not carry the run id:\n%s", body)
	}
}

func TestStreamEventsResumesFromLastEventID(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "stretch", redLightSteps[:2])
	result := startRunViaAPI(t, srv, "kp", "stretch")
	doJSON(t, srv, "POST", "/api/runs/"+result.Run.ID+"/advance", nil)

	w := sseRequest(t, srv, "/api/events?owner=kp", "0")
	body := w.Body.String()
	if strings.Contains(body, "event: run_started\n") {
		t.Errorf("replayed already-seen frame:\n%s", body)
	}
	if !strings.Contains(body, "id: 1\nevent: step_advanced\n") {
		t.Errorf("missing resumed frame:\n%s", body)
	}
}

func TestStreamEventsRequiresOwner(t *testing.T) {
	srv, _ := newTestServer(t)

	w := sseRequest(t, srv, "/api/events", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestStreamEventsIsolatesOwners(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "stretch", redLightSteps[:2])
	startRunViaAPI(t, srv, "kp", "stretch")

	w := sseRequest(t, srv, "/api/events?owner=guest", "")
	if body := w.Body.String(); strings.Contains(body, "run_started") {
		t.Errorf("another owner's events leaked:\n%s", body)
	}
}
