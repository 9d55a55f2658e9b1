package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/kpellas/iris-assist/internal/iris"
	"github.com/kpellas/iris-assist/internal/services"
)

type startRunBody struct {
	Run                  iris.ProtocolRun `json:"run"`
	FirstStep            iris.Step        `json:"first_step"`
	TotalDurationMinutes int              `json:"total_duration_minutes"`
}

func startRunViaAPI(t *testing.T, srv *Server, ownerID, protocol string) startRunBody {
	t.Helper()
	w := doJSON(t, srv, "POST", "/api/runs", map[string]any{"owner_id": ownerID, "protocol": protocol})
	if w.Code != http.StatusCreated {
		t.Fatalf("start run: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decodeBody[startRunBody](t, w)
}

func TestStartRunEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "red light", redLightSteps)

	result := startRunViaAPI(t, srv, "kp", "red light")
	if result.Run.ID == "" || result.Run.Status != iris.RunStatusInProgress {
		t.Fatalf("run = %+v", result.Run)
	}
	if result.FirstStep.Label != "neck" || result.FirstStep.DurationMinutes != 3 {
		t.Errorf("first step = %+v", result.FirstStep)
	}
	if result.TotalDurationMinutes != 14 {
		t.Errorf("total = %d, want 14", result.TotalDurationMinutes)
	}

	// Unknown protocol name.
	w := doJSON(t, srv, "POST", "/api/runs", map[string]any{"owner_id": "kp", "protocol": "nope"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown protocol: expected 404, got %d", w.Code)
	}
}

func TestStartRunConflictEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "red light", redLightSteps)
	createProtocolViaAPI(t, srv, "kp", "breathwork", []iris.Step{{Label: "box breathing", DurationMinutes: 4}})

	startRunViaAPI(t, srv, "kp", "red light")

	w := doJSON(t, srv, "POST", "/api/runs", map[string]any{"owner_id": "kp", "protocol": "breathwork"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[errorResponse](t, w)
	if resp.Error.Kind != "conflict" {
		t.Errorf("kind = %q", resp.Error.Kind)
	}
	if resp.Error.Details["active_protocol"] != "red light" {
		t.Errorf("details = %v, want active_protocol=red light", resp.Error.Details)
	}
}

func TestAdvanceRunEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "stretch", []iris.Step{
		{Label: "hold", DurationMinutes: 2},
		{Label: "release", DurationMinutes: 1},
	})
	result := startRunViaAPI(t, srv, "kp", "stretch")
	advancePath := fmt.Sprintf("/api/runs/%s/advance", result.Run.ID)

	w := doJSON(t, srv, "POST", advancePath, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	adv := decodeBody[services.AdvanceResult](t, w)
	if adv.Status != services.AdvanceOutcomeAdvanced || adv.CurrentStep == nil || adv.CurrentStep.Label != "release" {
		t.Fatalf("first advance = %+v", adv)
	}

	w = doJSON(t, srv, "POST", advancePath, nil)
	adv = decodeBody[services.AdvanceResult](t, w)
	if adv.Status != services.AdvanceOutcomeCompleted {
		t.Fatalf("final advance = %+v", adv)
	}

	// Late timer callback: still 200, still completed, no state change.
	w = doJSON(t, srv, "POST", advancePath, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate advance: expected 200, got %d", w.Code)
	}
	adv = decodeBody[services.AdvanceResult](t, w)
	if adv.Status != services.AdvanceOutcomeCompleted {
		t.Errorf("duplicate advance status = %q", adv.Status)
	}

	w = doJSON(t, srv, "POST", "/api/runs/run-missing/advance", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run advance: expected 404, got %d", w.Code)
	}
}

func TestActiveRunEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "red light", redLightSteps)

	w := doJSON(t, srv, "GET", "/api/runs/active?owner=kp", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	status := decodeBody[services.StatusView](t, w)
	if status.Active {
		t.Fatalf("idle owner reported active: %+v", status)
	}

	startRunViaAPI(t, srv, "kp", "red light")

	w = doJSON(t, srv, "GET", "/api/runs/active?owner=kp", nil)
	status = decodeBody[services.StatusView](t, w)
	if !status.Active || status.CurrentStep == nil || status.CurrentStep.Label != "neck" {
		t.Fatalf("status = %+v", status)
	}
	if len(status.RemainingSteps) != 3 {
		t.Errorf("remaining = %d, want 3", len(status.RemainingSteps))
	}
}

func TestCancelRunEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "red light", redLightSteps)

	w := doJSON(t, srv, "POST", "/api/runs/cancel", map[string]any{"owner_id": "kp"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("cancel without active run: expected 404, got %d", w.Code)
	}

	result := startRunViaAPI(t, srv, "kp", "red light")

	w = doJSON(t, srv, "POST", "/api/runs/cancel", map[string]any{"owner_id": "kp"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cancelled := decodeBody[cancelRunResponse](t, w)
	if cancelled.Status != "cancelled" || cancelled.Run.ID != result.Run.ID {
		t.Fatalf("cancel response = %+v", cancelled)
	}
	if cancelled.Run.CompletedAt == nil {
		t.Error("cancelled run missing completed_at")
	}
}

func TestRunHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "red light", redLightSteps)
	createProtocolViaAPI(t, srv, "kp", "breathwork", []iris.Step{{Label: "box breathing", DurationMinutes: 4}})

	for _, name := range []string{"red light", "breathwork", "red light"} {
		startRunViaAPI(t, srv, "kp", name)
		w := doJSON(t, srv, "POST", "/api/runs/cancel", map[string]any{"owner_id": "kp"})
		if w.Code != http.StatusOK {
			t.Fatalf("cancel: expected 200, got %d", w.Code)
		}
	}

	w := doJSON(t, srv, "GET", "/api/runs?owner=kp", nil)
	runs := decodeBody[[]iris.ProtocolRun](t, w)
	if len(runs) != 3 {
		t.Fatalf("history = %d runs, want 3", len(runs))
	}
	if runs[0].ProtocolName != "red light" || runs[1].ProtocolName != "breathwork" {
		t.Errorf("order = %q, %q, %q", runs[0].ProtocolName, runs[1].ProtocolName, runs[2].ProtocolName)
	}

	w = doJSON(t, srv, "GET", "/api/runs?owner=kp&protocol=red%20light", nil)
	runs = decodeBody[[]iris.ProtocolRun](t, w)
	if len(runs) != 2 {
		t.Errorf("filtered history = %d runs, want 2", len(runs))
	}

	w = doJSON(t, srv, "GET", "/api/runs?owner=kp&limit=1", nil)
	runs = decodeBody[[]iris.ProtocolRun](t, w)
	if len(runs) != 1 {
		t.Errorf("limited history = %d runs, want 1", len(runs))
	}

	w = doJSON(t, srv, "GET", "/api/runs?owner=kp&limit=-2", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative limit: expected 400, got %d", w.Code)
	}
}

func TestGetRunEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "red light", redLightSteps)
	result := startRunViaAPI(t, srv, "kp", "red light")

	w := doJSON(t, srv, "GET", "/api/runs/"+result.Run.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	run := decodeBody[iris.ProtocolRun](t, w)
	if run.ID != result.Run.ID || len(run.Steps) != 4 {
		t.Errorf("run = %+v", run)
	}

	w = doJSON(t, srv, "GET", "/api/runs/run-missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run: expected 404, got %d", w.Code)
	}
}
