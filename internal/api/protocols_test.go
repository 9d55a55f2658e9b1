package api

import (
	"net/http"
	"testing"

	"github.com/kpellas/iris-assist/internal/iris"
)

func TestUpsertProtocolEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "POST", "/api/protocols", map[string]any{
		"owner_id":    "kp",
		"name":        "red light",
		"description": "evening panel session",
		"steps":       redLightSteps,
		"tags":        []string{"evening"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	p := decodeBody[iris.Protocol](t, w)
	if p.ID == "" {
		t.Error("expected generated ID")
	}
	if p.TotalDurationMinutes != 14 {
		t.Errorf("total duration = %d, want 14", p.TotalDurationMinutes)
	}

	// Same name, different case: revises in place, keeps identity.
	w = doJSON(t, srv, "POST", "/api/protocols", map[string]any{
		"owner_id": "kp",
		"name":     "RED LIGHT",
		"steps":    []iris.Step{{Label: "neck", DurationMinutes: 10}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 on revise, got %d: %s", w.Code, w.Body.String())
	}
	revised := decodeBody[iris.Protocol](t, w)
	if revised.ID != p.ID {
		t.Errorf("revise changed identity: %q -> %q", p.ID, revised.ID)
	}
	if revised.TotalDurationMinutes != 10 {
		t.Errorf("revised total = %d, want 10", revised.TotalDurationMinutes)
	}
}

func TestGetProtocolEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "red light", redLightSteps)

	w := doJSON(t, srv, "GET", "/api/protocols/RED%20LIGHT?owner=kp", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	p := decodeBody[iris.Protocol](t, w)
	if p.Name != "red light" {
		t.Errorf("name = %q", p.Name)
	}

	// Another owner cannot see it.
	w = doJSON(t, srv, "GET", "/api/protocols/red%20light?owner=guest", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("cross-owner read: expected 404, got %d", w.Code)
	}
}

func TestListProtocolsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "GET", "/api/protocols?owner=kp", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decodeBody[[]iris.Protocol](t, w); len(got) != 0 {
		t.Errorf("fresh owner list = %d entries", len(got))
	}

	createProtocolViaAPI(t, srv, "kp", "red light", redLightSteps)
	createProtocolViaAPI(t, srv, "kp", "breathwork", []iris.Step{{Label: "box breathing", DurationMinutes: 4}})

	// A start bumps usage, which drives list order.
	w = doJSON(t, srv, "POST", "/api/runs", map[string]any{"owner_id": "kp", "protocol": "breathwork"})
	if w.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, "GET", "/api/protocols?owner=kp", nil)
	list := decodeBody[[]iris.Protocol](t, w)
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
	if list[0].Name != "breathwork" {
		t.Errorf("most used first: got %q", list[0].Name)
	}
}

func TestDeleteProtocolEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createProtocolViaAPI(t, srv, "kp", "red light", redLightSteps)

	w := doJSON(t, srv, "DELETE", "/api/protocols/red%20light?owner=kp", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, "GET", "/api/protocols/red%20light?owner=kp", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted protocol still readable: %d", w.Code)
	}

	w = doJSON(t, srv, "DELETE", "/api/protocols/red%20light?owner=kp", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}
