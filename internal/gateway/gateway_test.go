package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kpellas/iris-assist/internal/iris"
)

type fakeSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []iris.Event
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Deliver(ctx context.Context, event iris.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestGatewayFansOutToAllSinks(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	g := New(a, b)

	event := iris.Event{Type: iris.EventRunStarted, RunID: "run-1", OwnerID: "kp"}
	if err := g.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Errorf("deliveries = %d, %d, want 1, 1", a.count(), b.count())
	}
}

func TestGatewayIsolatesFailingSink(t *testing.T) {
	broken := &fakeSink{name: "broken", err: errors.New("unreachable")}
	healthy := &fakeSink{name: "healthy"}
	g := New(broken, healthy)

	err := g.Publish(context.Background(), iris.Event{Type: iris.EventStepAdvanced, RunID: "run-1"})
	if err == nil {
		t.Fatal("expected combined error from failing sink")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q does not name the failing sink", err)
	}
	if healthy.count() != 1 {
		t.Errorf("healthy sink deliveries = %d, want 1", healthy.count())
	}
}

func TestGatewayRegister(t *testing.T) {
	g := New()
	if err := g.Publish(context.Background(), iris.Event{Type: iris.EventRunStarted}); err != nil {
		t.Fatalf("Publish() with no sinks error = %v", err)
	}

	late := &fakeSink{name: "late"}
	g.Register(late)
	if err := g.Publish(context.Background(), iris.Event{Type: iris.EventRunCompleted}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if late.count() != 1 {
		t.Errorf("late sink deliveries = %d, want 1", late.count())
	}
}
