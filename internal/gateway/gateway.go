// Package gateway fans run lifecycle events out to notification and display
// surfaces. Delivery is fire-and-forget with at-least-once semantics: the
// engine commits state first, then publishes, and a failing surface is
// logged and isolated without ever reaching back into run state.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kpellas/iris-assist/internal/iris"
)

// Sink delivers run events to a single surface (timer device, wall display,
// log). Implementations must tolerate duplicate deliveries.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event iris.Event) error
}

// Gateway broadcasts each event to every registered sink concurrently.
type Gateway struct {
	mu    sync.RWMutex
	sinks []Sink
}

func New(sinks ...Sink) *Gateway {
	return &Gateway{sinks: sinks}
}

// Register adds a sink. Safe to call while publishes are in flight.
func (g *Gateway) Register(sink Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sinks = append(g.sinks, sink)
}

// Publish delivers the event to all sinks. One sink failing never stops the
// others; the combined error is returned for the caller to log.
func (g *Gateway) Publish(ctx context.Context, event iris.Event) error {
	g.mu.RLock()
	sinks := make([]Sink, len(g.sinks))
	copy(sinks, g.sinks)
	g.mu.RUnlock()

	errs := make([]error, len(sinks))
	grp, gCtx := errgroup.WithContext(ctx)
	for i, sink := range sinks {
		i, sink := i, sink // per-iteration copies for go <1.22 loop semantics
		grp.Go(func() error {
			if err := sink.Deliver(gCtx, event); err != nil {
				slog.Warn("sink delivery failed",
					"sink", sink.Name(),
					"event", string(event.Type),
					"run_id", event.RunID,
					"error", err)
				errs[i] = fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	_ = grp.Wait() // failures are collected per sink, never propagated

	return errors.Join(errs...)
}

// LogSink writes every event to the structured log. It backstops the other
// surfaces so a transition is always visible somewhere.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(ctx context.Context, event iris.Event) error {
	attrs := []any{
		"event", string(event.Type),
		"run_id", event.RunID,
		"owner_id", event.OwnerID,
		"protocol", event.ProtocolName,
	}
	if event.Step != nil {
		attrs = append(attrs, "step_index", event.StepIndex, "step", event.Step.Label)
	}
	slog.Info("run event", attrs...)
	return nil
}
