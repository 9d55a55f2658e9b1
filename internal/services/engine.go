package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kpellas/iris-assist/internal/iris"
	"github.com/kpellas/iris-assist/internal/repository"
)

// EventSink receives run lifecycle events. Delivery is fire-and-forget from
// the engine's point of view: a sink error is logged and never rolls back a
// state transition, so implementations may see the same transition more than
// once but are guaranteed to never miss a committed one silently.
type EventSink interface {
	Publish(ctx context.Context, event iris.Event) error
}

// Advance outcomes reported to callers (timer callbacks, API, voice skill).
const (
	AdvanceOutcomeAdvanced  = "advanced"
	AdvanceOutcomeCompleted = "completed"
	AdvanceOutcomeCancelled = "cancelled"
)

// StartResult is what a caller needs to announce a fresh run: the run itself,
// the step to read out, and the total length for "this will take N minutes".
type StartResult struct {
	Run                  *iris.ProtocolRun `json:"run"`
	FirstStep            iris.Step         `json:"first_step"`
	TotalDurationMinutes int               `json:"total_duration_minutes"`
}

// AdvanceResult reports what an advance call achieved. Status is "advanced"
// while steps remain, otherwise the run's terminal status. CurrentStep is
// only set while the run is still in progress.
type AdvanceResult struct {
	Status      string            `json:"status"`
	Run         *iris.ProtocolRun `json:"run"`
	CurrentStep *iris.Step        `json:"current_step,omitempty"`
}

// StatusView is the "what's happening right now" projection for an owner.
type StatusView struct {
	Active         bool              `json:"active"`
	Run            *iris.ProtocolRun `json:"run,omitempty"`
	CurrentStep    *iris.Step        `json:"current_step,omitempty"`
	RemainingSteps []iris.Step       `json:"remaining_steps,omitempty"`
}

const defaultHistoryLimit = 50

// RunEngine drives the per-owner run state machine: no active run leads to
// in progress at step N, which ends in completed or cancelled. The engine
// never sleeps or waits on step durations; an external timer surface counts
// down and calls back into AdvanceToNextStep when a step ends.
type RunEngine struct {
	protocols repository.ProtocolRepository
	runs      repository.RunRepository
	sink      EventSink
}

func NewRunEngine(protocols repository.ProtocolRepository, runs repository.RunRepository, sink EventSink) *RunEngine {
	return &RunEngine{
		protocols: protocols,
		runs:      runs,
		sink:      sink,
	}
}

// StartRun snapshots the named definition into a new run and activates it.
// If the owner already has a run going, the error names the protocol that is
// in the way so the caller can say "you're already running Morning Routine".
func (e *RunEngine) StartRun(ctx context.Context, ownerID, protocolName string) (*StartResult, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, iris.ErrValidation("owner is required")
	}
	def, err := e.protocols.GetByName(ctx, ownerID, protocolName)
	if err != nil {
		return nil, err
	}

	// Pre-check so the common conflict path answers without an insert
	// attempt. The store remains the arbiter for races.
	active, err := e.runs.GetActive(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("checking active run: %w", err)
	}
	if active != nil {
		return nil, iris.ErrConflict("a protocol run is already in progress", active.ProtocolName)
	}

	run := iris.NewProtocolRun(def)
	if err := e.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	// Usage stats are best-effort; the run is already committed.
	if err := e.protocols.RecordRun(ctx, def.ID); err != nil {
		slog.Warn("failed to record run on definition", "protocol_id", def.ID, "error", err)
	}

	e.publish(ctx, iris.NewRunStarted(run))
	slog.Info("run started",
		"run_id", run.ID,
		"owner_id", ownerID,
		"protocol", run.ProtocolName,
		"steps", len(run.Steps))

	return &StartResult{
		Run:                  run,
		FirstStep:            run.Steps[0],
		TotalDurationMinutes: iris.TotalDuration(run.Steps),
	}, nil
}

// AdvanceToNextStep moves a run forward by exactly one step, completing it
// when the last step ends. Calling it on a finished run is a benign no-op
// that reports the terminal status, so duplicate or late timer callbacks
// never error and never move anything twice.
func (e *RunEngine) AdvanceToNextStep(ctx context.Context, runID string) (*AdvanceResult, error) {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return &AdvanceResult{Status: string(run.Status), Run: run}, nil
	}

	if run.OnLastStep() {
		ok, err := e.runs.Complete(ctx, runID, "")
		if err != nil {
			return nil, err
		}
		run, rerr := e.runs.Get(ctx, runID)
		if rerr != nil {
			return nil, rerr
		}
		if !ok {
			// Someone else finished the run between our read and the
			// update; report what it became without emitting anything.
			return e.settledResult(run), nil
		}
		e.publish(ctx, iris.NewRunCompleted(run))
		slog.Info("run completed", "run_id", run.ID, "owner_id", run.OwnerID, "protocol", run.ProtocolName)
		return &AdvanceResult{Status: AdvanceOutcomeCompleted, Run: run}, nil
	}

	next := run.CurrentStepIndex + 1
	ok, err := e.runs.Advance(ctx, runID, next)
	if err != nil {
		return nil, err
	}
	run, err = e.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with a concurrent advance or cancel. The guarded
		// update moved nothing, so just report the current state.
		return e.settledResult(run), nil
	}
	e.publish(ctx, iris.NewStepAdvanced(run))
	slog.Info("step advanced",
		"run_id", run.ID,
		"owner_id", run.OwnerID,
		"step_index", run.CurrentStepIndex,
		"step", run.Steps[run.CurrentStepIndex].Label)
	return &AdvanceResult{Status: AdvanceOutcomeAdvanced, Run: run, CurrentStep: run.CurrentStep()}, nil
}

// CancelActiveRun abandons whatever the owner is currently running. The run
// keeps its position for history. Losing a cancel race to a concurrent
// completion is not an error; the settled run is returned either way.
func (e *RunEngine) CancelActiveRun(ctx context.Context, ownerID string) (*iris.ProtocolRun, error) {
	active, err := e.runs.GetActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, iris.ErrNotFound("active run for owner", ownerID)
	}

	ok, err := e.runs.Cancel(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	run, err := e.runs.Get(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		e.publish(ctx, iris.NewRunCancelled(run))
		slog.Info("run cancelled",
			"run_id", run.ID,
			"owner_id", run.OwnerID,
			"protocol", run.ProtocolName,
			"at_step", run.CurrentStepIndex)
	}
	return run, nil
}

// GetRun looks up a single run by ID, terminal or not.
func (e *RunEngine) GetRun(ctx context.Context, runID string) (*iris.ProtocolRun, error) {
	return e.runs.Get(ctx, runID)
}

// GetStatus answers "what's happening right now" for an owner.
func (e *RunEngine) GetStatus(ctx context.Context, ownerID string) (*StatusView, error) {
	active, err := e.runs.GetActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return &StatusView{}, nil
	}
	return &StatusView{
		Active:         true,
		Run:            active,
		CurrentStep:    active.CurrentStep(),
		RemainingSteps: active.RemainingSteps(),
	}, nil
}

// History lists the owner's past and present runs, most recent first,
// optionally narrowed to one protocol by name.
func (e *RunEngine) History(ctx context.Context, ownerID, protocolName string, limit int) ([]*iris.ProtocolRun, error) {
	protocolID := ""
	if protocolName != "" {
		def, err := e.protocols.GetByName(ctx, ownerID, protocolName)
		if err != nil {
			return nil, err
		}
		protocolID = def.ID
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return e.runs.List(ctx, ownerID, protocolID, limit)
}

func (e *RunEngine) settledResult(run *iris.ProtocolRun) *AdvanceResult {
	if run.Status.Terminal() {
		return &AdvanceResult{Status: string(run.Status), Run: run}
	}
	return &AdvanceResult{Status: AdvanceOutcomeAdvanced, Run: run, CurrentStep: run.CurrentStep()}
}

func (e *RunEngine) publish(ctx context.Context, event iris.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Publish(ctx, event); err != nil {
		slog.Warn("event delivery failed",
			"event", string(event.Type),
			"run_id", event.RunID,
			"error", err)
	}
}
