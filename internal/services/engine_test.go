package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kpellas/iris-assist/internal/iris"
	"github.com/kpellas/iris-assist/internal/repository"
)

// recordingSink captures published events in order and can be told to fail.
type recordingSink struct {
	mu     sync.Mutex
	events []iris.Event
	fail   bool
}

func (s *recordingSink) Publish(ctx context.Context, event iris.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []iris.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]iris.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *recordingSink) last() iris.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return iris.Event{}
	}
	return s.events[len(s.events)-1]
}

func newTestEngine(t *testing.T) (*RunEngine, *ProtocolService, *recordingSink) {
	t.Helper()
	protocols := repository.NewMemoryProtocolRepository()
	runs := repository.NewMemoryRunRepository()
	sink := &recordingSink{}
	return NewRunEngine(protocols, runs, sink), NewProtocolService(protocols), sink
}

func seedProtocol(t *testing.T, svc *ProtocolService, ownerID, name string, steps ...iris.Step) *iris.Protocol {
	t.Helper()
	if len(steps) == 0 {
		steps = []iris.Step{
			{Label: "Warm up", DurationMinutes: 5},
			{Label: "Main set", DurationMinutes: 20, Instructions: "Keep a steady pace"},
			{Label: "Cool down", DurationMinutes: 5},
		}
	}
	p, err := svc.Upsert(context.Background(), ownerID, name, "", steps, nil)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return p
}

func TestStartRun(t *testing.T) {
	engine, svc, sink := newTestEngine(t)
	ctx := context.Background()
	seedProtocol(t, svc, "kp", "Morning Routine")

	result, err := engine.StartRun(ctx, "kp", "morning routine")
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if result.Run.Status != iris.RunStatusInProgress {
		t.Errorf("status = %q, want %q", result.Run.Status, iris.RunStatusInProgress)
	}
	if result.Run.CurrentStepIndex != 0 {
		t.Errorf("current step index = %d, want 0", result.Run.CurrentStepIndex)
	}
	if result.FirstStep.Label != "Warm up" {
		t.Errorf("first step = %q, want %q", result.FirstStep.Label, "Warm up")
	}
	if result.TotalDurationMinutes != 30 {
		t.Errorf("total duration = %d, want 30", result.TotalDurationMinutes)
	}

	ev := sink.last()
	if ev.Type != iris.EventRunStarted {
		t.Fatalf("event type = %q, want %q", ev.Type, iris.EventRunStarted)
	}
	if ev.RunID != result.Run.ID || ev.OwnerID != "kp" || ev.ProtocolName != "Morning Routine" {
		t.Errorf("event identity fields wrong: %+v", ev)
	}
	if ev.Step == nil || ev.Step.Label != "Warm up" {
		t.Errorf("event step = %+v, want Warm up", ev.Step)
	}
	if ev.TotalDurationMinutes != 30 {
		t.Errorf("event total duration = %d, want 30", ev.TotalDurationMinutes)
	}

	// Starting a run counts as usage on the definition.
	def, err := svc.GetByName(ctx, "kp", "Morning Routine")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if def.RunCount != 1 {
		t.Errorf("run count = %d, want 1", def.RunCount)
	}
	if def.LastRunAt == nil {
		t.Error("last run at not stamped")
	}
}

func TestStartRunUnknownProtocol(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.StartRun(context.Background(), "kp", "Does Not Exist")
	if !iris.IsNotFound(err) {
		t.Fatalf("error = %v, want not_found", err)
	}
}

func TestStartRunConflictNamesActiveProtocol(t *testing.T) {
	engine, svc, _ := newTestEngine(t)
	ctx := context.Background()
	seedProtocol(t, svc, "kp", "Morning Routine")
	seedProtocol(t, svc, "kp", "Evening Wind Down")

	if _, err := engine.StartRun(ctx, "kp", "Morning Routine"); err != nil {
		t.Fatalf("first StartRun() error = %v", err)
	}

	_, err := engine.StartRun(ctx, "kp", "Evening Wind Down")
	if !iris.IsConflict(err) {
		t.Fatalf("error = %v, want conflict", err)
	}
	if got := iris.ActiveProtocol(err); got != "Morning Routine" {
		t.Errorf("active protocol in conflict = %q, want %q", got, "Morning Routine")
	}

	// A different owner is unaffected.
	seedProtocol(t, svc, "guest", "Morning Routine")
	if _, err := engine.StartRun(ctx, "guest", "Morning Routine"); err != nil {
		t.Errorf("other owner StartRun() error = %v", err)
	}
}

func TestStartRunSnapshotsSteps(t *testing.T) {
	engine, svc, _ := newTestEngine(t)
	ctx := context.Background()
	seedProtocol(t, svc, "kp", "Mobility")

	result, err := engine.StartRun(ctx, "kp", "Mobility")
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	// Revising the definition mid-run must not touch the running snapshot.
	if _, err := svc.Upsert(ctx, "kp", "Mobility", "", []iris.Step{{Label: "Completely new", DurationMinutes: 1}}, nil); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	run, err := engine.GetRun(ctx, result.Run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if len(run.Steps) != 3 || run.Steps[0].Label != "Warm up" {
		t.Errorf("run steps changed after definition edit: %+v", run.Steps)
	}
}

func TestAdvanceThroughCompletion(t *testing.T) {
	engine, svc, sink := newTestEngine(t)
	ctx := context.Background()
	seedProtocol(t, svc, "kp", "Morning Routine")

	result, err := engine.StartRun(ctx, "kp", "Morning Routine")
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	runID := result.Run.ID

	adv, err := engine.AdvanceToNextStep(ctx, runID)
	if err != nil {
		t.Fatalf("AdvanceToNextStep() error = %v", err)
	}
	if adv.Status != AdvanceOutcomeAdvanced {
		t.Fatalf("status = %q, want %q", adv.Status, AdvanceOutcomeAdvanced)
	}
	if adv.Run.CurrentStepIndex != 1 || adv.CurrentStep == nil || adv.CurrentStep.Label != "Main set" {
		t.Errorf("after first advance: index = %d, step = %+v", adv.Run.CurrentStepIndex, adv.CurrentStep)
	}
	ev := sink.last()
	if ev.Type != iris.EventStepAdvanced || ev.StepIndex != 1 || ev.Step == nil || ev.Step.Label != "Main set" {
		t.Errorf("step advanced event = %+v", ev)
	}

	if adv, err = engine.AdvanceToNextStep(ctx, runID); err != nil || adv.Status != AdvanceOutcomeAdvanced {
		t.Fatalf("second advance = %+v, %v", adv, err)
	}

	adv, err = engine.AdvanceToNextStep(ctx, runID)
	if err != nil {
		t.Fatalf("final advance error = %v", err)
	}
	if adv.Status != AdvanceOutcomeCompleted {
		t.Fatalf("status = %q, want %q", adv.Status, AdvanceOutcomeCompleted)
	}
	if adv.Run.CompletedAt == nil {
		t.Error("completed run missing CompletedAt")
	}
	if adv.CurrentStep != nil {
		t.Errorf("completed result carries a current step: %+v", adv.CurrentStep)
	}
	if ev := sink.last(); ev.Type != iris.EventRunCompleted {
		t.Errorf("last event = %q, want %q", ev.Type, iris.EventRunCompleted)
	}

	// The owner's slot is free again.
	status, err := engine.GetStatus(ctx, "kp")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Active {
		t.Error("owner still active after completion")
	}
	if _, err := engine.StartRun(ctx, "kp", "Morning Routine"); err != nil {
		t.Errorf("restart after completion error = %v", err)
	}

	wantOrder := []iris.EventType{
		iris.EventRunStarted,
		iris.EventStepAdvanced,
		iris.EventStepAdvanced,
		iris.EventRunCompleted,
		iris.EventRunStarted,
	}
	got := sink.types()
	if len(got) != len(wantOrder) {
		t.Fatalf("event count = %d, want %d (%v)", len(got), len(wantOrder), got)
	}
	for i := range wantOrder {
		if got[i] != wantOrder[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], wantOrder[i])
		}
	}
}

func TestAdvanceAfterTerminalIsNoOp(t *testing.T) {
	engine, svc, sink := newTestEngine(t)
	ctx := context.Background()
	seedProtocol(t, svc, "kp", "Stretch", iris.Step{Label: "Hold", DurationMinutes: 2})

	result, err := engine.StartRun(ctx, "kp", "Stretch")
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	adv, err := engine.AdvanceToNextStep(ctx, result.Run.ID)
	if err != nil || adv.Status != AdvanceOutcomeCompleted {
		t.Fatalf("single-step completion = %+v, %v", adv, err)
	}
	completedAt := *adv.Run.CompletedAt
	eventsBefore := len(sink.types())

	// A duplicate timer callback must change nothing and emit nothing.
	again, err := engine.AdvanceToNextStep(ctx, result.Run.ID)
	if err != nil {
		t.Fatalf("duplicate advance error = %v", err)
	}
	if again.Status != AdvanceOutcomeCompleted {
		t.Errorf("duplicate advance status = %q, want %q", again.Status, AdvanceOutcomeCompleted)
	}
	if !again.Run.CompletedAt.Equal(completedAt) {
		t.Errorf("CompletedAt restamped: %v -> %v", completedAt, again.Run.CompletedAt)
	}
	if got := len(sink.types()); got != eventsBefore {
		t.Errorf("duplicate advance emitted events: %d -> %d", eventsBefore, got)
	}
}

func TestAdvanceMissingRun(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.AdvanceToNextStep(context.Background(), "run-nope")
	if !iris.IsNotFound(err) {
		t.Fatalf("error = %v, want not_found", err)
	}
}

func TestCancelActiveRun(t *testing.T) {
	engine, svc, sink := newTestEngine(t)
	ctx := context.Background()
	seedProtocol(t, svc, "kp", "Morning Routine")

	result, err := engine.StartRun(ctx, "kp", "Morning Routine")
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if _, err := engine.AdvanceToNextStep(ctx, result.Run.ID); err != nil {
		t.Fatalf("AdvanceToNextStep() error = %v", err)
	}

	run, err := engine.CancelActiveRun(ctx, "kp")
	if err != nil {
		t.Fatalf("CancelActiveRun() error = %v", err)
	}
	if run.Status != iris.RunStatusCancelled {
		t.Errorf("status = %q, want %q", run.Status, iris.RunStatusCancelled)
	}
	if run.CurrentStepIndex != 1 {
		t.Errorf("cancel lost position: index = %d, want 1", run.CurrentStepIndex)
	}
	if run.CompletedAt == nil {
		t.Error("cancelled run missing CompletedAt")
	}
	if ev := sink.last(); ev.Type != iris.EventRunCancelled || ev.RunID != run.ID {
		t.Errorf("cancel event = %+v", ev)
	}

	// Nothing active anymore, so a second cancel has no target.
	if _, err := engine.CancelActiveRun(ctx, "kp"); !iris.IsNotFound(err) {
		t.Errorf("second cancel error = %v, want not_found", err)
	}
}

func TestCancelWithoutActiveRun(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.CancelActiveRun(context.Background(), "kp")
	if !iris.IsNotFound(err) {
		t.Fatalf("error = %v, want not_found", err)
	}
}

func TestSinkFailureNeverBlocksTransitions(t *testing.T) {
	engine, svc, sink := newTestEngine(t)
	ctx := context.Background()
	seedProtocol(t, svc, "kp", "Stretch", iris.Step{Label: "Hold", DurationMinutes: 2}, iris.Step{Label: "Release", DurationMinutes: 1})
	sink.fail = true

	result, err := engine.StartRun(ctx, "kp", "Stretch")
	if err != nil {
		t.Fatalf("StartRun() with failing sink error = %v", err)
	}
	adv, err := engine.AdvanceToNextStep(ctx, result.Run.ID)
	if err != nil || adv.Status != AdvanceOutcomeAdvanced {
		t.Fatalf("advance with failing sink = %+v, %v", adv, err)
	}
	run, err := engine.CancelActiveRun(ctx, "kp")
	if err != nil || run.Status != iris.RunStatusCancelled {
		t.Fatalf("cancel with failing sink = %+v, %v", run, err)
	}
}

func TestGetStatusProjection(t *testing.T) {
	engine, svc, _ := newTestEngine(t)
	ctx := context.Background()
	seedProtocol(t, svc, "kp", "Morning Routine")

	status, err := engine.GetStatus(ctx, "kp")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Active || status.Run != nil {
		t.Errorf("idle status = %+v, want inactive", status)
	}

	result, err := engine.StartRun(ctx, "kp", "Morning Routine")
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if _, err := engine.AdvanceToNextStep(ctx, result.Run.ID); err != nil {
		t.Fatalf("AdvanceToNextStep() error = %v", err)
	}

	status, err = engine.GetStatus(ctx, "kp")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if !status.Active {
		t.Fatal("status inactive with a run in progress")
	}
	if status.CurrentStep == nil || status.CurrentStep.Label != "Main set" {
		t.Errorf("current step = %+v, want Main set", status.CurrentStep)
	}
	if len(status.RemainingSteps) != 1 || status.RemainingSteps[0].Label != "Cool down" {
		t.Errorf("remaining steps = %+v, want just Cool down", status.RemainingSteps)
	}
}

func TestHistory(t *testing.T) {
	engine, svc, _ := newTestEngine(t)
	ctx := context.Background()
	seedProtocol(t, svc, "kp", "Morning Routine")
	seedProtocol(t, svc, "kp", "Stretch", iris.Step{Label: "Hold", DurationMinutes: 2})

	finishRun := func(name string) string {
		t.Helper()
		result, err := engine.StartRun(ctx, "kp", name)
		if err != nil {
			t.Fatalf("StartRun(%q) error = %v", name, err)
		}
		if _, err := engine.CancelActiveRun(ctx, "kp"); err != nil {
			t.Fatalf("CancelActiveRun() error = %v", err)
		}
		return result.Run.ID
	}

	first := finishRun("Morning Routine")
	second := finishRun("Stretch")
	third := finishRun("Morning Routine")

	runs, err := engine.History(ctx, "kp", "", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("history length = %d, want 3", len(runs))
	}
	if runs[0].ID != third || runs[1].ID != second || runs[2].ID != first {
		t.Errorf("history order = %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}

	runs, err = engine.History(ctx, "kp", "morning routine", 0)
	if err != nil {
		t.Fatalf("History(filtered) error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("filtered history length = %d, want 2", len(runs))
	}
	for _, r := range runs {
		if r.ProtocolName != "Morning Routine" {
			t.Errorf("filtered history includes %q", r.ProtocolName)
		}
	}

	runs, err = engine.History(ctx, "kp", "", 2)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("limited history length = %d, want 2", len(runs))
	}

	if _, err := engine.History(ctx, "kp", "Does Not Exist", 0); !iris.IsNotFound(err) {
		t.Errorf("history for unknown protocol error = %v, want not_found", err)
	}
}
