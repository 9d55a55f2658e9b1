package iris

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a run lifecycle event.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventStepAdvanced EventType = "step_advanced"
	EventRunCompleted EventType = "run_completed"
	EventRunCancelled EventType = "run_cancelled"
)

// Event is published to the notification/display gateway on every run
// transition. Delivery is fire-and-forget and at-least-once; ID is the dedup
// key for sinks that must not act twice.
type Event struct {
	ID                   string    `json:"id"`
	Type                 EventType `json:"type"`
	RunID                string    `json:"run_id"`
	OwnerID              string    `json:"owner_id"`
	ProtocolName         string    `json:"protocol_name,omitempty"`
	StepIndex            int       `json:"step_index"`
	Step                 *Step     `json:"step,omitempty"`
	TotalDurationMinutes int       `json:"total_duration_minutes,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// NewRunStarted carries the first step and the run's total duration.
func NewRunStarted(run *ProtocolRun) Event {
	return Event{
		ID:                   uuid.NewString(),
		Type:                 EventRunStarted,
		RunID:                run.ID,
		OwnerID:              run.OwnerID,
		ProtocolName:         run.ProtocolName,
		StepIndex:            run.CurrentStepIndex,
		Step:                 run.CurrentStep(),
		TotalDurationMinutes: TotalDuration(run.Steps),
		Timestamp:            time.Now().UTC(),
	}
}

// NewStepAdvanced carries the new current step and its index.
func NewStepAdvanced(run *ProtocolRun) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         EventStepAdvanced,
		RunID:        run.ID,
		OwnerID:      run.OwnerID,
		ProtocolName: run.ProtocolName,
		StepIndex:    run.CurrentStepIndex,
		Step:         run.CurrentStep(),
		Timestamp:    time.Now().UTC(),
	}
}

// NewRunCompleted marks the run finished after its last step.
func NewRunCompleted(run *ProtocolRun) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         EventRunCompleted,
		RunID:        run.ID,
		OwnerID:      run.OwnerID,
		ProtocolName: run.ProtocolName,
		StepIndex:    run.CurrentStepIndex,
		Timestamp:    time.Now().UTC(),
	}
}

// NewRunCancelled marks the run stopped before completion.
func NewRunCancelled(run *ProtocolRun) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         EventRunCancelled,
		RunID:        run.ID,
		OwnerID:      run.OwnerID,
		ProtocolName: run.ProtocolName,
		StepIndex:    run.CurrentStepIndex,
		Timestamp:    time.Now().UTC(),
	}
}
