package iris

import "time"

// --- Run Status ---

// RunStatus represents the lifecycle state of a protocol run.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal runs never change
// again; repeated advance/cancel calls against them are benign no-ops.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusCancelled
}

// ProtocolRun tracks a single execution of a Protocol. Steps is the by-value
// snapshot taken when the run started. CurrentStepIndex is 0-based and only
// ever moves forward by one. CompletedAt is stamped exactly once, on the
// first terminal transition.
type ProtocolRun struct {
	ID               string     `json:"id"`
	ProtocolID       string     `json:"protocol_id"`
	ProtocolName     string     `json:"protocol_name"`
	OwnerID          string     `json:"owner_id"`
	Status           RunStatus  `json:"status"`
	CurrentStepIndex int        `json:"current_step_index"`
	Steps            []Step     `json:"steps"`
	Notes            string     `json:"notes,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// CurrentStep returns a copy of the step at the run's current index, or nil
// when the index is out of range.
func (r *ProtocolRun) CurrentStep() *Step {
	if r.CurrentStepIndex < 0 || r.CurrentStepIndex >= len(r.Steps) {
		return nil
	}
	s := r.Steps[r.CurrentStepIndex]
	return &s
}

// RemainingSteps returns copies of the steps after the current one.
func (r *ProtocolRun) RemainingSteps() []Step {
	next := r.CurrentStepIndex + 1
	if next >= len(r.Steps) {
		return []Step{}
	}
	return CopySteps(r.Steps[next:])
}

// OnLastStep reports whether the run is at its final step, so that the next
// advance completes it.
func (r *ProtocolRun) OnLastStep() bool {
	return r.CurrentStepIndex == len(r.Steps)-1
}

// NewProtocolRun snapshots a definition into a fresh in-progress run at
// step 0.
func NewProtocolRun(p *Protocol) *ProtocolRun {
	return &ProtocolRun{
		ID:               GenerateID("run"),
		ProtocolID:       p.ID,
		ProtocolName:     p.Name,
		OwnerID:          p.OwnerID,
		Status:           RunStatusInProgress,
		CurrentStepIndex: 0,
		Steps:            CopySteps(p.Steps),
		StartedAt:        time.Now().UTC(),
	}
}
