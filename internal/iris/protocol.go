package iris

import (
	"fmt"
	"strings"
	"time"
)

// Step is a single timed stage of a Protocol. Durations are whole minutes.
type Step struct {
	Label           string `json:"label"`
	DurationMinutes int    `json:"duration_minutes"`
	Instructions    string `json:"instructions,omitempty"`
}

// Protocol is a named, ordered list of timed steps owned by one user.
// TotalDurationMinutes is derived from the steps and kept in sync on every
// revision. Soft-deleted protocols keep their row (run history references
// them) with Active cleared.
type Protocol struct {
	ID                   string     `json:"id"`
	OwnerID              string     `json:"owner_id"`
	Name                 string     `json:"name"`
	Description          string     `json:"description,omitempty"`
	Steps                []Step     `json:"steps"`
	Tags                 []string   `json:"tags,omitempty"`
	TotalDurationMinutes int        `json:"total_duration_minutes"`
	Active               bool       `json:"active"`
	RunCount             int        `json:"run_count"`
	LastRunAt            *time.Time `json:"last_run_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// NormalizeName trims and lowercases a protocol name for case-insensitive
// matching. Stored names keep the casing the user gave them.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TotalDuration sums step durations in whole minutes.
func TotalDuration(steps []Step) int {
	total := 0
	for _, s := range steps {
		total += s.DurationMinutes
	}
	return total
}

// CopySteps returns a by-value copy of steps. Runs snapshot their steps at
// start, so later definition edits never leak into a live run.
func CopySteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// ValidateProtocol checks the caller-writable fields of a definition:
// non-blank name, at least one step, every step labelled with a duration of
// one minute or more.
func ValidateProtocol(name string, steps []Step) error {
	if strings.TrimSpace(name) == "" {
		return ErrValidation("protocol name must not be blank")
	}
	if len(steps) == 0 {
		return ErrValidation("protocol needs at least one step")
	}
	for i, s := range steps {
		if strings.TrimSpace(s.Label) == "" {
			return ErrValidation(fmt.Sprintf("step %d: label must not be blank", i+1))
		}
		if s.DurationMinutes < 1 {
			return ErrValidation(fmt.Sprintf("step %d (%s): duration must be at least 1 minute", i+1, s.Label))
		}
	}
	return nil
}
