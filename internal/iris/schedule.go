package iris

import "time"

// Schedule starts a protocol for its owner on a cron trigger ("weekdays at
// 7am start Morning Routine"). A trigger that collides with an already
// active run is skipped, never cancels it.
type Schedule struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	ProtocolName string     `json:"protocol_name"`
	CronExpr     string     `json:"cron_expr"`
	Timezone     string     `json:"timezone,omitempty"`
	Enabled      bool       `json:"enabled"`
	NextRunAt    time.Time  `json:"next_run_at"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
