package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses. A job starts scheduled, is claimed into running, and ends in
// completed, failed or cancelled. Transient failures park it in retrying
// until the next attempt fires.
const (
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusRetrying  = "retrying"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job is one persisted unit of workflow work: a single action to run for a
// single customer at a point in time.
type Job struct {
	ID          uuid.UUID              `json:"id"`
	WorkflowID  uuid.UUID              `json:"workflow_id"`
	ProfileID   uuid.UUID              `json:"profile_id"`
	ActionType  string                 `json:"action_type"`
	StepNumber  *int                   `json:"step_number,omitempty"`
	StepConfig  map[string]interface{} `json:"step_config"`
	TriggerData map[string]interface{} `json:"trigger_data,omitempty"`
	ScheduledAt time.Time              `json:"scheduled_at"`
	Status      string                 `json:"status"`

	CurrentRetry int        `json:"current_retry"`
	MaxRetries   int        `json:"max_retries"`
	LastError    *string    `json:"last_error,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Step describes one step of a multi-step workflow before it is persisted.
type Step struct {
	ActionType string                 `json:"action_type"`
	Config     map[string]interface{} `json:"config"`

	// Timing controls, all optional. See ComputeStepTime for precedence.
	Timing string `json:"timing,omitempty"` // "immediate" or ""
	Delay  *Delay `json:"delay,omitempty"`
	// SendTime is a wall-clock "15:04" target. If the time already passed
	// today the step rolls to tomorrow.
	SendTime string `json:"send_time,omitempty"`

	BusinessHoursOnly bool `json:"business_hours_only,omitempty"`
	SkipWeekends      bool `json:"skip_weekends,omitempty"`
}

// Delay is a relative offset from the workflow trigger.
type Delay struct {
	Minutes int `json:"minutes,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Days    int `json:"days,omitempty"`
}

// Stats is a point-in-time view of the scheduler, served by the status API.
type Stats struct {
	Running        bool           `json:"running"`
	ActiveTimers   int            `json:"active_timers"`
	JobsExecuted   int64          `json:"jobs_executed"`
	JobsSucceeded  int64          `json:"jobs_succeeded"`
	JobsRetried    int64          `json:"jobs_retried"`
	JobsFailed     int64          `json:"jobs_failed"`
	CountsByStatus map[string]int `json:"counts_by_status"`
}
