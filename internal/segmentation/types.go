// Package segmentation evaluates rule-defined customer segments and
// maintains segment-membership lifecycle with an audit trail.
package segmentation

import (
	"time"

	"github.com/google/uuid"
)

// Operator is a rule comparison operator.
type Operator string

const (
	OpEquals           Operator = "equals"
	OpNotEquals        Operator = "not_equals"
	OpGreaterThan      Operator = "greater_than"
	OpLessThan         Operator = "less_than"
	OpGreaterThanEqual Operator = "greater_than_equal"
	OpLessThanEqual    Operator = "less_than_equal"
	OpContains         Operator = "contains"
	OpNotContains      Operator = "not_contains"
	OpIn               Operator = "in"
	OpNotIn            Operator = "not_in"
)

// Rule is a single field comparison. Rules within one segment are
// AND-combined; there is no OR or grouping support.
type Rule struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// AutomationAction describes the workflow to schedule when a segment
// membership transition fires.
type AutomationAction struct {
	ActionType   string                 `json:"action_type"`
	Config       map[string]interface{} `json:"config,omitempty"`
	DelayMinutes int                    `json:"delay_minutes,omitempty"`
}

// Segment is a named, rule-defined customer cohort.
type Segment struct {
	ID        uuid.UUID          `json:"id" db:"id"`
	Name      string             `json:"name" db:"name"`
	Rules     []Rule             `json:"rules"`
	IsActive  bool               `json:"is_active" db:"is_active"`
	OnJoin    []AutomationAction `json:"on_join,omitempty"`
	OnLeave   []AutomationAction `json:"on_leave,omitempty"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" db:"updated_at"`
}

// Membership is one segment-membership row. Membership history is never
// hard-deleted: leaving flips is_current_member and stamps left_at, and at
// most one current row exists per (segment, profile) pair.
type Membership struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	SegmentID uuid.UUID  `json:"segment_id" db:"segment_id"`
	ProfileID uuid.UUID  `json:"profile_id" db:"profile_id"`
	IsCurrent bool       `json:"is_current_member" db:"is_current_member"`
	JoinedAt  time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty" db:"left_at"`
	Reason    string     `json:"membership_reason" db:"membership_reason"`
}

// MembershipChange reports one transition from an evaluation run.
type MembershipChange struct {
	SegmentID   uuid.UUID `json:"segment_id"`
	SegmentName string    `json:"segment_name"`
	Change      string    `json:"change"` // joined, left
}

// SegmentStats is a reporting row: one segment and its current member count.
type SegmentStats struct {
	SegmentID   uuid.UUID `json:"segment_id"`
	Name        string    `json:"name"`
	IsActive    bool      `json:"is_active"`
	MemberCount int       `json:"member_count"`
}
