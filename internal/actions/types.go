// Package actions implements the polymorphic action dispatcher: a closed set
// of typed side effects executed against a customer with templated
// personalization, per-type config validation and a full audit trail.
package actions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

// The closed action set.
const (
	ActionSendMessage    = "send_message"
	ActionCreateTask     = "create_task"
	ActionUpdateSegment  = "update_segment"
	ActionUpdateCustomer = "update_customer"
	ActionTriggerWebhook = "trigger_webhook"
	ActionCreateReminder = "create_reminder"
	ActionAssignToTeam   = "assign_to_team"
	ActionLogActivity    = "log_activity"
)

// Config is an action's configuration, as stored on the job or workflow step.
type Config map[string]interface{}

// String returns the string value at key, or "".
func (c Config) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// RequiredString returns the string at key or a ValidationError.
func (c Config) RequiredString(key string) (string, error) {
	v := c.String(key)
	if v == "" {
		return "", domain.NewValidation(key, "required field is missing")
	}
	return v, nil
}

// Float returns the numeric value at key, tolerating JSON float64 and int.
func (c Config) Float(key string) (float64, bool) {
	switch v := c[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// TriggerContext carries the workflow trigger data and the pre-built
// personalization variables into a handler.
type TriggerContext struct {
	WorkflowID *uuid.UUID
	Trigger    map[string]interface{}
	Vars       map[string]string
}

// Result is the immutable outcome of one dispatch. Persisted as an audit log
// entry and never mutated after creation.
type Result struct {
	ActionType string                 `json:"action_type"`
	CustomerID uuid.UUID              `json:"customer_id"`
	Success    bool                   `json:"success"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Handler executes one action type. Validate is called before Execute; a
// validation failure means the action is never attempted and never retried.
type Handler interface {
	Validate(cfg Config) error
	Execute(ctx context.Context, cfg Config, customer *domain.Customer, trigger *TriggerContext) (map[string]interface{}, error)
}

// SegmentService is the slice of the segmentation engine the
// update_segment handler needs.
type SegmentService interface {
	AddToSegment(ctx context.Context, segmentID, customerID uuid.UUID, reason string) error
	RemoveFromSegment(ctx context.Context, segmentID, customerID uuid.UUID, reason string) error
}

func preview(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
