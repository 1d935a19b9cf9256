package actions

import (
	"context"
	"log"
	"time"

	"github.com/saffronemporial/lifecycle-engine/internal/customers"
	"github.com/saffronemporial/lifecycle-engine/internal/domain"
	"github.com/saffronemporial/lifecycle-engine/internal/template"
)

// Dispatcher routes action types to their handlers. The handler registry is
// an explicit injected map owned by the instance, not a package-level
// singleton, so tests can swap handlers freely.
type Dispatcher struct {
	handlers map[string]Handler
	logs     *customers.Store
	now      func() time.Time
}

func NewDispatcher(logs *customers.Store) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logs:     logs,
		now:      time.Now,
	}
}

// Register adds or replaces the handler for an action type.
func (d *Dispatcher) Register(actionType string, h Handler) {
	d.handlers[actionType] = h
}

// Execute validates, personalizes and runs one action, then records the
// attempt. Failures are logged before the error propagates, and the error is
// always returned to the caller: retry-vs-terminal is the scheduler's
// decision, never the dispatcher's.
func (d *Dispatcher) Execute(ctx context.Context, actionType string, cfg Config, customer *domain.Customer, trigger *TriggerContext) (*Result, error) {
	result := &Result{
		ActionType: actionType,
		CustomerID: customer.ID,
		Timestamp:  d.now(),
	}
	if trigger == nil {
		trigger = &TriggerContext{}
	}
	// Single personalization pass: every templated string a handler renders
	// draws from this variable map.
	trigger.Vars = template.Variables(customer, trigger.Trigger)

	handler, ok := d.handlers[actionType]
	if !ok {
		err := domain.NewConfiguration("action type", actionType)
		return d.fail(ctx, result, trigger, err)
	}
	if err := handler.Validate(cfg); err != nil {
		return d.fail(ctx, result, trigger, err)
	}

	payload, err := handler.Execute(ctx, cfg, customer, trigger)
	if err != nil {
		result.Payload = payload
		return d.fail(ctx, result, trigger, err)
	}

	result.Success = true
	result.Payload = payload
	d.record(ctx, result, trigger, "completed")
	return result, nil
}

func (d *Dispatcher) fail(ctx context.Context, result *Result, trigger *TriggerContext, err error) (*Result, error) {
	result.Success = false
	result.Error = err.Error()
	d.record(ctx, result, trigger, "failed")
	return result, err
}

// record persists the dispatch as a communication-log entry. Handlers
// surface channel, preview and external reference through the payload.
func (d *Dispatcher) record(ctx context.Context, result *Result, trigger *TriggerContext, status string) {
	if d.logs == nil {
		return
	}
	entry := &domain.CommunicationLog{
		CustomerID: result.CustomerID,
		Channel:    result.ActionType,
		Direction:  domain.DirectionOutbound,
		Status:     status,
		WorkflowID: trigger.WorkflowID,
	}
	if result.Payload != nil {
		if ch, ok := result.Payload["channel"].(string); ok && ch != "" {
			entry.Channel = ch
		}
		if p, ok := result.Payload["preview"].(string); ok {
			entry.Preview = p
		}
		if ref, ok := result.Payload["external_ref"].(string); ok {
			entry.ExternalRef = ref
		}
	}
	if !result.Success && entry.Preview == "" {
		entry.Preview = preview(result.Error)
	}
	if err := d.logs.InsertCommunicationLog(ctx, entry); err != nil {
		log.Printf("[Dispatcher] log dispatch action=%s customer=%s: %v",
			result.ActionType, result.CustomerID, err)
	}
}
