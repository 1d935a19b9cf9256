package actions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/saffronemporial/lifecycle-engine/internal/customers"
	"github.com/saffronemporial/lifecycle-engine/internal/domain"
	"github.com/saffronemporial/lifecycle-engine/internal/messaging"
	"github.com/saffronemporial/lifecycle-engine/internal/pkg/httpretry"
	"github.com/saffronemporial/lifecycle-engine/internal/template"
)

// NewDefaultDispatcher wires the full closed action set.
func NewDefaultDispatcher(store *customers.Store, gateway messaging.Gateway, segments SegmentService, webhookClient httpretry.HTTPDoer) *Dispatcher {
	d := NewDispatcher(store)
	d.Register(ActionSendMessage, &SendMessageHandler{Gateway: gateway})
	d.Register(ActionCreateTask, &CreateTaskHandler{Store: store})
	d.Register(ActionUpdateSegment, &UpdateSegmentHandler{Segments: segments})
	d.Register(ActionUpdateCustomer, &UpdateCustomerHandler{Store: store})
	d.Register(ActionTriggerWebhook, &TriggerWebhookHandler{Client: webhookClient})
	d.Register(ActionCreateReminder, &CreateReminderHandler{Store: store})
	d.Register(ActionAssignToTeam, &AssignToTeamHandler{Store: store})
	d.Register(ActionLogActivity, &LogActivityHandler{Store: store})
	return d
}

// ----------------------------------------------------------------------------
// send_message
// ----------------------------------------------------------------------------

var validChannels = map[string]bool{
	messaging.ChannelMessage:   true,
	messaging.ChannelTaskNote:  true,
	messaging.ChannelBroadcast: true,
}

// SendMessageHandler delivers a personalized message through the gateway.
type SendMessageHandler struct {
	Gateway messaging.Gateway
}

func (h *SendMessageHandler) Validate(cfg Config) error {
	if _, err := cfg.RequiredString("message.template"); err != nil {
		return err
	}
	if ch := cfg.String("channel"); ch != "" && !validChannels[ch] {
		return domain.NewValidation("channel", "must be one of message, task-note, broadcast")
	}
	return nil
}

func (h *SendMessageHandler) Execute(ctx context.Context, cfg Config, customer *domain.Customer, trigger *TriggerContext) (map[string]interface{}, error) {
	content := template.Render(cfg.String("message.template"), trigger.Vars)
	subject := template.Render(cfg.String("subject.template"), trigger.Vars)
	channel := cfg.String("channel")
	if channel == "" {
		channel = messaging.ChannelMessage
	}

	req := &messaging.SendRequest{
		To:        customer.Email,
		Channel:   channel,
		Subject:   subject,
		Content:   content,
		ProfileID: customer.ID,
	}
	if trigger.WorkflowID != nil {
		req.AutomationID = trigger.WorkflowID.String()
	}

	payload := map[string]interface{}{
		"channel": channel,
		"preview": preview(content),
	}
	result, err := h.Gateway.Send(ctx, req)
	if err != nil {
		return payload, err
	}
	payload["external_ref"] = result.MessageID
	return payload, nil
}

// ----------------------------------------------------------------------------
// create_task
// ----------------------------------------------------------------------------

// CreateTaskHandler creates an internal follow-up task.
type CreateTaskHandler struct {
	Store *customers.Store
}

func (h *CreateTaskHandler) Validate(cfg Config) error {
	_, err := cfg.RequiredString("task.title")
	return err
}

func (h *CreateTaskHandler) Execute(ctx context.Context, cfg Config, customer *domain.Customer, trigger *TriggerContext) (map[string]interface{}, error) {
	task := &customers.Task{
		CustomerID:  customer.ID,
		Title:       template.Render(cfg.String("task.title"), trigger.Vars),
		Description: template.Render(cfg.String("task.description"), trigger.Vars),
		Team:        cfg.String("team"),
	}
	if days, ok := cfg.Float("due_in_days"); ok && days > 0 {
		due := time.Now().Add(time.Duration(days*24) * time.Hour)
		task.DueAt = &due
	}
	if err := h.Store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"task_id": task.ID.String(),
		"preview": preview(task.Title),
	}, nil
}

// ----------------------------------------------------------------------------
// update_segment
// ----------------------------------------------------------------------------

// UpdateSegmentHandler adds or removes the customer from a segment.
type UpdateSegmentHandler struct {
	Segments SegmentService
}

func (h *UpdateSegmentHandler) Validate(cfg Config) error {
	raw, err := cfg.RequiredString("segment_id")
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(raw); err != nil {
		return domain.NewValidation("segment_id", "not a valid uuid")
	}
	op := cfg.String("operation")
	if op != "add" && op != "remove" {
		return domain.NewValidation("operation", "must be add or remove")
	}
	return nil
}

func (h *UpdateSegmentHandler) Execute(ctx context.Context, cfg Config, customer *domain.Customer, trigger *TriggerContext) (map[string]interface{}, error) {
	segmentID := uuid.MustParse(cfg.String("segment_id"))
	op := cfg.String("operation")
	reason := cfg.String("reason")
	if reason == "" {
		reason = "workflow automation"
	}

	var err error
	if op == "add" {
		err = h.Segments.AddToSegment(ctx, segmentID, customer.ID, reason)
	} else {
		err = h.Segments.RemoveFromSegment(ctx, segmentID, customer.ID, reason)
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"segment_id": segmentID.String(),
		"operation":  op,
		"preview":    fmt.Sprintf("%s segment %s", op, segmentID),
	}, nil
}

// ----------------------------------------------------------------------------
// update_customer
// ----------------------------------------------------------------------------

// UpdateCustomerHandler applies profile field updates, tag changes and
// custom-field merges.
type UpdateCustomerHandler struct {
	Store *customers.Store
}

func (h *UpdateCustomerHandler) Validate(cfg Config) error {
	if cfg["fields"] == nil && cfg["tags.add"] == nil && cfg["tags.remove"] == nil && cfg["custom_fields"] == nil {
		return domain.NewValidation("fields", "at least one of fields, tags.add, tags.remove, custom_fields is required")
	}
	return nil
}

func (h *UpdateCustomerHandler) Execute(ctx context.Context, cfg Config, customer *domain.Customer, trigger *TriggerContext) (map[string]interface{}, error) {
	var applied []string

	if fields := stringMap(cfg["fields"], trigger.Vars); len(fields) > 0 {
		if err := h.Store.UpdateFields(ctx, customer.ID, fields); err != nil {
			return nil, err
		}
		applied = append(applied, "fields")
	}
	if tags := stringSlice(cfg["tags.add"]); len(tags) > 0 {
		if err := h.Store.AddTags(ctx, customer.ID, tags); err != nil {
			return nil, err
		}
		applied = append(applied, "tags.add")
	}
	if tags := stringSlice(cfg["tags.remove"]); len(tags) > 0 {
		if err := h.Store.RemoveTags(ctx, customer.ID, tags); err != nil {
			return nil, err
		}
		applied = append(applied, "tags.remove")
	}
	if fields := stringMap(cfg["custom_fields"], trigger.Vars); len(fields) > 0 {
		if err := h.Store.MergeCustomFields(ctx, customer.ID, fields); err != nil {
			return nil, err
		}
		applied = append(applied, "custom_fields")
	}

	return map[string]interface{}{
		"applied": applied,
		"preview": fmt.Sprintf("updated %v", applied),
	}, nil
}

func stringMap(v interface{}, vars map[string]string) map[string]string {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = template.Render(s, vars)
		} else {
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

func stringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ----------------------------------------------------------------------------
// trigger_webhook
// ----------------------------------------------------------------------------

// TriggerWebhookHandler calls an arbitrary HTTP endpoint with a personalized
// JSON body. Any non-2xx response is a transient failure.
type TriggerWebhookHandler struct {
	Client httpretry.HTTPDoer
}

func (h *TriggerWebhookHandler) Validate(cfg Config) error {
	_, err := cfg.RequiredString("url")
	return err
}

func (h *TriggerWebhookHandler) Execute(ctx context.Context, cfg Config, customer *domain.Customer, trigger *TriggerContext) (map[string]interface{}, error) {
	method := cfg.String("method")
	if method == "" {
		method = http.MethodPost
	}
	body := template.Render(cfg.String("payload.template"), trigger.Vars)
	if body == "" {
		body = fmt.Sprintf(`{"customer_id":%q}`, customer.ID)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.String("url"), bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, domain.NewValidation("url", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = httpretry.NewRetryClient(nil, 2)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook call: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	payload := map[string]interface{}{
		"status_code": resp.StatusCode,
		"preview":     preview(fmt.Sprintf("%s %s", method, cfg.String("url"))),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return payload, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return payload, nil
}

// ----------------------------------------------------------------------------
// create_reminder
// ----------------------------------------------------------------------------

// CreateReminderHandler writes a dated reminder note.
type CreateReminderHandler struct {
	Store *customers.Store
}

func (h *CreateReminderHandler) Validate(cfg Config) error {
	_, err := cfg.RequiredString("reminder.message")
	return err
}

func (h *CreateReminderHandler) Execute(ctx context.Context, cfg Config, customer *domain.Customer, trigger *TriggerContext) (map[string]interface{}, error) {
	days, ok := cfg.Float("remind_in_days")
	if !ok || days <= 0 {
		days = 1
	}
	reminder := &customers.Reminder{
		CustomerID: customer.ID,
		Message:    template.Render(cfg.String("reminder.message"), trigger.Vars),
		RemindAt:   time.Now().Add(time.Duration(days*24) * time.Hour),
	}
	if err := h.Store.CreateReminder(ctx, reminder); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"reminder_id": reminder.ID.String(),
		"preview":     preview(reminder.Message),
	}, nil
}

// ----------------------------------------------------------------------------
// assign_to_team
// ----------------------------------------------------------------------------

// AssignToTeamHandler sets the owning team on the profile.
type AssignToTeamHandler struct {
	Store *customers.Store
}

func (h *AssignToTeamHandler) Validate(cfg Config) error {
	_, err := cfg.RequiredString("team")
	return err
}

func (h *AssignToTeamHandler) Execute(ctx context.Context, cfg Config, customer *domain.Customer, trigger *TriggerContext) (map[string]interface{}, error) {
	team := cfg.String("team")
	if err := h.Store.AssignTeam(ctx, customer.ID, team); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"team":    team,
		"preview": "assigned to " + team,
	}, nil
}

// ----------------------------------------------------------------------------
// log_activity
// ----------------------------------------------------------------------------

// LogActivityHandler appends a free-form entry to the customer timeline.
type LogActivityHandler struct {
	Store *customers.Store
}

func (h *LogActivityHandler) Validate(cfg Config) error {
	_, err := cfg.RequiredString("activity.description")
	return err
}

func (h *LogActivityHandler) Execute(ctx context.Context, cfg Config, customer *domain.Customer, trigger *TriggerContext) (map[string]interface{}, error) {
	kind := cfg.String("activity.kind")
	if kind == "" {
		kind = "automation"
	}
	description := template.Render(cfg.String("activity.description"), trigger.Vars)
	if err := h.Store.LogActivity(ctx, customer.ID, kind, description); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"kind":    kind,
		"preview": preview(description),
	}, nil
}
