package actions

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
	"github.com/saffronemporial/lifecycle-engine/internal/messaging"
	"github.com/saffronemporial/lifecycle-engine/internal/template"
)

type stubGateway struct {
	got    *messaging.SendRequest
	result *messaging.SendResult
	err    error
}

func (g *stubGateway) Send(ctx context.Context, req *messaging.SendRequest) (*messaging.SendResult, error) {
	g.got = req
	return g.result, g.err
}

type stubSegments struct {
	added, removed []uuid.UUID
	err            error
}

func (s *stubSegments) AddToSegment(ctx context.Context, segmentID, customerID uuid.UUID, reason string) error {
	s.added = append(s.added, segmentID)
	return s.err
}

func (s *stubSegments) RemoveFromSegment(ctx context.Context, segmentID, customerID uuid.UUID, reason string) error {
	s.removed = append(s.removed, segmentID)
	return s.err
}

func triggerFor(customer *domain.Customer, extra map[string]interface{}) *TriggerContext {
	return &TriggerContext{
		Trigger: extra,
		Vars:    template.Variables(customer, extra),
	}
}

func TestSendMessageHandler_Validate(t *testing.T) {
	h := &SendMessageHandler{}

	err := h.Validate(Config{})
	assert.True(t, domain.IsValidation(err), "missing template")

	err = h.Validate(Config{"message.template": "hi", "channel": "carrier-pigeon"})
	assert.True(t, domain.IsValidation(err), "unknown channel")

	assert.NoError(t, h.Validate(Config{"message.template": "hi"}))
	assert.NoError(t, h.Validate(Config{"message.template": "hi", "channel": "broadcast"}))
}

func TestSendMessageHandler_Execute(t *testing.T) {
	gw := &stubGateway{result: &messaging.SendResult{MessageID: "msg-42", Status: "sent"}}
	h := &SendMessageHandler{Gateway: gw}
	customer := testCustomer()
	workflowID := uuid.New()

	cfg := Config{
		"message.template": "Hi {{first_name}}, your order {{order_id}} shipped.",
		"subject.template": "Order update",
	}
	trigger := triggerFor(customer, map[string]interface{}{"order_id": "ORD-17"})
	trigger.WorkflowID = &workflowID

	payload, err := h.Execute(context.Background(), cfg, customer, trigger)
	require.NoError(t, err)

	assert.Equal(t, "Hi Ada, your order ORD-17 shipped.", gw.got.Content)
	assert.Equal(t, "Order update", gw.got.Subject)
	assert.Equal(t, customer.Email, gw.got.To)
	assert.Equal(t, messaging.ChannelMessage, gw.got.Channel, "channel defaults to message")
	assert.Equal(t, workflowID.String(), gw.got.AutomationID)
	assert.Equal(t, "msg-42", payload["external_ref"])
}

func TestSendMessageHandler_GatewayFailureKeepsPayload(t *testing.T) {
	gw := &stubGateway{err: context.DeadlineExceeded}
	h := &SendMessageHandler{Gateway: gw}
	customer := testCustomer()

	payload, err := h.Execute(context.Background(),
		Config{"message.template": "hi"}, customer, triggerFor(customer, nil))
	require.Error(t, err)
	assert.Equal(t, "message", payload["channel"], "failed sends still report channel and preview")
	assert.NotEmpty(t, payload["preview"])
}

func TestUpdateSegmentHandler_Validate(t *testing.T) {
	h := &UpdateSegmentHandler{}

	assert.True(t, domain.IsValidation(h.Validate(Config{})))
	assert.True(t, domain.IsValidation(h.Validate(Config{"segment_id": "not-a-uuid", "operation": "add"})))
	assert.True(t, domain.IsValidation(h.Validate(Config{"segment_id": uuid.NewString(), "operation": "toggle"})))
	assert.NoError(t, h.Validate(Config{"segment_id": uuid.NewString(), "operation": "remove"}))
}

func TestUpdateSegmentHandler_Execute(t *testing.T) {
	segs := &stubSegments{}
	h := &UpdateSegmentHandler{Segments: segs}
	customer := testCustomer()
	segmentID := uuid.New()

	_, err := h.Execute(context.Background(),
		Config{"segment_id": segmentID.String(), "operation": "add"},
		customer, triggerFor(customer, nil))
	require.NoError(t, err)
	require.Len(t, segs.added, 1)
	assert.Equal(t, segmentID, segs.added[0])

	_, err = h.Execute(context.Background(),
		Config{"segment_id": segmentID.String(), "operation": "remove"},
		customer, triggerFor(customer, nil))
	require.NoError(t, err)
	require.Len(t, segs.removed, 1)
}

func TestTriggerWebhookHandler_Execute(t *testing.T) {
	var gotMethod, gotBody, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := &TriggerWebhookHandler{Client: srv.Client()}
	customer := testCustomer()

	payload, err := h.Execute(context.Background(), Config{
		"url":              srv.URL,
		"payload.template": `{"customer":"{{name}}"}`,
	}, customer, triggerFor(customer, nil))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod, "method defaults to POST")
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"customer":"Ada Lovelace"}`, gotBody)
	assert.Equal(t, http.StatusOK, payload["status_code"])
}

func TestTriggerWebhookHandler_DefaultBody(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := &TriggerWebhookHandler{Client: srv.Client()}
	customer := testCustomer()

	_, err := h.Execute(context.Background(), Config{"url": srv.URL},
		customer, triggerFor(customer, nil))
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, customer.ID.String(), decoded["customer_id"])
}

func TestTriggerWebhookHandler_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := &TriggerWebhookHandler{Client: srv.Client()}
	customer := testCustomer()

	payload, err := h.Execute(context.Background(), Config{"url": srv.URL},
		customer, triggerFor(customer, nil))
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err), "5xx webhook responses are transient")
	assert.Equal(t, http.StatusBadGateway, payload["status_code"])
}

func TestUpdateCustomerHandler_Validate(t *testing.T) {
	h := &UpdateCustomerHandler{}
	assert.True(t, domain.IsValidation(h.Validate(Config{})))
	assert.NoError(t, h.Validate(Config{"tags.add": []interface{}{"vip"}}))
}

func TestConfigHelpers(t *testing.T) {
	cfg := Config{"title": "hello", "count": float64(3), "whole": 7}

	assert.Equal(t, "hello", cfg.String("title"))
	assert.Empty(t, cfg.String("missing"))

	v, err := cfg.RequiredString("title")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	_, err = cfg.RequiredString("missing")
	assert.True(t, domain.IsValidation(err))

	f, ok := cfg.Float("count")
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)
	f, ok = cfg.Float("whole")
	assert.True(t, ok)
	assert.Equal(t, 7.0, f)
	_, ok = cfg.Float("title")
	assert.False(t, ok)
}

func TestStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringSlice([]interface{}{"a", "b", 3}))
	assert.Equal(t, []string{"x"}, stringSlice([]string{"x"}))
	assert.Nil(t, stringSlice("not a slice"))
}

func TestStringMap(t *testing.T) {
	vars := map[string]string{"name": "Ada"}
	out := stringMap(map[string]interface{}{
		"greeting": "hi {{name}}",
		"limit":    float64(5),
	}, vars)
	assert.Equal(t, "hi Ada", out["greeting"])
	assert.Equal(t, "5", out["limit"])
	assert.Nil(t, stringMap("nope", vars))
}
