// Package messaging is the client for the external messaging gateway. The
// concrete transports behind the gateway (email, SMS, chat) are not part of
// this system; the dispatcher only depends on the contract here.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/saffronemporial/lifecycle-engine/internal/pkg/httpretry"
)

// Supported channels.
const (
	ChannelMessage   = "message"
	ChannelTaskNote  = "task-note"
	ChannelBroadcast = "broadcast"
)

// SendRequest is the gateway send payload.
type SendRequest struct {
	To           string            `json:"to"`
	Channel      string            `json:"channel"`
	Subject      string            `json:"subject,omitempty"`
	Content      string            `json:"content"`
	TemplateRefs map[string]string `json:"template_refs,omitempty"`
	ProfileID    uuid.UUID         `json:"profile_id"`
	AutomationID string            `json:"automation_id,omitempty"`
}

// SendResult is the gateway response on success.
type SendResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Gateway sends one message through the external messaging service.
type Gateway interface {
	Send(ctx context.Context, req *SendRequest) (*SendResult, error)
}

// HTTPGateway implements Gateway over the gateway's HTTP API with retries.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  httpretry.HTTPDoer
}

// NewHTTPGateway builds a gateway client. A nil client gets a retrying
// default with a 30s per-attempt timeout.
func NewHTTPGateway(baseURL, apiKey string, client httpretry.HTTPDoer) *HTTPGateway {
	if client == nil {
		client = httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 2)
	}
	return &HTTPGateway{baseURL: baseURL, apiKey: apiKey, client: client}
}

// Send posts the message. Any non-2xx response or a non-ok gateway status is
// a failure the caller treats as a transient action failure.
func (g *HTTPGateway) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	if req.Channel == "" {
		req.Channel = ChannelMessage
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gateway send: status %d: %s", resp.StatusCode, string(data))
	}

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if result.Status != "" && result.Status != "ok" && result.Status != "sent" && result.Status != "queued" {
		return nil, fmt.Errorf("gateway rejected message: status=%s", result.Status)
	}
	return &result, nil
}
