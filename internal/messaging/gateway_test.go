package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGateway_Send(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(SendResult{MessageID: "msg-7", Status: "queued"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "secret-key", srv.Client())
	profileID := uuid.New()

	result, err := g.Send(context.Background(), &SendRequest{
		To:        "ada@example.com",
		Content:   "hello",
		ProfileID: profileID,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, ChannelMessage, gotReq.Channel, "empty channel defaults to message")
	assert.Equal(t, profileID, gotReq.ProfileID)
	assert.Equal(t, "msg-7", result.MessageID)
}

func TestHTTPGateway_NoAPIKeyOmitsAuth(t *testing.T) {
	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization") != ""
		json.NewEncoder(w).Encode(SendResult{MessageID: "m", Status: "ok"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "", srv.Client())
	_, err := g.Send(context.Background(), &SendRequest{To: "a@b.c", Content: "x"})
	require.NoError(t, err)
	assert.False(t, sawAuth)
}

func TestHTTPGateway_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "k", srv.Client())
	_, err := g.Send(context.Background(), &SendRequest{To: "a@b.c", Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestHTTPGateway_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SendResult{MessageID: "m", Status: "bounced"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "k", srv.Client())
	_, err := g.Send(context.Background(), &SendRequest{To: "a@b.c", Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=bounced")
}
