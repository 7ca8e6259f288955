package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/jobdigest/internal/types"
)

func TestWebhookSender_Send(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id": "msg-123"}`))
	}))
	defer server.Close()

	s := NewWebhookSender(server.URL, zerolog.Nop())
	ref, err := s.Send(context.Background(), types.Job{Title: "Engineer", Company: "Acme", Source: "boards"}, "tech")
	require.NoError(t, err)

	assert.Equal(t, "msg-123", ref)
	assert.Equal(t, "tech", got.Channel)
	assert.Equal(t, "Engineer", got.Title)
	assert.NotEmpty(t, got.IdempotencyKey)
}

func TestWebhookSender_EmptyResponseFallsBackToIdempotencyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := NewWebhookSender(server.URL, zerolog.Nop())
	ref, err := s.Send(context.Background(), types.Job{Title: "Engineer", Company: "Acme"}, "tech")
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
}

func TestWebhookSender_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := NewWebhookSender(server.URL, zerolog.Nop())
	_, err := s.Send(context.Background(), types.Job{Title: "Engineer", Company: "Acme"}, "tech")
	require.Error(t, err)

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "tech", sendErr.ChannelID)
}
