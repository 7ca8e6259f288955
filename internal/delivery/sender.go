// Package delivery sends chosen jobs to downstream channels. The pipeline
// invokes the sender once per (job, channel) pair and persists the returned
// delivery reference verbatim in the posting ledger.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonathan/jobdigest/internal/types"
)

// Sender delivers one job to one channel and returns an opaque delivery
// reference (e.g. a message id).
type Sender interface {
	Send(ctx context.Context, job types.Job, channelID string) (string, error)
}

// SendError represents a failed delivery attempt.
type SendError struct {
	ChannelID string
	Message   string
	Cause     error
}

func (e *SendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("delivery to %s failed: %s: %v", e.ChannelID, e.Message, e.Cause)
	}
	return fmt.Sprintf("delivery to %s failed: %s", e.ChannelID, e.Message)
}

func (e *SendError) Unwrap() error {
	return e.Cause
}

// webhookPayload is the body posted per delivery.
type webhookPayload struct {
	Channel        string `json:"channel"`
	Title          string `json:"title"`
	Company        string `json:"company"`
	Location       string `json:"location,omitempty"`
	URL            string `json:"url,omitempty"`
	Source         string `json:"source,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// webhookResponse is the minimal expected response shape.
type webhookResponse struct {
	ID string `json:"id"`
}

// WebhookSender posts jobs to an HTTP endpoint that responds with a message id.
type WebhookSender struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewWebhookSender builds a sender for the given endpoint.
func NewWebhookSender(url string, log zerolog.Logger) *WebhookSender {
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
}

// Send posts the job to the endpoint and returns the message id from the
// response.
func (s *WebhookSender) Send(ctx context.Context, job types.Job, channelID string) (string, error) {
	payload := webhookPayload{
		Channel:        channelID,
		Title:          job.Title,
		Company:        job.Company,
		Location:       job.Location,
		URL:            job.URL,
		Source:         job.Source,
		IdempotencyKey: uuid.NewString(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &SendError{ChannelID: channelID, Message: "failed to marshal payload", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", &SendError{ChannelID: channelID, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &SendError{ChannelID: channelID, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SendError{ChannelID: channelID, Message: "failed to read response", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SendError{ChannelID: channelID, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	var parsed webhookResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.ID == "" {
		// Some endpoints acknowledge without a body; fall back to the
		// idempotency key so the ledger still gets a stable reference.
		s.log.Debug().Str("channel", channelID).Msg("webhook response had no id, using idempotency key")
		return payload.IdempotencyKey, nil
	}

	return parsed.ID, nil
}
