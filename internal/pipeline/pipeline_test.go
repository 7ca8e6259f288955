package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/jobdigest/internal/config"
	"github.com/jonathan/jobdigest/internal/delivery"
	"github.com/jonathan/jobdigest/internal/fingerprint"
	"github.com/jonathan/jobdigest/internal/ledger"
	"github.com/jonathan/jobdigest/internal/storage"
)

type recordedPost struct {
	Channel string `json:"channel"`
	Title   string `json:"title"`
}

func newWebhook(t *testing.T) (*httptest.Server, func() []recordedPost) {
	t.Helper()
	var (
		mu    sync.Mutex
		posts []recordedPost
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var post recordedPost
		require.NoError(t, json.NewDecoder(r.Body).Decode(&post))
		mu.Lock()
		posts = append(posts, post)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"id": "msg-1"}`))
	}))
	t.Cleanup(server.Close)
	return server, func() []recordedPost {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedPost(nil), posts...)
	}
}

func newFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, feedURL, webhookURL string) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.WebhookURL = webhookURL
	cfg.SourceRepo = "acme/jobdigest"
	cfg.Feeds = []config.FeedConfig{{Name: "boards", Kind: "json", URL: feedURL}}
	cfg.Rules = []config.RuleConfig{{Pattern: `engineer`, Channels: []string{"tech"}, Kind: "topic"}}
	return cfg
}

func TestRun_DeliversAndRecords(t *testing.T) {
	feed := newFeed(t, `[
		{"id": "j1", "title": "Backend Engineer", "company": "Acme", "location": "Berlin"},
		{"id": "j2", "title": "Accountant", "company": "Acme"}
	]`)
	webhook, posts := newWebhook(t)
	cfg := testConfig(t, feed.URL, webhook.URL)

	p, err := New(cfg, delivery.NewWebhookSender(cfg.WebhookURL, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, 1, stats.Skipped, "unrouted job skipped")

	got := posts()
	require.Len(t, got, 1)
	assert.Equal(t, "tech", got[0].Channel)
	assert.Equal(t, "Backend Engineer", got[0].Title)

	// Delivery landed in the posting ledger with a sequence number.
	var doc struct {
		Instances []*ledger.PostingInstance `json:"instances"`
		Metadata  struct {
			Marks map[string]int `json:"channelSequenceHighWaterMarks"`
		} `json:"metadata"`
	}
	require.NoError(t, storage.ReadJSON(cfg.LedgerPath(), &doc))
	require.Len(t, doc.Instances, 1)
	assert.Equal(t, "j1", doc.Instances[0].JobID)
	assert.Contains(t, doc.Instances[0].ChannelDeliveries, "tech")
	assert.Equal(t, 1, doc.Metadata.Marks["tech"])
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	feed := newFeed(t, `[{"id": "j1", "title": "Backend Engineer", "company": "Acme"}]`)
	webhook, posts := newWebhook(t)
	cfg := testConfig(t, feed.URL, webhook.URL)

	p, err := New(cfg, delivery.NewWebhookSender(cfg.WebhookURL, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)
	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Delivered)
	assert.Equal(t, 1, stats.Skipped, "rolling dedupe store filters the replay")
	assert.Len(t, posts(), 1, "job delivered exactly once across runs")
}

func TestRun_GlobalLedgerBlocksCrossConsumerDuplicate(t *testing.T) {
	feed := newFeed(t, `[{"id": "j1", "title": "Backend Engineer", "company": "Acme", "location": "Berlin"}]`)
	webhook, posts := newWebhook(t)
	cfg := testConfig(t, feed.URL, webhook.URL)

	// Another consumer already delivered this fingerprint.
	seeded := map[string]any{
		"version": 1,
		"fingerprints": map[string]any{
			fingerprint.Hash("Backend Engineer", "Acme", "Berlin"): map[string]any{
				"jobId":    "j1",
				"postedAt": "2199-01-01T00:00:00Z",
			},
		},
	}
	require.NoError(t, storage.WriteJSONAtomic(cfg.GlobalLedgerPath(), seeded))

	p, err := New(cfg, delivery.NewWebhookSender(cfg.WebhookURL, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Delivered)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Empty(t, posts())
}

func TestRun_FailedDeliveryNotRecorded(t *testing.T) {
	feed := newFeed(t, `[{"id": "j1", "title": "Backend Engineer", "company": "Acme"}]`)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(broken.Close)
	cfg := testConfig(t, feed.URL, broken.URL)

	p, err := New(cfg, delivery.NewWebhookSender(cfg.WebhookURL, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Delivered)

	var doc struct {
		Instances []*ledger.PostingInstance `json:"instances"`
	}
	require.NoError(t, storage.ReadJSON(cfg.LedgerPath(), &doc))
	assert.Empty(t, doc.Instances, "failed delivery must not create an instance")
}
