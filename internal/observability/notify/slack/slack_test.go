package slack_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meschain/marketsync/internal/observability/notify"
	"github.com/meschain/marketsync/internal/observability/notify/slack"
)

func TestNewClientRequiresWebhookURL(t *testing.T) {
	_, err := slack.NewClient(slack.Config{})
	require.Error(t, err)
}

func TestSendJobFailureFormatsMessage(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client, err := slack.NewClient(slack.Config{
		WebhookURL:   server.URL,
		Channel:      "#marketsync-alerts",
		JobURLPrefix: "https://marketsync.example.com/api/jobs",
	})
	require.NoError(t, err)

	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{
		JobID:        "6b9de3f0",
		JobType:      "stock_sync",
		Marketplace:  "trendyol",
		Attempts:     3,
		MaxAttempts:  3,
		DeadLettered: true,
		Error:        "gateway timeout after 30s",
		ErrorClass:   "timeout",
		OccurredAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Metadata:     map[string]string{"sku": "TY-1001"},
	})
	require.NoError(t, err)

	assert.Equal(t, "marketsync", got["username"])
	assert.Equal(t, "#marketsync-alerts", got["channel"])

	text, ok := got["text"].(string)
	require.True(t, ok)
	assert.Contains(t, text, "*Job dead-lettered*")
	assert.Contains(t, text, "<https://marketsync.example.com/api/jobs/6b9de3f0|6b9de3f0>")
	assert.Contains(t, text, "(stock_sync)")
	assert.Contains(t, text, "Marketplace: trendyol")
	assert.Contains(t, text, "Attempts: 3/3")
	assert.Contains(t, text, "Error class: timeout")
	assert.Contains(t, text, "Timestamp: 2026-08-01T12:00:00Z")
}

func TestSendJobFailureRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client, err := slack.NewClient(slack.Config{WebhookURL: server.URL, RetryLimit: 2})
	require.NoError(t, err)

	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{
		JobID:   "abc",
		JobType: "order_sync",
		Error:   "boom",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendJobFailureEscapesMarkup(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client, err := slack.NewClient(slack.Config{WebhookURL: server.URL})
	require.NoError(t, err)

	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{
		JobID: "j1",
		Error: "<script>&",
	})
	require.NoError(t, err)

	text, ok := got["text"].(string)
	require.True(t, ok)
	assert.Contains(t, text, "&lt;script&gt;&amp;")
}
