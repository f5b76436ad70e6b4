// Package slack delivers job failure notifications to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meschain/marketsync/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL   string
	Channel      string
	Username     string
	Timeout      time.Duration
	RetryLimit   int
	Client       *http.Client
	JobURLPrefix string
}

// Client delivers job failure notifications to a Slack webhook.
type Client struct {
	webhookURL   string
	channel      string
	username     string
	retryLimit   int
	jobURLPrefix string
	client       *http.Client
}

// NewClient builds a Slack webhook client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	retries := max(cfg.RetryLimit, 0)

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "marketsync"
	}

	return &Client{
		webhookURL:   webhookURL,
		channel:      strings.TrimSpace(cfg.Channel),
		username:     username,
		retryLimit:   retries,
		jobURLPrefix: strings.TrimSpace(cfg.JobURLPrefix),
		client:       hc,
	}, nil
}

// SendJobFailure posts a formatted message to Slack.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	msg := c.formatMessage(payload)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return c.postWithRetry(ctx, body)
}

func (c *Client) postWithRetry(ctx context.Context, body []byte) error {
	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err := c.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts-1 {
			// Simple linear backoff to avoid thundering retries.
			delay := time.Duration(attempt+1) * 200 * time.Millisecond
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return lastErr
}

// SendOperatorAlert posts an ad-hoc alert, reusing the retry loop of
// SendJobFailure.
func (c *Client) SendOperatorAlert(ctx context.Context, payload notify.OperatorAlertPayload) error {
	timestamp := payload.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	text := strings.Builder{}
	text.WriteString("*")
	text.WriteString(escapeText(payload.Title))
	text.WriteString("*\n")
	if payload.Severity != "" {
		text.WriteString("• Severity: ")
		text.WriteString(payload.Severity)
		text.WriteByte('\n')
	}
	if payload.Marketplace != "" {
		text.WriteString("• Marketplace: ")
		text.WriteString(escapeText(payload.Marketplace))
		text.WriteByte('\n')
	}
	if payload.Message != "" {
		text.WriteString("• ")
		text.WriteString(escapeText(payload.Message))
		text.WriteByte('\n')
	}
	writeMetadata(&text, payload.Metadata)
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return c.postWithRetry(ctx, body)
}

func (c *Client) formatMessage(payload notify.JobFailurePayload) map[string]any {
	timestamp := payload.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	text := strings.Builder{}
	c.writeHeader(&text, payload)
	writeDetails(&text, payload)
	writeMetadata(&text, payload.Metadata)
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func (c *Client) writeHeader(text *strings.Builder, payload notify.JobFailurePayload) {
	if payload.DeadLettered {
		text.WriteString("*Job dead-lettered*")
	} else {
		text.WriteString("*Job failure*")
	}
	if payload.JobID != "" {
		text.WriteString(" `")
		text.WriteString(c.formatJobValue(payload.JobID))
		text.WriteByte('`')
	}
	if payload.JobType != "" {
		text.WriteString(" (")
		text.WriteString(payload.JobType)
		text.WriteByte(')')
	}
	text.WriteByte('\n')
}

func writeDetails(text *strings.Builder, payload notify.JobFailurePayload) {
	severity := payload.Severity
	if severity == "" {
		severity = notify.SeverityCritical
	}

	attempts := ""
	if payload.Attempts > 0 {
		attempts = strconv.Itoa(payload.Attempts)
		if payload.MaxAttempts > 0 {
			attempts += "/" + strconv.Itoa(payload.MaxAttempts)
		}
	}

	fields := []struct {
		label string
		value string
	}{
		{"Severity", severity},
		{"Marketplace", escapeText(payload.Marketplace)},
		{"Attempts", attempts},
		{"Error class", payload.ErrorClass},
		{"Error", escapeText(payload.Error)},
	}

	for _, field := range fields {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		text.WriteString("• ")
		text.WriteString(field.label)
		text.WriteString(": ")
		text.WriteString(field.value)
		text.WriteByte('\n')
	}
}

// formatJobValue renders the job ID as a link into the jobs API when a
// prefix is configured, otherwise as plain text.
func (c *Client) formatJobValue(jobID string) string {
	id := escapeText(strings.TrimSpace(jobID))
	if id == "" {
		return ""
	}

	prefix := strings.TrimSpace(c.jobURLPrefix)
	if prefix == "" {
		return id
	}

	u, err := url.Parse(prefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return id
	}
	link, err := url.JoinPath(u.String(), jobID)
	if err != nil {
		return id
	}

	return fmt.Sprintf("<%s|%s>", link, id)
}

func escapeText(value string) string {
	if value == "" {
		return ""
	}
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	).Replace(value)
}

func writeMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	text.WriteString("• Metadata:\n")
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text.WriteString("    • ")
		text.WriteString(k)
		text.WriteString(": ")
		text.WriteString(metadata[k])
		text.WriteByte('\n')
	}
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("read slack error response: %w", readErr)
		}
		return fmt.Errorf("slack webhook %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("drain slack response body: %w", err)
	}
	return nil
}
