package config

import (
	"testing"
	"time"

	"github.com/meschain/marketsync/internal/domain/model"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []ServiceMode
		wantErr bool
	}{
		{name: "single", input: "http", want: []ServiceMode{ServiceModeHTTP}},
		{
			name:  "all",
			input: "http,scheduler,worker,sweeper",
			want:  []ServiceMode{ServiceModeHTTP, ServiceModeScheduler, ServiceModeWorker, ServiceModeSweeper},
		},
		{name: "whitespace", input: " worker , sweeper ", want: []ServiceMode{ServiceModeWorker, ServiceModeSweeper}},
		{name: "empty", input: "", wantErr: true},
		{name: "invalid", input: "http,reaper", wantErr: true},
		{name: "only commas", input: ",,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseServices(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseServices(%q) unexpected error: %v", tt.input, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseServices(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for _, mode := range tt.want {
				if !got[mode] {
					t.Errorf("ParseServices(%q) missing %q", tt.input, mode)
				}
			}
		})
	}
}

func TestAppConfigServiceHelpers(t *testing.T) {
	cfg := AppConfig{Services: "http,worker"}

	if !cfg.IsHTTPServerEnabled() {
		t.Error("expected http enabled")
	}
	if !cfg.IsWorkerEnabled() {
		t.Error("expected worker enabled")
	}
	if cfg.IsSchedulerEnabled() {
		t.Error("expected scheduler disabled")
	}
	if cfg.IsSweeperEnabled() {
		t.Error("expected sweeper disabled")
	}

	bad := AppConfig{Services: "nope"}
	if bad.IsHTTPServerEnabled() {
		t.Error("invalid services string must disable everything")
	}
}

func TestWorkerConfigSanitize(t *testing.T) {
	cfg := WorkerConfig{Concurrency: 0, JobLease: time.Second, HeartbeatInterval: 2 * time.Minute}
	cfg.Sanitize()

	if cfg.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", cfg.Concurrency)
	}
	if cfg.JobLease != 5*time.Second {
		t.Errorf("JobLease = %v, want 5s", cfg.JobLease)
	}
	if cfg.HeartbeatInterval >= cfg.JobLease {
		t.Errorf("HeartbeatInterval = %v must stay under JobLease %v", cfg.HeartbeatInterval, cfg.JobLease)
	}
	if cfg.IdleWait != time.Second {
		t.Errorf("IdleWait = %v, want 1s", cfg.IdleWait)
	}
}

func TestSweeperConfigSanitize(t *testing.T) {
	cfg := SweeperConfig{
		Interval:      time.Second,
		BatchSize:     0,
		PendingMaxAge: time.Minute,
		LedgerMaxAge:  time.Hour,
	}
	cfg.Sanitize()

	if cfg.Interval != time.Minute {
		t.Errorf("Interval = %v, want 1m", cfg.Interval)
	}
	if cfg.BatchSize != 1 {
		t.Errorf("BatchSize = %d, want 1", cfg.BatchSize)
	}
	if cfg.PendingMaxAge != 5*time.Minute {
		t.Errorf("PendingMaxAge = %v, want 5m", cfg.PendingMaxAge)
	}
	if cfg.LedgerMaxAge != 72*time.Hour {
		t.Errorf("LedgerMaxAge = %v, want 72h; ledger must outlast the dedup cache", cfg.LedgerMaxAge)
	}

	huge := SweeperConfig{Interval: time.Hour, BatchSize: 50000}
	huge.Sanitize()
	if huge.BatchSize != 10000 {
		t.Errorf("BatchSize = %d, want clamp to 10000", huge.BatchSize)
	}
}

func TestGatewayConfigPerMarketplace(t *testing.T) {
	cfg := GatewayConfig{
		Trendyol: MarketplaceAPIConfig{APIKey: "key", APISecret: "secret", HourlyLimit: 2000},
		Ebay: MarketplaceAPIConfig{
			ClientID:     "client",
			ClientSecret: "secret",
			TokenURL:     "https://api.ebay.com/identity/v1/oauth2/token",
			BaseURL:      "https://api.sandbox.ebay.com",
		},
	}

	per := cfg.PerMarketplace()
	if len(per) != 2 {
		t.Fatalf("PerMarketplace() = %d entries, want 2", len(per))
	}
	if _, ok := per[model.MarketplaceOzon]; ok {
		t.Error("unconfigured marketplace must be absent")
	}

	limits := cfg.RateLimits()
	if limits[model.MarketplaceTrendyol] != 2000 {
		t.Errorf("RateLimits trendyol = %d, want 2000", limits[model.MarketplaceTrendyol])
	}
	if _, ok := limits[model.MarketplaceEbay]; ok {
		t.Error("zero override must not appear in RateLimits")
	}

	urls := cfg.BaseURLs()
	if urls[model.MarketplaceEbay] != "https://api.sandbox.ebay.com" {
		t.Errorf("BaseURLs ebay = %q", urls[model.MarketplaceEbay])
	}
}

func TestWebhookConfigSecrets(t *testing.T) {
	cfg := WebhookConfig{
		TrendyolSecret: "a",
		EbaySecret:     "b",
		DedupTTL:       time.Minute,
	}
	cfg.Sanitize()

	secrets := cfg.Secrets()
	if len(secrets) != 2 {
		t.Fatalf("Secrets() = %d entries, want 2", len(secrets))
	}
	if secrets[model.MarketplaceTrendyol] != "a" {
		t.Errorf("trendyol secret = %q", secrets[model.MarketplaceTrendyol])
	}
	if cfg.DedupTTL != time.Hour {
		t.Errorf("DedupTTL = %v, want clamp to 1h", cfg.DedupTTL)
	}
}

func TestObservabilityNotificationsSanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled: true,
		Slack:   SlackNotificationConfig{Enabled: true, WebhookURL: "  "},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: "rk",
		},
	}
	cfg.Sanitize()

	if cfg.Slack.Enabled {
		t.Error("slack without webhook URL must be disabled")
	}
	if !cfg.PagerDuty.Enabled {
		t.Error("pagerduty with routing key must stay enabled")
	}
	if cfg.PagerDuty.Source != "marketsync" {
		t.Errorf("Source = %q, want marketsync", cfg.PagerDuty.Source)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want default 5s", cfg.Timeout)
	}
}
