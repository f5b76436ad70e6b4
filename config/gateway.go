package config

import (
	"time"

	"github.com/meschain/marketsync/internal/domain/model"
)

// MarketplaceAPIConfig holds outbound API settings for one marketplace.
// Key-pair and OAuth client-credential marketplaces share this shape; the
// gateway picks the auth scheme from which fields are populated.
type MarketplaceAPIConfig struct {
	APIKey       string `env:"API_KEY"`
	APISecret    string `env:"API_SECRET"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	TokenURL     string `env:"TOKEN_URL"`

	// BaseURL overrides the built-in production endpoint, mainly for
	// sandbox environments and tests.
	BaseURL string `env:"BASE_URL"`

	// HourlyLimit overrides the built-in hourly call budget. Zero keeps
	// the default.
	HourlyLimit int64 `env:"HOURLY_LIMIT"`
}

// Configured reports whether any credential material was provided.
func (m MarketplaceAPIConfig) Configured() bool {
	return m.APIKey != "" || m.ClientID != ""
}

// GatewayConfig contains outbound marketplace gateway configuration.
type GatewayConfig struct {
	// CallTimeout bounds a single outbound marketplace call.
	CallTimeout time.Duration `env:"GATEWAY_CALL_TIMEOUT" envDefault:"15s"`

	// BreakerFailureThreshold is the consecutive failure count that opens
	// a circuit.
	BreakerFailureThreshold int `env:"GATEWAY_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`

	// BreakerCooldown is how long an open circuit rejects calls before
	// admitting a half-open probe.
	BreakerCooldown time.Duration `env:"GATEWAY_BREAKER_COOLDOWN" envDefault:"30s"`

	Trendyol    MarketplaceAPIConfig `envPrefix:"GATEWAY_TRENDYOL_"`
	N11         MarketplaceAPIConfig `envPrefix:"GATEWAY_N11_"`
	Amazon      MarketplaceAPIConfig `envPrefix:"GATEWAY_AMAZON_"`
	Ebay        MarketplaceAPIConfig `envPrefix:"GATEWAY_EBAY_"`
	Hepsiburada MarketplaceAPIConfig `envPrefix:"GATEWAY_HEPSIBURADA_"`
	Ozon        MarketplaceAPIConfig `envPrefix:"GATEWAY_OZON_"`
	Pazarama    MarketplaceAPIConfig `envPrefix:"GATEWAY_PAZARAMA_"`
}

// Sanitize applies guardrails to gateway configuration values.
func (g *GatewayConfig) Sanitize() {
	if g.CallTimeout < time.Second {
		g.CallTimeout = time.Second
	}
	if g.BreakerFailureThreshold < 1 {
		g.BreakerFailureThreshold = 1
	}
	if g.BreakerCooldown < time.Second {
		g.BreakerCooldown = time.Second
	}
}

// PerMarketplace returns the per-marketplace API settings keyed by
// marketplace, skipping unconfigured entries.
func (g *GatewayConfig) PerMarketplace() map[model.Marketplace]MarketplaceAPIConfig {
	all := map[model.Marketplace]MarketplaceAPIConfig{
		model.MarketplaceTrendyol:    g.Trendyol,
		model.MarketplaceN11:         g.N11,
		model.MarketplaceAmazon:      g.Amazon,
		model.MarketplaceEbay:        g.Ebay,
		model.MarketplaceHepsiburada: g.Hepsiburada,
		model.MarketplaceOzon:        g.Ozon,
		model.MarketplacePazarama:    g.Pazarama,
	}

	configured := make(map[model.Marketplace]MarketplaceAPIConfig)
	for marketplace, cfg := range all {
		if cfg.Configured() {
			configured[marketplace] = cfg
		}
	}
	return configured
}

// RateLimits returns the per-marketplace hourly limit overrides.
func (g *GatewayConfig) RateLimits() map[model.Marketplace]int64 {
	limits := make(map[model.Marketplace]int64)
	for marketplace, cfg := range g.PerMarketplace() {
		if cfg.HourlyLimit > 0 {
			limits[marketplace] = cfg.HourlyLimit
		}
	}
	return limits
}

// BaseURLs returns the per-marketplace base URL overrides.
func (g *GatewayConfig) BaseURLs() map[model.Marketplace]string {
	urls := make(map[model.Marketplace]string)
	for marketplace, cfg := range g.PerMarketplace() {
		if cfg.BaseURL != "" {
			urls[marketplace] = cfg.BaseURL
		}
	}
	return urls
}
