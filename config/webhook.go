package config

import (
	"time"

	"github.com/meschain/marketsync/internal/domain/model"
)

// WebhookConfig contains webhook intake configuration. A marketplace with
// no secret configured has its webhook endpoint effectively disabled:
// verification rejects every delivery.
type WebhookConfig struct {
	TrendyolSecret    string `env:"WEBHOOK_TRENDYOL_SECRET"`
	N11Secret         string `env:"WEBHOOK_N11_SECRET"`
	AmazonSecret      string `env:"WEBHOOK_AMAZON_SECRET"`
	EbaySecret        string `env:"WEBHOOK_EBAY_SECRET"`
	HepsiburadaSecret string `env:"WEBHOOK_HEPSIBURADA_SECRET"`
	OzonSecret        string `env:"WEBHOOK_OZON_SECRET"`
	PazaramaSecret    string `env:"WEBHOOK_PAZARAMA_SECRET"`

	// DedupTTL is the cache-side replay suppression window. The ledger
	// retention in SweeperConfig must outlast it.
	DedupTTL time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"72h"`

	// MaxBodyBytes caps accepted webhook payload size.
	MaxBodyBytes int64 `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"` // 1 MiB
}

// Sanitize applies guardrails to webhook configuration values.
func (w *WebhookConfig) Sanitize() {
	if w.DedupTTL < time.Hour {
		w.DedupTTL = time.Hour
	}
	if w.MaxBodyBytes < 1024 {
		w.MaxBodyBytes = 1024
	}
}

// Secrets returns the per-marketplace signing secrets, skipping empty ones.
func (w *WebhookConfig) Secrets() map[model.Marketplace]string {
	all := map[model.Marketplace]string{
		model.MarketplaceTrendyol:    w.TrendyolSecret,
		model.MarketplaceN11:         w.N11Secret,
		model.MarketplaceAmazon:      w.AmazonSecret,
		model.MarketplaceEbay:        w.EbaySecret,
		model.MarketplaceHepsiburada: w.HepsiburadaSecret,
		model.MarketplaceOzon:        w.OzonSecret,
		model.MarketplacePazarama:    w.PazaramaSecret,
	}

	secrets := make(map[model.Marketplace]string)
	for marketplace, secret := range all {
		if secret != "" {
			secrets[marketplace] = secret
		}
	}
	return secrets
}
