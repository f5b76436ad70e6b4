package model

import (
	"fmt"
	"strings"
)

// Marketplace identifies one of the integrated marketplaces.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Marketplace string

const (
	// MarketplaceTrendyol is the Trendyol marketplace.
	MarketplaceTrendyol Marketplace = "trendyol"
	// MarketplaceN11 is the N11 marketplace.
	MarketplaceN11 Marketplace = "n11"
	// MarketplaceAmazon is the Amazon marketplace.
	MarketplaceAmazon Marketplace = "amazon"
	// MarketplaceEbay is the eBay marketplace.
	MarketplaceEbay Marketplace = "ebay"
	// MarketplaceHepsiburada is the Hepsiburada marketplace.
	MarketplaceHepsiburada Marketplace = "hepsiburada"
	// MarketplaceOzon is the Ozon marketplace.
	MarketplaceOzon Marketplace = "ozon"
	// MarketplacePazarama is the Pazarama marketplace.
	MarketplacePazarama Marketplace = "pazarama"
)

// Marketplaces returns all supported marketplaces in stable order.
func Marketplaces() []Marketplace {
	return []Marketplace{
		MarketplaceTrendyol,
		MarketplaceN11,
		MarketplaceAmazon,
		MarketplaceEbay,
		MarketplaceHepsiburada,
		MarketplaceOzon,
		MarketplacePazarama,
	}
}

// Valid returns true if the Marketplace is one of the supported set.
func (m Marketplace) Valid() bool {
	switch m {
	case MarketplaceTrendyol, MarketplaceN11, MarketplaceAmazon, MarketplaceEbay,
		MarketplaceHepsiburada, MarketplaceOzon, MarketplacePazarama:
		return true
	default:
		return false
	}
}

// ParseMarketplace parses a marketplace name from a URL path segment or config value.
func ParseMarketplace(v string) (Marketplace, error) {
	m := Marketplace(strings.ToLower(strings.TrimSpace(v)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown marketplace: %q", v)
	}
	return m, nil
}

// UnmarshalText implements encoding.TextUnmarshaler to allow env parsing.
func (m *Marketplace) UnmarshalText(text []byte) error {
	parsed, err := ParseMarketplace(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
