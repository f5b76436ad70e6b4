package model

import (
	"errors"
	"time"
)

// StockItem is a locally tracked listing with its live quantity.
// Quantity never goes below zero; oversells clamp and are logged upstream.
type StockItem struct {
	SKU            string      `json:"sku"              db:"sku"`
	Marketplace    Marketplace `json:"marketplace"      db:"marketplace"`
	ExternalItemID string      `json:"external_item_id" db:"external_item_id"`
	Quantity       int         `json:"quantity"         db:"quantity"`
	Price          float64     `json:"price"            db:"price"`
	UpdatedAt      time.Time   `json:"updated_at"       db:"updated_at"`
}

// FeedbackRecord stores buyer feedback received from a marketplace.
// ExternalEventID is unique so replayed deliveries collapse to one row.
type FeedbackRecord struct {
	Marketplace     Marketplace `json:"marketplace"       db:"marketplace"`
	ExternalEventID string      `json:"external_event_id" db:"external_event_id"`
	ExternalItemID  string      `json:"external_item_id"  db:"external_item_id"`
	BuyerID         string      `json:"buyer_id"          db:"buyer_id"`
	Rating          int         `json:"rating"            db:"rating"`
	Comment         string      `json:"comment"           db:"comment"`
	ReceivedAt      time.Time   `json:"received_at"       db:"received_at"`
}

// Validate checks the record invariants before persistence.
func (f *FeedbackRecord) Validate() error {
	if !f.Marketplace.Valid() {
		return errors.New("invalid marketplace")
	}
	if f.ExternalEventID == "" {
		return errors.New("external event id is required")
	}
	if f.Rating < 0 || f.Rating > 5 {
		return errors.New("rating must be between 0 and 5")
	}
	return nil
}
