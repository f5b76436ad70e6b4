package model

import (
	"encoding/json"
	"time"
)

// Topic is a typed classification of an inbound webhook event.
type Topic string

const (
	// TopicItemSold is raised when a listing sells.
	TopicItemSold Topic = "item_sold"
	// TopicItemEnded is raised when a listing ends without selling.
	TopicItemEnded Topic = "item_ended"
	// TopicPaymentDisputeCreated is raised when a buyer opens a payment dispute.
	TopicPaymentDisputeCreated Topic = "payment_dispute_created"
	// TopicFeedbackReceived is raised when a buyer leaves feedback.
	TopicFeedbackReceived Topic = "feedback_received"
	// TopicReturnCreated is raised when a buyer opens a return.
	TopicReturnCreated Topic = "return_created"
	// TopicAccountDeletion is raised when a marketplace account requests data deletion.
	TopicAccountDeletion Topic = "account_deletion"
	// TopicUnknown marks topics this system intentionally ignores.
	TopicUnknown Topic = "unknown"
)

// VerifiedEvent is an inbound webhook that passed signature verification.
// It is ephemeral: discarded once dispatch completes or fails.
type VerifiedEvent struct {
	Marketplace Marketplace     `json:"marketplace"`
	Topic       string          `json:"topic"`
	RawPayload  json.RawMessage `json:"-"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// Event is the classified form of a VerifiedEvent, ready for dispatch.
type Event struct {
	Marketplace     Marketplace     `json:"marketplace"`
	Topic           Topic           `json:"topic"`
	ExternalEventID string          `json:"external_event_id"`
	ExternalItemID  string          `json:"external_item_id,omitempty"`
	SaleID          string          `json:"sale_id,omitempty"`
	Quantity        int             `json:"quantity,omitempty"`
	BuyerID         string          `json:"buyer_id,omitempty"`
	Rating          int             `json:"rating,omitempty"`
	Comment         string          `json:"comment,omitempty"`
	Payload         json.RawMessage `json:"-"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// DedupKey builds the idempotency key for duplicate delivery suppression.
func (e *Event) DedupKey() string {
	return string(e.Marketplace) + ":" + string(e.Topic) + ":" + e.ExternalEventID
}

// DispatchOutcome describes what the dispatcher did with a verified event.
type DispatchOutcome string

const (
	// OutcomeHandled means a synchronous handler completed the work.
	OutcomeHandled DispatchOutcome = "handled"
	// OutcomeEnqueued means follow-up work was pushed as a background job.
	OutcomeEnqueued DispatchOutcome = "enqueued"
	// OutcomeDuplicate means the event was already processed and was acknowledged without side effects.
	OutcomeDuplicate DispatchOutcome = "duplicate"
	// OutcomeIgnored means the topic is intentionally unhandled.
	OutcomeIgnored DispatchOutcome = "ignored"
)
