package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/meschain/marketsync/internal/domain/model"
)

// ErrMalformedPayload marks a delivery whose body is not valid JSON even
// though its signature checked out. The HTTP layer answers 400 so the
// sender sees a client error instead of an acknowledgement.
var ErrMalformedPayload = errors.New("malformed payload")

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Evaluate(expr string, data any) (any, error)
}

type jmespathLibEvaluator struct{}

func (jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// extractionRule holds the JMESPath expressions pulling the normalized
// event fields out of one marketplace's payload shape, plus the mapping
// from its native event names to topics.
type extractionRule struct {
	topic    string
	eventID  string
	itemID   string
	saleID   string
	quantity string
	buyerID  string
	rating   string
	comment  string
	topics   map[string]model.Topic
}

var extractionRules = map[model.Marketplace]extractionRule{
	model.MarketplaceTrendyol: {
		topic:    "eventType",
		eventID:  "eventId",
		itemID:   "order.productId",
		saleID:   "order.orderNumber",
		quantity: "order.quantity",
		buyerID:  "customer.id",
		rating:   "review.rating",
		comment:  "review.comment",
		topics: map[string]model.Topic{
			"OrderCreated":    model.TopicItemSold,
			"ListingEnded":    model.TopicItemEnded,
			"ClaimCreated":    model.TopicPaymentDisputeCreated,
			"ReturnRequested": model.TopicReturnCreated,
			"ReviewCreated":   model.TopicFeedbackReceived,
			"AccountDeletion": model.TopicAccountDeletion,
		},
	},
	model.MarketplaceN11: {
		topic:    "type",
		eventID:  "id",
		itemID:   "data.productId",
		saleID:   "data.orderId",
		quantity: "data.quantity",
		buyerID:  "data.buyerId",
		rating:   "data.rating",
		comment:  "data.comment",
		topics: map[string]model.Topic{
			"order.created":    model.TopicItemSold,
			"listing.ended":    model.TopicItemEnded,
			"dispute.opened":   model.TopicPaymentDisputeCreated,
			"return.created":   model.TopicReturnCreated,
			"feedback.created": model.TopicFeedbackReceived,
			"account.deleted":  model.TopicAccountDeletion,
		},
	},
	model.MarketplaceAmazon: {
		topic:    "notificationType",
		eventID:  "notificationId",
		itemID:   "payload.asin",
		saleID:   "payload.amazonOrderId",
		quantity: "payload.quantity",
		buyerID:  "payload.buyerId",
		rating:   "payload.rating",
		comment:  "payload.comment",
		topics: map[string]model.Topic{
			"ORDER_CHANGE":                model.TopicItemSold,
			"LISTINGS_ITEM_STATUS_CHANGE": model.TopicItemEnded,
			"CHARGEBACK_CREATED":          model.TopicPaymentDisputeCreated,
			"RETURN_CREATED":              model.TopicReturnCreated,
			"FEEDBACK_RECEIVED":           model.TopicFeedbackReceived,
			"DATA_DELETION_REQUEST":       model.TopicAccountDeletion,
		},
	},
	model.MarketplaceEbay: {
		topic:    "metadata.topic",
		eventID:  "notification.notificationId",
		itemID:   "notification.data.itemId",
		saleID:   "notification.data.orderId",
		quantity: "notification.data.quantity",
		buyerID:  "notification.data.userId",
		rating:   "notification.data.rating",
		comment:  "notification.data.comment",
		topics: map[string]model.Topic{
			"ITEM_SOLD":                    model.TopicItemSold,
			"ITEM_ENDED":                   model.TopicItemEnded,
			"PAYMENT_DISPUTE":              model.TopicPaymentDisputeCreated,
			"RETURN_CREATED":               model.TopicReturnCreated,
			"FEEDBACK_RECEIVED":            model.TopicFeedbackReceived,
			"MARKETPLACE_ACCOUNT_DELETION": model.TopicAccountDeletion,
		},
	},
	model.MarketplaceHepsiburada: {
		topic:    "event",
		eventID:  "eventId",
		itemID:   "payload.listingId",
		saleID:   "payload.orderNumber",
		quantity: "payload.quantity",
		buyerID:  "payload.customerId",
		rating:   "payload.rating",
		comment:  "payload.comment",
		topics: map[string]model.Topic{
			"OrderPlaced":     model.TopicItemSold,
			"ListingClosed":   model.TopicItemEnded,
			"DisputeOpened":   model.TopicPaymentDisputeCreated,
			"ReturnInitiated": model.TopicReturnCreated,
			"ReviewSubmitted": model.TopicFeedbackReceived,
			"AccountClosed":   model.TopicAccountDeletion,
		},
	},
	model.MarketplaceOzon: {
		topic:    "message_type",
		eventID:  "message_id",
		itemID:   "data.product_id",
		saleID:   "data.posting_number",
		quantity: "data.quantity",
		buyerID:  "data.customer_id",
		rating:   "data.rating",
		comment:  "data.comment",
		topics: map[string]model.Topic{
			"TYPE_NEW_POSTING":       model.TopicItemSold,
			"TYPE_PRODUCT_ARCHIVED":  model.TopicItemEnded,
			"TYPE_ARBITRATION":       model.TopicPaymentDisputeCreated,
			"TYPE_POSTING_CANCELLED": model.TopicReturnCreated,
			"TYPE_NEW_REVIEW":        model.TopicFeedbackReceived,
			"TYPE_ACCOUNT_DELETION":  model.TopicAccountDeletion,
		},
	},
	model.MarketplacePazarama: {
		topic:    "eventType",
		eventID:  "eventId",
		itemID:   "data.itemId",
		saleID:   "data.saleId",
		quantity: "data.quantity",
		buyerID:  "data.buyerId",
		rating:   "data.rating",
		comment:  "data.comment",
		topics: map[string]model.Topic{
			"SaleCreated":              model.TopicItemSold,
			"ListingEnded":             model.TopicItemEnded,
			"DisputeCreated":           model.TopicPaymentDisputeCreated,
			"ReturnCreated":            model.TopicReturnCreated,
			"FeedbackCreated":          model.TopicFeedbackReceived,
			"AccountDeletionRequested": model.TopicAccountDeletion,
		},
	},
}

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	// Evaluator overrides the JMESPath engine for tests.
	Evaluator JMESPathEvaluator
	Logger    *slog.Logger
}

// Classifier turns a verified delivery into a normalized Event using the
// marketplace's extraction rule. Event names outside the rule's topic map
// come back as TopicUnknown.
type Classifier struct {
	eval   JMESPathEvaluator
	logger *slog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(opts ClassifierOptions) *Classifier {
	eval := opts.Evaluator
	if eval == nil {
		eval = jmespathLibEvaluator{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{eval: eval, logger: logger.With("component", "webhook_classifier")}
}

// Classify extracts the normalized event from a verified delivery.
func (c *Classifier) Classify(verified *model.VerifiedEvent) (*model.Event, error) {
	rule, ok := extractionRules[verified.Marketplace]
	if !ok {
		return nil, fmt.Errorf("no extraction rule for marketplace %q", verified.Marketplace)
	}

	var payload any
	if err := json.Unmarshal(verified.RawPayload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	rawTopic := c.stringAt(rule.topic, payload)
	topic, known := rule.topics[rawTopic]
	if !known {
		topic = model.TopicUnknown
		c.logger.Debug("unmapped event type",
			"marketplace", verified.Marketplace, "event_type", rawTopic)
	}

	return &model.Event{
		Marketplace:     verified.Marketplace,
		Topic:           topic,
		ExternalEventID: c.stringAt(rule.eventID, payload),
		ExternalItemID:  c.stringAt(rule.itemID, payload),
		SaleID:          c.stringAt(rule.saleID, payload),
		Quantity:        c.intAt(rule.quantity, payload),
		BuyerID:         c.stringAt(rule.buyerID, payload),
		Rating:          c.intAt(rule.rating, payload),
		Comment:         c.stringAt(rule.comment, payload),
		Payload:         verified.RawPayload,
		ReceivedAt:      verified.ReceivedAt,
	}, nil
}

func (c *Classifier) stringAt(expr string, payload any) string {
	value, err := c.eval.Evaluate(expr, payload)
	if err != nil || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// Numeric ids are common; render without an exponent.
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func (c *Classifier) intAt(expr string, payload any) int {
	value, err := c.eval.Evaluate(expr, payload)
	if err != nil || value == nil {
		return 0
	}
	if f, ok := value.(float64); ok {
		return int(f)
	}
	return 0
}
