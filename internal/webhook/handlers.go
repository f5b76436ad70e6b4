package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/data"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/observability/notify"
)

// HandlerDeps carries everything the topic handlers touch.
type HandlerDeps struct {
	Stock core.StockRepository
	Jobs  core.JobRepository
	// Operator receives dispute alerts. Optional.
	Operator notify.OperatorSink
	Logger   *slog.Logger
	// Now overrides the clock for tests.
	Now func() time.Time
}

// NewHandlerTable builds the topic handler table. The split rule: work
// needing an outbound marketplace call becomes a job; local-only work
// runs synchronously inside the webhook request.
func NewHandlerTable(deps HandlerDeps) map[model.Topic]Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "webhook_handlers")
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	h := &handlers{stock: deps.Stock, jobs: deps.Jobs, operator: deps.Operator, logger: logger, now: now}
	return map[model.Topic]Handler{
		model.TopicItemSold:              h.itemSold,
		model.TopicItemEnded:             h.itemEnded,
		model.TopicPaymentDisputeCreated: h.disputeCreated,
		model.TopicReturnCreated:         h.returnCreated,
		model.TopicFeedbackReceived:      h.feedbackReceived,
		model.TopicAccountDeletion:       h.accountDeletion,
	}
}

type handlers struct {
	stock    core.StockRepository
	jobs     core.JobRepository
	operator notify.OperatorSink
	logger   *slog.Logger
	now      func() time.Time
}

// itemSold decrements the local stock mirror synchronously; the repo's
// sale record makes the decrement replay-safe on its own.
func (h *handlers) itemSold(ctx context.Context, event *model.Event) (model.DispatchOutcome, error) {
	quantity := event.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	saleID := event.SaleID
	if saleID == "" {
		saleID = event.ExternalEventID
	}

	item, applied, err := h.stock.ApplySale(ctx, core.ApplySaleParams{
		Marketplace:    event.Marketplace,
		ExternalItemID: event.ExternalItemID,
		SaleID:         saleID,
		Quantity:       quantity,
	})
	if err != nil {
		if errors.Is(err, data.ErrStockItemNotFound) {
			h.logger.WarnContext(ctx, "sale for untracked item",
				"marketplace", event.Marketplace, "external_item_id", event.ExternalItemID)
			return model.OutcomeIgnored, nil
		}
		return "", fmt.Errorf("apply sale: %w", err)
	}
	if applied && item.Quantity == 0 {
		h.logger.InfoContext(ctx, "item sold out",
			"marketplace", event.Marketplace, "sku", item.SKU)
	}
	return model.OutcomeHandled, nil
}

// itemEnded needs a relist call against the marketplace, so it becomes a
// job.
func (h *handlers) itemEnded(ctx context.Context, event *model.Event) (model.DispatchOutcome, error) {
	return h.enqueue(ctx, event, model.JobTypeRelist, map[string]any{
		"external_item_id": event.ExternalItemID,
	})
}

// disputeCreated enqueues the dispute workflow and pages an operator;
// disputes have response deadlines a queue alone will not surface.
func (h *handlers) disputeCreated(ctx context.Context, event *model.Event) (model.DispatchOutcome, error) {
	outcome, err := h.enqueue(ctx, event, model.JobTypeDispute, map[string]any{
		"sale_id":          event.SaleID,
		"external_item_id": event.ExternalItemID,
	})
	if err != nil {
		return "", err
	}

	if h.operator != nil {
		alertErr := h.operator.SendOperatorAlert(ctx, notify.OperatorAlertPayload{
			Title:       "Payment dispute opened",
			Message:     fmt.Sprintf("Dispute on order %s", event.SaleID),
			Marketplace: string(event.Marketplace),
			Severity:    notify.SeverityCritical,
			OccurredAt:  h.now(),
			Metadata:    map[string]string{"external_event_id": event.ExternalEventID},
		})
		if alertErr != nil {
			// The job is queued; a lost page must not fail the delivery.
			h.logger.ErrorContext(ctx, "dispute alert delivery failed",
				"marketplace", event.Marketplace, "error", alertErr)
		}
	}
	return outcome, nil
}

func (h *handlers) returnCreated(ctx context.Context, event *model.Event) (model.DispatchOutcome, error) {
	return h.enqueue(ctx, event, model.JobTypeOrderSync, map[string]any{
		"sale_id": event.SaleID,
		"reason":  "return_created",
	})
}

// feedbackReceived stores the record locally; no marketplace call needed.
func (h *handlers) feedbackReceived(ctx context.Context, event *model.Event) (model.DispatchOutcome, error) {
	rec := &model.FeedbackRecord{
		Marketplace:     event.Marketplace,
		ExternalEventID: event.ExternalEventID,
		ExternalItemID:  event.ExternalItemID,
		BuyerID:         event.BuyerID,
		Rating:          event.Rating,
		Comment:         event.Comment,
		ReceivedAt:      event.ReceivedAt,
	}
	if err := rec.Validate(); err != nil {
		return model.OutcomeIgnored, nil
	}
	if _, err := h.stock.RecordFeedback(ctx, rec); err != nil {
		return "", fmt.Errorf("record feedback: %w", err)
	}
	return model.OutcomeHandled, nil
}

// accountDeletion erases local data through a job so the erasure is
// retried until it sticks, which deletion notices legally require.
func (h *handlers) accountDeletion(ctx context.Context, event *model.Event) (model.DispatchOutcome, error) {
	if event.BuyerID == "" {
		h.logger.WarnContext(ctx, "account deletion without buyer id",
			"marketplace", event.Marketplace, "external_event_id", event.ExternalEventID)
		return model.OutcomeIgnored, nil
	}
	return h.enqueue(ctx, event, model.JobTypeDataErase, map[string]any{
		"buyer_id": event.BuyerID,
	})
}

func (h *handlers) enqueue(ctx context.Context, event *model.Event, jobType model.JobType, params map[string]any) (model.DispatchOutcome, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode job params: %w", err)
	}
	metadata, err := json.Marshal(map[string]string{
		"source":            "webhook",
		"external_event_id": event.ExternalEventID,
	})
	if err != nil {
		return "", fmt.Errorf("encode job metadata: %w", err)
	}

	job, err := h.jobs.Create(ctx, &model.CreateJobRequest{
		Type:        jobType,
		Marketplace: event.Marketplace,
		Params:      rawParams,
		Metadata:    metadata,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s job: %w", jobType, err)
	}

	h.logger.InfoContext(ctx, "job enqueued from webhook",
		"job_id", job.ID, "type", jobType, "marketplace", event.Marketplace, "topic", event.Topic)
	return model.OutcomeEnqueued, nil
}
