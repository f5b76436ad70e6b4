package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/observability/statsd"
)

const defaultDedupTTL = 72 * time.Hour

// DispatchError tells the HTTP layer whether the sender should redeliver.
// Retryable failures (store outages) answer 500; everything else answers
// 200 so marketplaces stop retrying payloads we can never process.
type DispatchError struct {
	Retryable bool
	Err       error
}

func (e *DispatchError) Error() string { return e.Err.Error() }

func (e *DispatchError) Unwrap() error { return e.Err }

func retryableErr(err error) *DispatchError {
	return &DispatchError{Retryable: true, Err: err}
}

// Handler processes one classified event.
type Handler func(ctx context.Context, event *model.Event) (model.DispatchOutcome, error)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Classifier *Classifier
	// Cache performs fast dedup via SET NX. Optional; the durable ledger
	// dedups on its own when the cache is absent or down.
	Cache core.CacheRepository
	// Ledger is the durable processed-event record.
	Ledger   core.EventLedger
	Handlers map[model.Topic]Handler
	// DedupTTL bounds the cache dedup key. Defaults to 72h, matching the
	// ledger purge horizon.
	DedupTTL time.Duration
	Sink     statsd.Sink
	Logger   *slog.Logger
}

// Dispatcher routes verified events to their topic handler. An event is
// recorded as processed only after its handler succeeds, so a transient
// handler failure leaves no dedup record and the redelivery retries the
// work. Handlers carry their own replay guards for the window where a
// redelivery races the record write.
type Dispatcher struct {
	classifier *Classifier
	cache      core.CacheRepository
	ledger     core.EventLedger
	handlers   map[model.Topic]Handler
	dedupTTL   time.Duration
	sink       statsd.Sink
	logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	classifier := opts.Classifier
	if classifier == nil {
		classifier = NewClassifier(ClassifierOptions{Logger: opts.Logger})
	}
	ttl := opts.DedupTTL
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		classifier: classifier,
		cache:      opts.Cache,
		ledger:     opts.Ledger,
		handlers:   opts.Handlers,
		dedupTTL:   ttl,
		sink:       opts.Sink,
		logger:     logger.With("component", "webhook_dispatcher"),
	}
}

// Dispatch classifies, dedups and handles one verified event.
func (d *Dispatcher) Dispatch(ctx context.Context, verified *model.VerifiedEvent) (model.DispatchOutcome, error) {
	event, err := d.classifier.Classify(verified)
	if err != nil {
		// A payload we cannot decode will never decode; redelivering it is
		// pointless. The HTTP layer maps ErrMalformedPayload to a 400.
		d.emit(verified.Marketplace, "", model.OutcomeIgnored)
		return model.OutcomeIgnored, &DispatchError{Err: fmt.Errorf("classify: %w", err)}
	}

	if event.Topic == model.TopicUnknown {
		d.emit(event.Marketplace, event.Topic, model.OutcomeIgnored)
		return model.OutcomeIgnored, nil
	}

	if event.ExternalEventID == "" {
		d.logger.WarnContext(ctx, "event without id, cannot dedup",
			"marketplace", event.Marketplace, "topic", event.Topic)
		d.emit(event.Marketplace, event.Topic, model.OutcomeIgnored)
		return model.OutcomeIgnored, nil
	}

	handler, ok := d.handlers[event.Topic]
	if !ok {
		d.emit(event.Marketplace, event.Topic, model.OutcomeIgnored)
		return model.OutcomeIgnored, nil
	}

	claimed, duplicate := d.claimDedup(ctx, event)
	if duplicate {
		d.emit(event.Marketplace, event.Topic, model.OutcomeDuplicate)
		return model.OutcomeDuplicate, nil
	}

	outcome, err := handler(ctx, event)
	if err != nil {
		if claimed {
			d.releaseClaim(ctx, event)
		}
		var derr *DispatchError
		if !errors.As(err, &derr) {
			// Handlers touch the stores; unclassified failures are assumed
			// transient so the sender redelivers.
			err = retryableErr(err)
		}
		d.logger.ErrorContext(ctx, "event handler failed",
			"marketplace", event.Marketplace, "topic", event.Topic, "error", err)
		return "", err
	}

	first, err := d.ledger.MarkProcessed(ctx, event.Marketplace, event.Topic, event.ExternalEventID)
	if err != nil {
		// The work happened but could not be recorded. Release the claim
		// and ask for redelivery; the handler's replay guard absorbs the
		// rerun and the record gets another chance to land.
		if claimed {
			d.releaseClaim(ctx, event)
		}
		return "", retryableErr(fmt.Errorf("mark processed: %w", err))
	}
	if !first {
		// A concurrent delivery recorded this event while the handler ran.
		d.emit(event.Marketplace, event.Topic, model.OutcomeDuplicate)
		return model.OutcomeDuplicate, nil
	}

	d.emit(event.Marketplace, event.Topic, outcome)
	return outcome, nil
}

// claimDedup takes the cache fast path for the event. duplicate means an
// earlier delivery holds the claim or already completed; claimed means
// this delivery owns the key and must release it if handling fails. The
// durable ledger check runs after the handler so failed work leaves no
// record behind.
func (d *Dispatcher) claimDedup(ctx context.Context, event *model.Event) (claimed, duplicate bool) {
	if d.cache == nil {
		return false, false
	}
	set, err := d.cache.SetIfNotExists(ctx, "webhook:dedup:"+event.DedupKey(), []byte("1"), d.dedupTTL)
	if err != nil {
		d.logger.WarnContext(ctx, "dedup cache unavailable, falling back to ledger", "error", err)
		return false, false
	}
	return set, !set
}

// releaseClaim drops the cache claim so the sender's redelivery is not
// swallowed as a duplicate of work that never completed.
func (d *Dispatcher) releaseClaim(ctx context.Context, event *model.Event) {
	if _, err := d.cache.Delete(ctx, "webhook:dedup:"+event.DedupKey()); err != nil {
		d.logger.WarnContext(ctx, "failed to release dedup claim, redelivery blocked until the key expires",
			"marketplace", event.Marketplace, "topic", event.Topic, "error", err)
	}
}

func (d *Dispatcher) emit(marketplace model.Marketplace, topic model.Topic, outcome model.DispatchOutcome) {
	if d.sink == nil {
		return
	}
	d.sink.Count("webhook.dispatch", 1, map[string]string{
		"marketplace": string(marketplace),
		"topic":       string(topic),
		"outcome":     string(outcome),
	})
}
