package metrics

import (
	"time"

	"github.com/meschain/marketsync/internal/observability/statsd"
)

// WebhookMetric captures one inbound webhook delivery through
// verification and dispatch.
type WebhookMetric struct {
	Marketplace string
	Topic       string
	Outcome     string
	Duration    time.Duration
}

// EmitWebhookDispatch emits the dispatch counter tagged with the outcome
// (handled, enqueued, duplicate, ignored, error) and the end-to-end timing.
func EmitWebhookDispatch(sink statsd.Sink, in WebhookMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"marketplace": in.Marketplace,
		"topic":       in.Topic,
		"outcome":     in.Outcome,
	}

	sink.Count("webhook.dispatch", 1, tags)

	if in.Duration > 0 {
		sink.Timing("webhook.dispatch_duration", in.Duration, CloneTags(tags))
	}
}

// EmitWebhookRejected counts deliveries that failed signature verification.
func EmitWebhookRejected(sink statsd.Sink, marketplace, reason string) {
	if sink == nil {
		return
	}
	sink.Count("webhook.rejected", 1, map[string]string{
		"marketplace": marketplace,
		"reason":      reason,
	})
}
