package metrics

import (
	"time"

	obserrors "github.com/meschain/marketsync/internal/observability/errors"
	"github.com/meschain/marketsync/internal/observability/statsd"
)

// Gateway call results for metric tagging.
const (
	GatewayResultSuccess     = "success"
	GatewayResultError       = "error"
	GatewayResultRateLimited = "rate_limited"
	GatewayResultCircuitOpen = "circuit_open"
	GatewayResultTimeout     = "timeout"
)

// GatewayMetric captures one outbound marketplace API call.
type GatewayMetric struct {
	Marketplace string
	Endpoint    string
	Result      string
	Duration    time.Duration
	Err         error
}

// EmitGatewayCall emits the call counter and, when the call actually went
// out on the wire, its duration.
func EmitGatewayCall(sink statsd.Sink, in GatewayMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"marketplace": in.Marketplace,
		"endpoint":    in.Endpoint,
		"result":      in.Result,
	}

	if in.Err != nil && in.Result == GatewayResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("gateway.call", 1, tags)

	if in.Duration > 0 {
		sink.Timing("gateway.call_duration", in.Duration, CloneTags(tags))
	}
}

// EmitBreakerState reports a circuit state change as a gauge
// (0 closed, 1 half-open, 2 open) plus a transition counter.
func EmitBreakerState(sink statsd.Sink, marketplace, endpoint, state string, level float64) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"marketplace": marketplace,
		"endpoint":    endpoint,
	}
	sink.Gauge("gateway.breaker_state", level, tags)

	withState := CloneTags(tags)
	withState["state"] = state
	sink.Count("gateway.breaker_transition", 1, withState)
}
