// Package metrics centralises metric names and tag shapes so emit sites
// stay consistent across services.
package metrics

import (
	"time"

	obserrors "github.com/meschain/marketsync/internal/observability/errors"
	"github.com/meschain/marketsync/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType     string
	Marketplace string
	Transition  string
	Result      string
	Attempt     int
	Duration    time.Duration
	Err         error
}

// EmitJobLifecycle emits standardised job lifecycle metrics: a transition
// counter plus a duration timing when one was measured.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":    in.JobType,
		"marketplace": in.Marketplace,
		"transition":  in.Transition,
		"result":      in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// EmitQueueDepth reports the number of due jobs per type as a gauge.
func EmitQueueDepth(sink statsd.Sink, jobType string, depth int64) {
	if sink == nil {
		return
	}
	sink.Gauge("job.queue_depth", float64(depth), map[string]string{"job_type": jobType})
}

// CloneTags creates a shallow copy of a tag map, filtering out nothing.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
