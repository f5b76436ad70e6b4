package failurenotifier_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meschain/marketsync/internal/observability/notify"
	"github.com/meschain/marketsync/internal/service/failurenotifier"
)

type recordingSink struct {
	mu       sync.Mutex
	payloads []notify.JobFailurePayload
	err      error
}

func (r *recordingSink) SendJobFailure(_ context.Context, payload notify.JobFailurePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestNotifyFansOutToAllSinks(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}

	svc := failurenotifier.NewService(failurenotifier.Options{
		Sinks: []failurenotifier.SinkRegistration{
			{Name: "slack", Sink: first},
			{Name: "pagerduty", Sink: second},
		},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{
		JobID:        "j1",
		DeadLettered: true,
	})

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
}

func TestNotifySkipsRetryFailuresByDefault(t *testing.T) {
	sink := &recordingSink{}
	svc := failurenotifier.NewService(failurenotifier.Options{
		Sinks: []failurenotifier.SinkRegistration{{Name: "slack", Sink: sink}},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "j1"})
	assert.Equal(t, 0, sink.count())
}

func TestNotifyRetriesWhenConfigured(t *testing.T) {
	sink := &recordingSink{}
	svc := failurenotifier.NewService(failurenotifier.Options{
		Sinks:         []failurenotifier.SinkRegistration{{Name: "slack", Sink: sink}},
		NotifyRetries: true,
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "j1", Attempts: 1})

	assert.Equal(t, 1, sink.count())
	assert.Equal(t, notify.SeverityWarning, sink.payloads[0].Severity)
}

func TestNotifyDeadLetterSeverityDefaultsCritical(t *testing.T) {
	sink := &recordingSink{}
	svc := failurenotifier.NewService(failurenotifier.Options{
		Sinks: []failurenotifier.SinkRegistration{{Name: "slack", Sink: sink}},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "j1", DeadLettered: true})

	assert.Equal(t, notify.SeverityCritical, sink.payloads[0].Severity)
}

func TestNotifySinkErrorDoesNotPropagate(t *testing.T) {
	sink := &recordingSink{err: errors.New("delivery failed")}
	svc := failurenotifier.NewService(failurenotifier.Options{
		Sinks: []failurenotifier.SinkRegistration{{Name: "slack", Sink: sink}},
	})

	// Must not panic or block.
	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "j1", DeadLettered: true})
	assert.Equal(t, 1, sink.count())
}

func TestEnabled(t *testing.T) {
	assert.False(t, failurenotifier.NewService(failurenotifier.Options{}).Enabled())
	assert.True(t, failurenotifier.NewService(failurenotifier.Options{
		Sinks: []failurenotifier.SinkRegistration{{Sink: &recordingSink{}}},
	}).Enabled())
}
