// Package notify defines the payload and sink contract for operator
// notifications about failed and dead-lettered jobs.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// JobFailurePayload captures the canonical data we emit when a job attempt
// fails. DeadLettered marks the terminal failure after retries ran out.
type JobFailurePayload struct {
	JobID        string
	JobType      string
	Marketplace  string
	Attempts     int
	MaxAttempts  int
	DeadLettered bool
	Error        string
	ErrorClass   string
	Severity     string
	OccurredAt   time.Time
	Metadata     map[string]string
}

// Sink describes a destination capable of consuming job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements the Sink interface.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}

// OperatorAlertPayload carries an ad-hoc alert that needs human attention,
// such as a payment dispute opened on a marketplace.
type OperatorAlertPayload struct {
	Title       string
	Message     string
	Marketplace string
	Severity    string
	OccurredAt  time.Time
	Metadata    map[string]string
}

// OperatorSink describes a destination for operator alerts.
type OperatorSink interface {
	SendOperatorAlert(ctx context.Context, payload OperatorAlertPayload) error
}

// OperatorSinkFunc adapts a function to the OperatorSink interface.
type OperatorSinkFunc func(ctx context.Context, payload OperatorAlertPayload) error

// SendOperatorAlert implements the OperatorSink interface.
func (f OperatorSinkFunc) SendOperatorAlert(ctx context.Context, payload OperatorAlertPayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
