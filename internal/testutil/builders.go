// Package testutil provides testing utilities and helpers for the marketsync job system.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/meschain/marketsync/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Type:        model.JobTypeStockSync,
			Marketplace: model.MarketplaceTrendyol,
			Priority:    50,
			Params:      json.RawMessage(`{"sku": "SKU-1"}`),
			MaxAttempts: 3,
		},
	}
}

// WithType sets the job type.
func (b *JobRequestBuilder) WithType(jobType model.JobType) *JobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithMarketplace sets the marketplace.
func (b *JobRequestBuilder) WithMarketplace(marketplace model.Marketplace) *JobRequestBuilder {
	b.req.Marketplace = marketplace
	return b
}

// WithPriority sets the job priority.
func (b *JobRequestBuilder) WithPriority(priority int) *JobRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithParams sets the job params.
func (b *JobRequestBuilder) WithParams(params json.RawMessage) *JobRequestBuilder {
	b.req.Params = params
	return b
}

// WithParamsString sets the job params from a string.
func (b *JobRequestBuilder) WithParamsString(params string) *JobRequestBuilder {
	b.req.Params = json.RawMessage(params)
	return b
}

// WithMetadata sets the job metadata.
func (b *JobRequestBuilder) WithMetadata(metadata json.RawMessage) *JobRequestBuilder {
	b.req.Metadata = metadata
	return b
}

// WithMetadataString sets the job metadata from a string.
func (b *JobRequestBuilder) WithMetadataString(metadata string) *JobRequestBuilder {
	b.req.Metadata = json.RawMessage(metadata)
	return b
}

// WithScheduleID links the job to a recurring definition.
func (b *JobRequestBuilder) WithScheduleID(scheduleID string) *JobRequestBuilder {
	b.req.ScheduleID = &scheduleID
	return b
}

// WithRunAt sets the earliest run time.
func (b *JobRequestBuilder) WithRunAt(runAt time.Time) *JobRequestBuilder {
	b.req.RunAt = &runAt
	return b
}

// WithMaxAttempts sets the attempt budget.
func (b *JobRequestBuilder) WithMaxAttempts(maxAttempts int) *JobRequestBuilder {
	b.req.MaxAttempts = maxAttempts
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// Common test job request presets

// StockSyncJobRequest creates a stock sync job request with default values.
func StockSyncJobRequest() *model.CreateJobRequest {
	return NewJobRequest().
		WithType(model.JobTypeStockSync).
		WithParamsString(`{"sku": "SKU-1", "quantity": 5}`).
		Build()
}

// OrderSyncJobRequest creates an order sync job request with default values.
func OrderSyncJobRequest() *model.CreateJobRequest {
	return NewJobRequest().
		WithType(model.JobTypeOrderSync).
		WithParamsString(`{"since": "2025-03-01T00:00:00Z"}`).
		Build()
}

// HighPriorityJobRequest creates a high priority job request.
func HighPriorityJobRequest() *model.CreateJobRequest {
	return NewJobRequest().
		WithPriority(100).
		WithParamsString(`{"urgent": true}`).
		Build()
}

// LowPriorityJobRequest creates a low priority job request.
func LowPriorityJobRequest() *model.CreateJobRequest {
	return NewJobRequest().
		WithPriority(10).
		WithParamsString(`{"background": true}`).
		Build()
}

// DeferredJobRequest creates a job request that only becomes due at runAt.
func DeferredJobRequest(runAt time.Time) *model.CreateJobRequest {
	return NewJobRequest().
		WithRunAt(runAt).
		WithParamsString(`{"deferred": true}`).
		Build()
}

// RetryableJobRequest creates a job request with a custom attempt budget.
func RetryableJobRequest(maxAttempts int) *model.CreateJobRequest {
	return NewJobRequest().
		WithMaxAttempts(maxAttempts).
		WithParamsString(`{"retryable": true}`).
		Build()
}
