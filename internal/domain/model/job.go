// Package model defines the core data types shared across the marketsync job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the kind of marketplace work a job performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current lifecycle state of a job.
type JobStatus string

const (
	// JobTypeOrderSync pulls and reconciles marketplace orders.
	JobTypeOrderSync JobType = "order_sync"
	// JobTypeStockSync pushes local stock levels to a marketplace.
	JobTypeStockSync JobType = "stock_sync"
	// JobTypePriceSync pushes price updates to a marketplace.
	JobTypePriceSync JobType = "price_sync"
	// JobTypeRelist re-lists an ended marketplace listing.
	JobTypeRelist JobType = "relist"
	// JobTypeDispute handles a payment dispute raised on a marketplace.
	JobTypeDispute JobType = "dispute"
	// JobTypeDataErase removes buyer data after an account deletion notice.
	JobTypeDataErase JobType = "data_erase"

	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is owned by a worker.
	JobStatusRunning JobStatus = "running"
	// JobStatusSucceeded indicates a job finished successfully.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusRetrying indicates a failed job waiting for its next attempt.
	JobStatusRetrying JobStatus = "retrying"
	// JobStatusDeadLettered indicates a job exhausted its retry budget and is held for inspection.
	JobStatusDeadLettered JobStatus = "dead_lettered"
)

// ErrNoJobsDue is returned when no claimable jobs are available.
var ErrNoJobsDue = errors.New("no jobs due")

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeOrderSync, JobTypeStockSync, JobTypePriceSync,
		JobTypeRelist, JobTypeDispute, JobTypeDataErase:
		return true
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if !jt.Valid() {
		return fmt.Errorf("invalid JobType: %q", v)
	}
	*t = jt
	return nil
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusSucceeded,
		JobStatusRetrying, JobStatusDeadLettered:
		return true
	default:
		return false
	}
}

// Terminal reports whether a job in this status will never run again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusDeadLettered
}

// Job is the durable unit of marketplace work.
//
// Ownership invariant: a job is owned by exactly one worker while Running,
// enforced by the claim UPDATE and the lease expiry.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Type           JobType         `json:"type"                       db:"type"`
	Marketplace    Marketplace     `json:"marketplace"                db:"marketplace"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Params         json.RawMessage `json:"params"                     db:"params"`
	Metadata       json.RawMessage `json:"metadata"                   db:"metadata"`
	ScheduleID     *string         `json:"schedule_id,omitempty"      db:"schedule_id"`
	Attempts       int             `json:"attempts"                   db:"attempts"`
	MaxAttempts    int             `json:"max_attempts"               db:"max_attempts"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	NextRunAt      time.Time       `json:"next_run_at"                db:"next_run_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"      db:"finished_at"`
	ClaimedBy      *string         `json:"claimed_by,omitempty"       db:"claimed_by"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// CreateJobRequest carries the parameters for enqueueing a new job.
type CreateJobRequest struct {
	Type        JobType         `json:"type"`
	Marketplace Marketplace     `json:"marketplace"`
	Params      json.RawMessage `json:"params"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Priority    int             `json:"priority,omitempty"`
	ScheduleID  *string         `json:"schedule_id,omitempty"`
	RunAt       *time.Time      `json:"run_at,omitempty"`
	MaxAttempts int             `json:"max_attempts"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if !r.Marketplace.Valid() {
		return errors.New("invalid marketplace")
	}
	if len(r.Params) == 0 {
		return errors.New("params is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	return nil
}

// JobStats aggregates job counts per lifecycle state.
type JobStats struct {
	Pending      int `json:"pending"`
	Running      int `json:"running"`
	Succeeded    int `json:"succeeded"`
	Retrying     int `json:"retrying"`
	DeadLettered int `json:"dead_lettered"`
}

// JobListOptions filters the admin job listing.
type JobListOptions struct {
	Type        *JobType
	Marketplace *Marketplace
	Status      *JobStatus
	Limit       int
	Offset      int
}

// JobExecution records a single finished attempt for the execution history surface.
type JobExecution struct {
	JobID       string      `json:"job_id"`
	Type        JobType     `json:"type"`
	Marketplace Marketplace `json:"marketplace"`
	Status      JobStatus   `json:"status"`
	Attempts    int         `json:"attempts"`
	LastError   *string     `json:"last_error,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}
