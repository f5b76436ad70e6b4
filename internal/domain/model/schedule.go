package model

import (
	"encoding/json"
	"errors"
	"time"
)

// ScheduleDefinition is a recurring job definition the scheduler expands
// into concrete Job rows once per interval.
type ScheduleDefinition struct {
	ID           string          `json:"id"             db:"id"`
	Name         string          `json:"name"           db:"name"`
	JobType      JobType         `json:"job_type"       db:"job_type"`
	Marketplace  Marketplace     `json:"marketplace"    db:"marketplace"`
	Params       json.RawMessage `json:"params"         db:"params"`
	Interval     time.Duration   `json:"interval"       db:"scheduled_interval"`
	Priority     int             `json:"priority"       db:"priority"`
	MaxAttempts  int             `json:"max_attempts"   db:"max_attempts"`
	IsActive     bool            `json:"is_active"      db:"is_active"`
	LastQueuedAt *time.Time      `json:"last_queued_at,omitempty" db:"last_queued_at"`
	CreatedAt    time.Time       `json:"created_at"     db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"     db:"updated_at"`
}

// Due reports whether the definition should be expanded at the given instant.
// A disabled definition is never due; its historical job rows are untouched.
func (d *ScheduleDefinition) Due(now time.Time) bool {
	if !d.IsActive {
		return false
	}
	if d.LastQueuedAt == nil {
		return true
	}
	return !d.LastQueuedAt.Add(d.Interval).After(now)
}

// Validate checks the definition invariants before persistence.
func (d *ScheduleDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("name is required")
	}
	if !d.JobType.Valid() {
		return errors.New("invalid job type")
	}
	if !d.Marketplace.Valid() {
		return errors.New("invalid marketplace")
	}
	if d.Interval < time.Minute {
		return errors.New("interval must be at least one minute")
	}
	return nil
}

// CreateScheduleRequest carries the parameters for a new recurring definition.
type CreateScheduleRequest struct {
	Name        string          `json:"name"`
	JobType     JobType         `json:"job_type"`
	Marketplace Marketplace     `json:"marketplace"`
	Params      json.RawMessage `json:"params,omitempty"`
	Interval    time.Duration   `json:"interval"`
	Priority    int             `json:"priority,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	IsActive    *bool           `json:"is_active,omitempty"`
}

// Validate checks the request invariants.
func (r *CreateScheduleRequest) Validate() error {
	def := ScheduleDefinition{
		Name:        r.Name,
		JobType:     r.JobType,
		Marketplace: r.Marketplace,
		Interval:    r.Interval,
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	return nil
}

// Active resolves the optional IsActive flag; new definitions default to active.
func (r *CreateScheduleRequest) Active() bool {
	if r.IsActive == nil {
		return true
	}
	return *r.IsActive
}

// UpdateScheduleRequest carries a partial update; nil fields stay unchanged.
type UpdateScheduleRequest struct {
	Name        *string          `json:"name,omitempty"`
	Params      *json.RawMessage `json:"params,omitempty"`
	Interval    *time.Duration   `json:"interval,omitempty"`
	Priority    *int             `json:"priority,omitempty"`
	MaxAttempts *int             `json:"max_attempts,omitempty"`
	IsActive    *bool            `json:"is_active,omitempty"`
}
