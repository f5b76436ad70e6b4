// Package data implements the repository ports on PostgreSQL (via pgx)
// and Redis.
package data

import (
	"database/sql"
	"log/slog"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for the durable job store.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a JobRepo with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  type,
  marketplace,
  status,
  priority,
  params,
  metadata,
  schedule_id,
  attempts,
  max_attempts,
  last_error,
  next_run_at,
  started_at,
  finished_at,
  claimed_by,
  lease_expires_at,
  created_at,
  updated_at
`
