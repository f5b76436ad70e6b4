package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/domain/model"
)

// EventLedgerRepo records processed webhook events in Postgres. It is the
// dedup fallback behind the cache: slower, but durable across restarts and
// cache flushes.
type EventLedgerRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewEventLedgerRepo creates an EventLedgerRepo with the given database connection.
func NewEventLedgerRepo(db *sql.DB) *EventLedgerRepo {
	return &EventLedgerRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewEventLedgerRepoWithTimeProvider creates an EventLedgerRepo with a custom clock for tests.
func NewEventLedgerRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *EventLedgerRepo {
	return &EventLedgerRepo{DB: db, timeProvider: tp}
}

// MarkProcessed records the event key. ON CONFLICT DO NOTHING makes the
// insert the dedup check: zero rows affected means a replay.
func (r *EventLedgerRepo) MarkProcessed(
	ctx context.Context,
	marketplace model.Marketplace,
	topic model.Topic,
	externalEventID string,
) (bool, error) {
	if externalEventID == "" {
		return false, errors.New("external event id is required")
	}

	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO processed_events (marketplace, topic, external_event_id, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (marketplace, topic, external_event_id) DO NOTHING
	`, marketplace, topic, externalEventID, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// PurgeOlderThan drops ledger rows past the dedup horizon in one bounded
// batch. Marketplaces stop replaying deliveries well inside the horizon, so
// purged keys cannot come back.
func (r *EventLedgerRepo) PurgeOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if maxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	cutoff := r.timeProvider.Now().Add(-maxAge).UTC()
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM processed_events
		WHERE (marketplace, topic, external_event_id) IN (
			SELECT marketplace, topic, external_event_id
			FROM processed_events
			WHERE processed_at < $1
			ORDER BY processed_at
			LIMIT $2
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("purge processed events: %w", err)
	}
	return res.RowsAffected()
}

var _ core.EventLedger = (*EventLedgerRepo)(nil)
