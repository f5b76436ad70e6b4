package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/testutil"
)

func scheduleRequest(name string) *model.CreateScheduleRequest {
	return &model.CreateScheduleRequest{
		Name:        name,
		JobType:     model.JobTypeStockSync,
		Marketplace: model.MarketplaceTrendyol,
		Interval:    5 * time.Minute,
		Priority:    50,
	}
}

func TestScheduleRepo_Create(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewScheduleRepo(db)
		ctx := context.Background()

		def, err := repo.Create(ctx, scheduleRequest("trendyol-stock"))
		require.NoError(t, err)
		assert.NotEmpty(t, def.ID)
		assert.Equal(t, "trendyol-stock", def.Name)
		assert.Equal(t, model.JobTypeStockSync, def.JobType)
		assert.Equal(t, 5*time.Minute, def.Interval)
		assert.Equal(t, defaultMaxAttempts, def.MaxAttempts)
		assert.True(t, def.IsActive)
		assert.Nil(t, def.LastQueuedAt)

		_, err = repo.Create(ctx, &model.CreateScheduleRequest{
			Name:        "too-fast",
			JobType:     model.JobTypeStockSync,
			Marketplace: model.MarketplaceTrendyol,
			Interval:    30 * time.Second,
		})
		assert.ErrorContains(t, err, "interval must be at least one minute")

		inactive := scheduleRequest("inactive")
		inactive.IsActive = testutil.BoolPtr(false)
		def, err = repo.Create(ctx, inactive)
		require.NoError(t, err)
		assert.False(t, def.IsActive)
	})
}

func TestScheduleRepo_Update(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewScheduleRepo(db)
		ctx := context.Background()

		def, err := repo.Create(ctx, scheduleRequest("trendyol-stock"))
		require.NoError(t, err)

		// Empty update returns the current row.
		same, err := repo.Update(ctx, def.ID, model.UpdateScheduleRequest{})
		require.NoError(t, err)
		assert.Equal(t, def.Interval, same.Interval)

		interval := 10 * time.Minute
		priority := 80
		updated, err := repo.Update(ctx, def.ID, model.UpdateScheduleRequest{
			Interval: &interval,
			Priority: &priority,
		})
		require.NoError(t, err)
		assert.Equal(t, 10*time.Minute, updated.Interval)
		assert.Equal(t, 80, updated.Priority)
		assert.Equal(t, "trendyol-stock", updated.Name)

		badInterval := 10 * time.Second
		_, err = repo.Update(ctx, def.ID, model.UpdateScheduleRequest{Interval: &badInterval})
		assert.ErrorContains(t, err, "interval must be at least one minute")

		_, err = repo.Update(ctx, "00000000-0000-0000-0000-000000000000", model.UpdateScheduleRequest{Priority: &priority})
		assert.ErrorIs(t, err, ErrScheduleNotFound)
	})
}

func TestScheduleRepo_SetActiveAndDelete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewScheduleRepo(db)
		ctx := context.Background()

		def, err := repo.Create(ctx, scheduleRequest("trendyol-stock"))
		require.NoError(t, err)

		toggled, err := repo.SetActive(ctx, def.ID, false)
		require.NoError(t, err)
		assert.False(t, toggled.IsActive)

		due, err := repo.FindDue(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, due, "inactive definitions are never due")

		deleted, err := repo.Delete(ctx, def.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(ctx, def.ID)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestScheduleRepo_FindDue(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewScheduleRepo(db)
		ctx := context.Background()
		now := time.Now().UTC()

		never, err := repo.Create(ctx, scheduleRequest("never-queued"))
		require.NoError(t, err)

		elapsed, err := repo.Create(ctx, scheduleRequest("interval-elapsed"))
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `UPDATE schedules SET last_queued_at = $2 WHERE id = $1`,
			elapsed.ID, now.Add(-10*time.Minute))
		require.NoError(t, err)

		recent, err := repo.Create(ctx, scheduleRequest("recently-queued"))
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `UPDATE schedules SET last_queued_at = $2 WHERE id = $1`,
			recent.ID, now.Add(-time.Minute))
		require.NoError(t, err)

		due, err := repo.FindDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		// Never-queued definitions come first.
		assert.Equal(t, never.ID, due[0].ID)
		assert.Equal(t, elapsed.ID, due[1].ID)

		_, err = repo.FindDue(ctx, now, 0)
		assert.ErrorContains(t, err, "limit must be positive")
	})
}

func TestScheduleRepo_MarkQueuedWithLock(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewScheduleRepo(db)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		def, err := repo.Create(ctx, scheduleRequest("trendyol-stock"))
		require.NoError(t, err)

		acquired, err := repo.TryWithScheduleLock(ctx, def.Name, func(ctx context.Context, tx *sql.Tx) error {
			ok, merr := repo.MarkQueuedTx(ctx, tx, core.MarkQueuedParams{ID: def.ID, Now: now})
			require.NoError(t, merr)
			require.True(t, ok)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, acquired)

		got, err := repo.GetByID(ctx, def.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastQueuedAt)
		assert.WithinDuration(t, now, *got.LastQueuedAt, time.Millisecond)

		// Interval has not elapsed since the mark: not due anymore.
		due, err := repo.FindDue(ctx, now.Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, due)
	})
}

func TestScheduleRepo_TryWithScheduleLock_Contention(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewScheduleRepo(db)
		ctx := context.Background()

		started := make(chan struct{})
		release := make(chan struct{})
		errs := make(chan error, 1)

		go func() {
			_, lerr := repo.TryWithScheduleLock(ctx, "contended", func(ctx context.Context, tx *sql.Tx) error {
				close(started)
				<-release
				return nil
			})
			errs <- lerr
		}()

		<-started
		acquired, err := repo.TryWithScheduleLock(ctx, "contended", func(ctx context.Context, tx *sql.Tx) error {
			t.Error("lock body must not run while the lock is held elsewhere")
			return nil
		})
		require.NoError(t, err)
		assert.False(t, acquired)

		close(release)
		require.NoError(t, <-errs)
	})
}
