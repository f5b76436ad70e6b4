package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/data/pgxutil"
	"github.com/meschain/marketsync/internal/domain/model"
)

// ScheduleRepo provides database operations for recurring job definitions.
type ScheduleRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewScheduleRepo creates a ScheduleRepo with the given database connection.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo {
	return &ScheduleRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewScheduleRepoWithTimeProvider creates a ScheduleRepo with a custom clock for tests.
func NewScheduleRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ScheduleRepo {
	return &ScheduleRepo{DB: db, timeProvider: tp}
}

// scheduleHash derives an advisory lock key from a definition name.
// Constrained into int64 range because advisory locks take BIGINT.
func scheduleHash(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("schedule:" + name))
	u := h.Sum64()
	if u > uint64(math.MaxInt64) {
		u %= uint64(math.MaxInt64)
	}
	return int64(u) // #nosec G115 -- bounded to <= MaxInt64 above.
}

const scheduleColumns = `
  id,
  name,
  job_type,
  marketplace,
  params,
  EXTRACT(EPOCH FROM scheduled_interval)::bigint AS interval_seconds,
  priority,
  max_attempts,
  is_active,
  last_queued_at,
  created_at,
  updated_at
`

type scheduleRowScanner interface {
	Scan(dest ...any) error
}

func scanScheduleFromRow(scanner scheduleRowScanner) (*model.ScheduleDefinition, error) {
	var (
		def             model.ScheduleDefinition
		params          []byte
		intervalSeconds int64
		lastQueuedAt    sql.NullTime
	)
	if err := scanner.Scan(
		&def.ID,
		&def.Name,
		&def.JobType,
		&def.Marketplace,
		&params,
		&intervalSeconds,
		&def.Priority,
		&def.MaxAttempts,
		&def.IsActive,
		&lastQueuedAt,
		&def.CreatedAt,
		&def.UpdatedAt,
	); err != nil {
		return nil, err
	}
	def.Params = cloneJSON(params)
	def.Interval = time.Duration(intervalSeconds) * time.Second
	def.LastQueuedAt = cloneNullableTime(lastQueuedAt)
	return &def, nil
}

// Create inserts a new recurring definition.
func (r *ScheduleRepo) Create(ctx context.Context, req *model.CreateScheduleRequest) (*model.ScheduleDefinition, error) {
	if req == nil {
		return nil, errors.New("create schedule request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params := []byte(`{}`)
	if len(req.Params) > 0 {
		params = []byte(req.Params)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO schedules (name, job_type, marketplace, params, scheduled_interval, priority, max_attempts, is_active)
		VALUES ($1, $2, $3, $4, make_interval(secs => $5), $6, $7, $8)
		RETURNING `+scheduleColumns,
		req.Name,
		req.JobType,
		req.Marketplace,
		params,
		req.Interval.Seconds(),
		req.Priority,
		maxAttempts,
		req.Active(),
	)

	def, err := scanScheduleFromRow(row)
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	return def, nil
}

// GetByID retrieves a definition by its ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id string) (*model.ScheduleDefinition, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE id = $1
	`, id)

	def, err := scanScheduleFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return def, nil
}

// List returns definitions ordered by name.
func (r *ScheduleRepo) List(ctx context.Context, limit, offset int) ([]*model.ScheduleDefinition, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	offset = max(offset, 0)

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		ORDER BY name
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*model.ScheduleDefinition
	for rows.Next() {
		def, scanErr := scanScheduleFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan schedule: %w", scanErr)
		}
		result = append(result, def)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate schedules: %w", rowsErr)
	}
	return result, nil
}

// Update applies a partial update; nil fields are left unchanged.
func (r *ScheduleRepo) Update(ctx context.Context, id string, req model.UpdateScheduleRequest) (*model.ScheduleDefinition, error) {
	sets := []string{}
	args := []any{}

	appendSet := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, errors.New("name cannot be empty")
		}
		appendSet("name = $%d", *req.Name)
	}
	if req.Params != nil {
		appendSet("params = $%d", []byte(*req.Params))
	}
	if req.Interval != nil {
		if *req.Interval < time.Minute {
			return nil, errors.New("interval must be at least one minute")
		}
		appendSet("scheduled_interval = make_interval(secs => $%d)", req.Interval.Seconds())
	}
	if req.Priority != nil {
		if *req.Priority < 0 || *req.Priority > 100 {
			return nil, errors.New("priority must be between 0 and 100")
		}
		appendSet("priority = $%d", *req.Priority)
	}
	if req.MaxAttempts != nil {
		if *req.MaxAttempts < 1 {
			return nil, errors.New("max attempts must be >= 1")
		}
		appendSet("max_attempts = $%d", *req.MaxAttempts)
	}
	if req.IsActive != nil {
		appendSet("is_active = $%d", *req.IsActive)
	}

	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	appendSet("updated_at = $%d", r.timeProvider.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf(`
		UPDATE schedules
		SET %s
		WHERE id = $%d
		RETURNING %s
	`, strings.Join(sets, ", "), len(args), scheduleColumns)

	row := r.DB.QueryRowContext(ctx, query, args...)
	def, err := scanScheduleFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return def, nil
}

// Delete removes a definition. Existing jobs keep their schedule linkage
// through the history surface but the FK is nulled by the schema.
func (r *ScheduleRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete schedule: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// SetActive flips the is_active flag. Deactivation stops future expansion
// without touching already queued jobs.
func (r *ScheduleRepo) SetActive(ctx context.Context, id string, active bool) (*model.ScheduleDefinition, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE schedules
		SET is_active = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+scheduleColumns, id, active, r.timeProvider.Now().UTC())

	def, err := scanScheduleFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set schedule active: %w", err)
	}
	return def, nil
}

// FindDue finds active definitions whose interval elapsed. The result is
// a plain snapshot and can go stale; the expansion path guards against
// that with a per-definition advisory lock and the jobs fire-key unique
// index.
func (r *ScheduleRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduleDefinition, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE is_active
		  AND (last_queued_at IS NULL OR last_queued_at + scheduled_interval <= $1)
		ORDER BY
			CASE WHEN last_queued_at IS NULL THEN 0 ELSE 1 END,
			last_queued_at ASC,
			created_at ASC
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*model.ScheduleDefinition
	for rows.Next() {
		def, scanErr := scanScheduleFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan due schedule: %w", scanErr)
		}
		result = append(result, def)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate due schedules: %w", rowsErr)
	}
	return result, nil
}

// MarkQueuedTx updates last_queued_at within an existing transaction.
func (r *ScheduleRepo) MarkQueuedTx(ctx context.Context, tx *sql.Tx, params core.MarkQueuedParams) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction is required")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE schedules
		SET last_queued_at = $2, updated_at = $2
		WHERE id = $1
	`, params.ID, params.Now.UTC())
	if err != nil {
		return false, fmt.Errorf("mark schedule queued: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark queued rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// TryWithScheduleLock attempts a transaction-scoped advisory lock keyed by
// the definition name and runs fn inside that transaction when acquired.
func (r *ScheduleRepo) TryWithScheduleLock(
	ctx context.Context,
	name string,
	fn func(context.Context, *sql.Tx) error,
) (bool, error) {
	var acquired bool
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if lockErr := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", scheduleHash(name)).Scan(&locked); lockErr != nil {
				return fmt.Errorf("acquire advisory lock: %w", lockErr)
			}
			if !locked {
				return nil
			}
			acquired = true
			return fn(ctx, tx)
		},
	})
	if err != nil {
		return acquired, err
	}
	return acquired, nil
}

var _ core.ScheduleRepository = (*ScheduleRepo)(nil)
