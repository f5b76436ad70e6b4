// Package devseed populates a development database with stock items and
// recurring schedules so local sync pipelines have data to act on.
package devseed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/meschain/marketsync/internal/data"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB        *sql.DB
	schedules *service.ScheduleService
}

// NewServices constructs the services required for seeding using the provided DB.
func NewServices(db *sql.DB) (Services, error) {
	scheduleRepo := data.NewScheduleRepo(db)
	scheduleService, err := service.NewScheduleService(service.ScheduleServiceOptions{
		Repo: scheduleRepo,
	})
	if err != nil {
		return Services{}, fmt.Errorf("create schedule service: %w", err)
	}

	return Services{
		DB:        db,
		schedules: scheduleService,
	}, nil
}

// Run executes the full development seeding workflow against the provided DB.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	failures := 0
	failures += seedStockItems(ctx, svcs.DB, logger)
	failures += seedSchedules(ctx, svcs.schedules, logger)
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

type stockSeed struct {
	Marketplace    model.Marketplace
	ExternalItemID string
	SKU            string
	Quantity       int
	Price          float64
}

func defaultStockSeeds() []stockSeed {
	return []stockSeed{
		{model.MarketplaceTrendyol, "ty-100001", "MS-TSHIRT-RED-M", 120, 249.90},
		{model.MarketplaceTrendyol, "ty-100002", "MS-TSHIRT-RED-L", 85, 249.90},
		{model.MarketplaceHepsiburada, "hb-778812", "MS-TSHIRT-RED-M", 120, 259.90},
		{model.MarketplaceN11, "n11-45021", "MS-MUG-CERAMIC", 40, 89.50},
		{model.MarketplaceAmazon, "B0EXAMPL01", "MS-MUG-CERAMIC", 40, 12.99},
		{model.MarketplaceAmazon, "B0EXAMPL02", "MS-POSTER-A2", 300, 18.50},
		{model.MarketplaceEbay, "eb-91230057", "MS-POSTER-A2", 300, 17.99},
		{model.MarketplaceOzon, "oz-55430", "MS-SOCKS-3PACK", 510, 499.00},
		{model.MarketplacePazarama, "pz-20114", "MS-SOCKS-3PACK", 510, 159.90},
	}
}

func seedStockItems(ctx context.Context, db *sql.DB, logger *slog.Logger) int {
	failures := 0
	for _, item := range defaultStockSeeds() {
		created, err := insertStockItem(ctx, db, item)
		if err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to seed stock item",
					"marketplace", item.Marketplace, "sku", item.SKU, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			msg := "stock item already exists"
			if created {
				msg = "created stock item"
			}
			logger.InfoContext(ctx, msg, "marketplace", item.Marketplace, "sku", item.SKU)
		}
	}
	return failures
}

func insertStockItem(ctx context.Context, db *sql.DB, item stockSeed) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO stock_items (marketplace, external_item_id, sku, quantity, price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (marketplace, external_item_id) DO NOTHING`,
		item.Marketplace, item.ExternalItemID, item.SKU, item.Quantity, item.Price,
	)
	if err != nil {
		return false, fmt.Errorf("insert stock item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

type scheduleSeed struct {
	name        string
	jobType     model.JobType
	marketplace model.Marketplace
	interval    time.Duration
	priority    int
	params      map[string]any
}

func defaultScheduleSeeds() []scheduleSeed {
	return []scheduleSeed{
		{
			name:        "trendyol-order-sync",
			jobType:     model.JobTypeOrderSync,
			marketplace: model.MarketplaceTrendyol,
			interval:    5 * time.Minute,
			priority:    80,
		},
		{
			name:        "trendyol-stock-sync",
			jobType:     model.JobTypeStockSync,
			marketplace: model.MarketplaceTrendyol,
			interval:    15 * time.Minute,
			priority:    60,
		},
		{
			name:        "amazon-order-sync",
			jobType:     model.JobTypeOrderSync,
			marketplace: model.MarketplaceAmazon,
			interval:    5 * time.Minute,
			priority:    80,
		},
		{
			name:        "amazon-price-sync",
			jobType:     model.JobTypePriceSync,
			marketplace: model.MarketplaceAmazon,
			interval:    time.Hour,
			priority:    40,
			params:      map[string]any{"currency": "USD"},
		},
		{
			name:        "ebay-relist-expired",
			jobType:     model.JobTypeRelist,
			marketplace: model.MarketplaceEbay,
			interval:    24 * time.Hour,
			priority:    20,
		},
		{
			name:        "hepsiburada-stock-sync",
			jobType:     model.JobTypeStockSync,
			marketplace: model.MarketplaceHepsiburada,
			interval:    15 * time.Minute,
			priority:    60,
		},
	}
}

func seedSchedules(ctx context.Context, svc *service.ScheduleService, logger *slog.Logger) int {
	failures := 0
	for _, seed := range defaultScheduleSeeds() {
		created, err := createSchedule(ctx, svc, seed)
		if err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to create schedule", "name", seed.name, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			msg := "schedule already exists"
			if created {
				msg = "created schedule"
			}
			logger.InfoContext(ctx, msg, "name", seed.name)
		}
	}
	return failures
}

func createSchedule(ctx context.Context, svc *service.ScheduleService, seed scheduleSeed) (bool, error) {
	req := &model.CreateScheduleRequest{
		Name:        seed.name,
		JobType:     seed.jobType,
		Marketplace: seed.marketplace,
		Interval:    seed.interval,
		Priority:    seed.priority,
	}
	if seed.params != nil {
		raw, err := json.Marshal(seed.params)
		if err != nil {
			return false, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	if _, err := svc.Create(ctx, req); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
