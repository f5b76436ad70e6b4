package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/data/pgxutil"
	"github.com/meschain/marketsync/internal/domain/model"
)

// StockRepo provides database operations for local listing stock and the
// buyer data that hangs off it.
type StockRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewStockRepo creates a StockRepo with the given database connection.
func NewStockRepo(db *sql.DB) *StockRepo {
	return &StockRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewStockRepoWithTimeProvider creates a StockRepo with a custom clock for tests.
func NewStockRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *StockRepo {
	return &StockRepo{DB: db, timeProvider: tp}
}

const stockColumns = `sku, marketplace, external_item_id, quantity, price, updated_at`

type stockRowScanner interface {
	Scan(dest ...any) error
}

func scanStockItem(scanner stockRowScanner) (*model.StockItem, error) {
	var item model.StockItem
	if err := scanner.Scan(
		&item.SKU,
		&item.Marketplace,
		&item.ExternalItemID,
		&item.Quantity,
		&item.Price,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetBySKU retrieves a stock item by SKU.
func (r *StockRepo) GetBySKU(ctx context.Context, sku string) (*model.StockItem, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_items
		WHERE sku = $1
	`, sku)

	item, err := scanStockItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStockItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stock item: %w", err)
	}
	return item, nil
}

// GetByExternalItem retrieves a stock item by its marketplace listing id.
func (r *StockRepo) GetByExternalItem(ctx context.Context, marketplace model.Marketplace, externalItemID string) (*model.StockItem, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_items
		WHERE marketplace = $1 AND external_item_id = $2
	`, marketplace, externalItemID)

	item, err := scanStockItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStockItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stock item by external id: %w", err)
	}
	return item, nil
}

// ListByMarketplace pages through tracked items for a marketplace in SKU
// order, so a full stock push walks the catalog deterministically.
func (r *StockRepo) ListByMarketplace(ctx context.Context, marketplace model.Marketplace, limit, offset int) ([]*model.StockItem, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_items
		WHERE marketplace = $1
		ORDER BY sku
		LIMIT $2 OFFSET $3
	`, marketplace, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list stock items: %w", err)
	}
	defer rows.Close()

	items := make([]*model.StockItem, 0, limit)
	for rows.Next() {
		item, serr := scanStockItem(rows)
		if serr != nil {
			return nil, fmt.Errorf("scan stock item: %w", serr)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock items: %w", err)
	}
	return items, nil
}

// ApplySale records the sale and decrements stock in one transaction.
// Inserting the sale row first makes the decrement replay-safe: a sale id
// seen before conflicts and the whole call becomes a no-op.
func (r *StockRepo) ApplySale(ctx context.Context, params core.ApplySaleParams) (*model.StockItem, bool, error) {
	if params.SaleID == "" {
		return nil, false, errors.New("sale id is required")
	}
	if params.Quantity <= 0 {
		return nil, false, errors.New("quantity must be positive")
	}

	var (
		item    *model.StockItem
		applied bool
	)
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			res, ierr := tx.ExecContext(ctx, `
				INSERT INTO stock_sales (marketplace, sale_id, external_item_id, quantity)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (marketplace, sale_id) DO NOTHING
			`, params.Marketplace, params.SaleID, params.ExternalItemID, params.Quantity)
			if ierr != nil {
				return fmt.Errorf("record sale: %w", ierr)
			}
			inserted, raErr := res.RowsAffected()
			if raErr != nil {
				return fmt.Errorf("record sale rows affected: %w", raErr)
			}
			if inserted == 0 {
				// Replayed sale: leave stock untouched, report current state.
				row := tx.QueryRowContext(ctx, `
					SELECT `+stockColumns+`
					FROM stock_items
					WHERE marketplace = $1 AND external_item_id = $2
				`, params.Marketplace, params.ExternalItemID)
				current, serr := scanStockItem(row)
				if errors.Is(serr, sql.ErrNoRows) {
					return ErrStockItemNotFound
				}
				if serr != nil {
					return fmt.Errorf("get stock item: %w", serr)
				}
				item = current
				return nil
			}

			// GREATEST clamps at zero so an oversell never goes negative.
			row := tx.QueryRowContext(ctx, `
				UPDATE stock_items
				SET quantity = GREATEST(quantity - $3, 0),
				    updated_at = $4
				WHERE marketplace = $1 AND external_item_id = $2
				RETURNING `+stockColumns,
				params.Marketplace, params.ExternalItemID, params.Quantity, r.timeProvider.Now().UTC())

			updated, serr := scanStockItem(row)
			if errors.Is(serr, sql.ErrNoRows) {
				return ErrStockItemNotFound
			}
			if serr != nil {
				return fmt.Errorf("decrement stock: %w", serr)
			}

			item = updated
			applied = true
			return nil
		},
	})
	if err != nil {
		return nil, false, err
	}
	return item, applied, nil
}

// SetQuantity sets the absolute quantity for a SKU on a marketplace.
func (r *StockRepo) SetQuantity(ctx context.Context, params core.SetQuantityParams) (bool, error) {
	if params.Quantity < 0 {
		return false, errors.New("quantity must be >= 0")
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE stock_items
		SET quantity = $3, updated_at = $4
		WHERE marketplace = $1 AND sku = $2
	`, params.Marketplace, params.SKU, params.Quantity, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("set stock quantity: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set quantity rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// RecordFeedback stores buyer feedback. The external event id is the
// primary key, so replayed deliveries return false without a new row.
func (r *StockRepo) RecordFeedback(ctx context.Context, rec *model.FeedbackRecord) (bool, error) {
	if rec == nil {
		return false, errors.New("feedback record is required")
	}
	if err := rec.Validate(); err != nil {
		return false, err
	}

	receivedAt := rec.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = r.timeProvider.Now()
	}

	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO feedback (marketplace, external_event_id, external_item_id, buyer_id, rating, comment, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (marketplace, external_event_id) DO NOTHING
	`, rec.Marketplace, rec.ExternalEventID, rec.ExternalItemID, rec.BuyerID, rec.Rating, rec.Comment, receivedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("record feedback: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record feedback rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// EraseBuyer removes stored buyer data for an account deletion notice.
func (r *StockRepo) EraseBuyer(ctx context.Context, marketplace model.Marketplace, buyerID string) (int64, error) {
	if buyerID == "" {
		return 0, errors.New("buyer id is required")
	}

	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM feedback
		WHERE marketplace = $1 AND buyer_id = $2
	`, marketplace, buyerID)
	if err != nil {
		return 0, fmt.Errorf("erase buyer data: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("erase buyer rows affected: %w", err)
	}
	return rowsAffected, nil
}

var _ core.StockRepository = (*StockRepo)(nil)
