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

func seedStockItem(t *testing.T, db *sql.DB, marketplace model.Marketplace, externalItemID, sku string, quantity int) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO stock_items (marketplace, external_item_id, sku, quantity, price)
		VALUES ($1, $2, $3, $4, 19.90)
	`, marketplace, externalItemID, sku, quantity)
	require.NoError(t, err)
}

func TestStockRepo_Get(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewStockRepo(db)
		ctx := context.Background()

		seedStockItem(t, db, model.MarketplaceTrendyol, "TY-100", "SKU-1", 8)

		item, err := repo.GetBySKU(ctx, "SKU-1")
		require.NoError(t, err)
		assert.Equal(t, "SKU-1", item.SKU)
		assert.Equal(t, 8, item.Quantity)
		assert.InDelta(t, 19.90, item.Price, 0.001)

		item, err = repo.GetByExternalItem(ctx, model.MarketplaceTrendyol, "TY-100")
		require.NoError(t, err)
		assert.Equal(t, "SKU-1", item.SKU)

		_, err = repo.GetBySKU(ctx, "missing")
		assert.ErrorIs(t, err, ErrStockItemNotFound)

		_, err = repo.GetByExternalItem(ctx, model.MarketplaceN11, "TY-100")
		assert.ErrorIs(t, err, ErrStockItemNotFound)
	})
}

func TestStockRepo_ApplySale(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewStockRepo(db)
		ctx := context.Background()

		seedStockItem(t, db, model.MarketplaceTrendyol, "TY-100", "SKU-1", 5)

		params := core.ApplySaleParams{
			Marketplace:    model.MarketplaceTrendyol,
			ExternalItemID: "TY-100",
			SaleID:         "sale-1",
			Quantity:       2,
		}

		item, applied, err := repo.ApplySale(ctx, params)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, 3, item.Quantity)

		// Replayed delivery: same sale id decrements nothing.
		item, applied, err = repo.ApplySale(ctx, params)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, 3, item.Quantity)

		// Oversell clamps at zero instead of going negative.
		item, applied, err = repo.ApplySale(ctx, core.ApplySaleParams{
			Marketplace:    model.MarketplaceTrendyol,
			ExternalItemID: "TY-100",
			SaleID:         "sale-2",
			Quantity:       10,
		})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, 0, item.Quantity)

		_, _, err = repo.ApplySale(ctx, core.ApplySaleParams{
			Marketplace:    model.MarketplaceTrendyol,
			ExternalItemID: "missing",
			SaleID:         "sale-3",
			Quantity:       1,
		})
		assert.ErrorIs(t, err, ErrStockItemNotFound)

		_, _, err = repo.ApplySale(ctx, core.ApplySaleParams{
			Marketplace:    model.MarketplaceTrendyol,
			ExternalItemID: "TY-100",
			Quantity:       1,
		})
		assert.ErrorContains(t, err, "sale id is required")
	})
}

func TestStockRepo_SetQuantity(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewStockRepo(db)
		ctx := context.Background()

		seedStockItem(t, db, model.MarketplaceTrendyol, "TY-100", "SKU-1", 5)

		ok, err := repo.SetQuantity(ctx, core.SetQuantityParams{
			Marketplace: model.MarketplaceTrendyol,
			SKU:         "SKU-1",
			Quantity:    42,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		item, err := repo.GetBySKU(ctx, "SKU-1")
		require.NoError(t, err)
		assert.Equal(t, 42, item.Quantity)

		ok, err = repo.SetQuantity(ctx, core.SetQuantityParams{
			Marketplace: model.MarketplaceTrendyol,
			SKU:         "missing",
			Quantity:    1,
		})
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = repo.SetQuantity(ctx, core.SetQuantityParams{
			Marketplace: model.MarketplaceTrendyol,
			SKU:         "SKU-1",
			Quantity:    -1,
		})
		assert.ErrorContains(t, err, "quantity must be >= 0")
	})
}

func TestStockRepo_RecordFeedbackAndEraseBuyer(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewStockRepo(db)
		ctx := context.Background()

		rec := &model.FeedbackRecord{
			Marketplace:     model.MarketplaceEbay,
			ExternalEventID: "evt-1",
			ExternalItemID:  "EB-5",
			BuyerID:         "buyer-1",
			Rating:          4,
			Comment:         "fast shipping",
			ReceivedAt:      time.Now(),
		}

		inserted, err := repo.RecordFeedback(ctx, rec)
		require.NoError(t, err)
		assert.True(t, inserted)

		// Replayed delivery collapses to the existing row.
		inserted, err = repo.RecordFeedback(ctx, rec)
		require.NoError(t, err)
		assert.False(t, inserted)

		second := *rec
		second.ExternalEventID = "evt-2"
		inserted, err = repo.RecordFeedback(ctx, &second)
		require.NoError(t, err)
		assert.True(t, inserted)

		other := *rec
		other.ExternalEventID = "evt-3"
		other.BuyerID = "buyer-2"
		inserted, err = repo.RecordFeedback(ctx, &other)
		require.NoError(t, err)
		assert.True(t, inserted)

		erased, err := repo.EraseBuyer(ctx, model.MarketplaceEbay, "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), erased)

		erased, err = repo.EraseBuyer(ctx, model.MarketplaceEbay, "buyer-1")
		require.NoError(t, err)
		assert.Zero(t, erased)

		_, err = repo.EraseBuyer(ctx, model.MarketplaceEbay, "")
		assert.ErrorContains(t, err, "buyer id is required")
	})
}
