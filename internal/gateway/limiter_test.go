package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meschain/marketsync/internal/domain/model"
)

func TestMemoryWindowCounter_Increments(t *testing.T) {
	counter := NewMemoryWindowCounter()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := counter.IncrementWindow(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := counter.IncrementWindow(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLimiter_AllowExhaustsBudget(t *testing.T) {
	limiter := NewLimiter(LimiterOptions{
		Limits: map[model.Marketplace]int{model.MarketplaceOzon: 3},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow(ctx, model.MarketplaceOzon))
	}

	err := limiter.Allow(ctx, model.MarketplaceOzon)
	require.Error(t, err)
	gerr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, KindRateLimited, gerr.Kind)
	assert.Equal(t, model.MarketplaceOzon, gerr.Marketplace)
	assert.True(t, gerr.Retryable())

	// Other marketplaces keep their own budget.
	assert.NoError(t, limiter.Allow(ctx, model.MarketplaceTrendyol))
}

func TestLimiter_WindowRollover(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewLimiter(LimiterOptions{
		Limits: map[model.Marketplace]int{model.MarketplaceN11: 1},
		Window: time.Minute,
		Now:    func() time.Time { return now },
	})
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, model.MarketplaceN11))
	require.Error(t, limiter.Allow(ctx, model.MarketplaceN11))

	// The next window gets a fresh budget.
	now = now.Add(time.Minute)
	assert.NoError(t, limiter.Allow(ctx, model.MarketplaceN11))
}

func TestLimiter_Snapshot(t *testing.T) {
	limiter := NewLimiter(LimiterOptions{})
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, model.MarketplaceTrendyol))
	require.NoError(t, limiter.Allow(ctx, model.MarketplaceTrendyol))

	statuses := limiter.Snapshot()
	require.Len(t, statuses, len(DefaultLimits))

	byName := make(map[model.Marketplace]LimitStatus, len(statuses))
	for _, s := range statuses {
		byName[s.Marketplace] = s
	}
	assert.Equal(t, int64(2), byName[model.MarketplaceTrendyol].Used)
	assert.Equal(t, 1000, byName[model.MarketplaceTrendyol].Limit)
	assert.Zero(t, byName[model.MarketplaceEbay].Used)
	assert.Equal(t, 600, byName[model.MarketplaceEbay].Limit)

	// Sorted for a stable admin response.
	for i := 1; i < len(statuses); i++ {
		assert.Less(t, statuses[i-1].Marketplace, statuses[i].Marketplace)
	}
}
