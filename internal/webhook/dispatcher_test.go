package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/mocks"
)

func trendyolOrderEvent() *model.VerifiedEvent {
	return &model.VerifiedEvent{
		Marketplace: model.MarketplaceTrendyol,
		RawPayload: []byte(`{
			"eventType": "OrderCreated",
			"eventId": "evt-1",
			"order": {"productId": "TY-100", "orderNumber": "ord-9", "quantity": 2}
		}`),
		ReceivedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newDispatcherMocks(t *testing.T) (*mocks.MockCacheRepository, *mocks.MockEventLedger) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return mocks.NewMockCacheRepository(ctrl), mocks.NewMockEventLedger(ctrl)
}

func TestDispatcher_DispatchNewEvent(t *testing.T) {
	cache, ledger := newDispatcherMocks(t)
	ctx := context.Background()

	cache.EXPECT().
		SetIfNotExists(ctx, "webhook:dedup:trendyol:item_sold:evt-1", gomock.Any(), defaultDedupTTL).
		Return(true, nil)
	ledger.EXPECT().
		MarkProcessed(ctx, model.MarketplaceTrendyol, model.TopicItemSold, "evt-1").
		Return(true, nil)

	var handled *model.Event
	dispatcher := NewDispatcher(DispatcherOptions{
		Cache:  cache,
		Ledger: ledger,
		Handlers: map[model.Topic]Handler{
			model.TopicItemSold: func(_ context.Context, event *model.Event) (model.DispatchOutcome, error) {
				handled = event
				return model.OutcomeHandled, nil
			},
		},
	})

	outcome, err := dispatcher.Dispatch(ctx, trendyolOrderEvent())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeHandled, outcome)
	require.NotNil(t, handled)
	assert.Equal(t, "TY-100", handled.ExternalItemID)
	assert.Equal(t, 2, handled.Quantity)
}

func TestDispatcher_DuplicateFromCache(t *testing.T) {
	cache, ledger := newDispatcherMocks(t)
	ctx := context.Background()

	cache.EXPECT().
		SetIfNotExists(ctx, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, nil)

	dispatcher := NewDispatcher(DispatcherOptions{
		Cache:  cache,
		Ledger: ledger,
		Handlers: map[model.Topic]Handler{
			model.TopicItemSold: func(context.Context, *model.Event) (model.DispatchOutcome, error) {
				t.Fatal("handler must not run for duplicates")
				return "", nil
			},
		},
	})

	outcome, err := dispatcher.Dispatch(ctx, trendyolOrderEvent())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDuplicate, outcome)
}

func TestDispatcher_CacheDownFallsBackToLedger(t *testing.T) {
	cache, ledger := newDispatcherMocks(t)
	ctx := context.Background()

	cache.EXPECT().
		SetIfNotExists(ctx, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, errors.New("connection refused"))
	ledger.EXPECT().
		MarkProcessed(ctx, model.MarketplaceTrendyol, model.TopicItemSold, "evt-1").
		Return(true, nil)

	dispatcher := NewDispatcher(DispatcherOptions{
		Cache:  cache,
		Ledger: ledger,
		Handlers: map[model.Topic]Handler{
			model.TopicItemSold: func(context.Context, *model.Event) (model.DispatchOutcome, error) {
				return model.OutcomeHandled, nil
			},
		},
	})

	outcome, err := dispatcher.Dispatch(ctx, trendyolOrderEvent())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeHandled, outcome)
}

func TestDispatcher_DuplicateFromLedger(t *testing.T) {
	cache, ledger := newDispatcherMocks(t)
	ctx := context.Background()

	cache.EXPECT().
		SetIfNotExists(ctx, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(true, nil)
	ledger.EXPECT().
		MarkProcessed(ctx, model.MarketplaceTrendyol, model.TopicItemSold, "evt-1").
		Return(false, nil)

	// A concurrent delivery won the ledger while the handler ran. The
	// handler's replay guard keeps its effects single-shot; the outcome
	// reports the duplicate.
	calls := 0
	dispatcher := NewDispatcher(DispatcherOptions{
		Cache:  cache,
		Ledger: ledger,
		Handlers: map[model.Topic]Handler{
			model.TopicItemSold: func(context.Context, *model.Event) (model.DispatchOutcome, error) {
				calls++
				return model.OutcomeHandled, nil
			},
		},
	})

	outcome, err := dispatcher.Dispatch(ctx, trendyolOrderEvent())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDuplicate, outcome)
	assert.Equal(t, 1, calls)
}

func TestDispatcher_LedgerDownIsRetryable(t *testing.T) {
	cache, ledger := newDispatcherMocks(t)
	ctx := context.Background()

	cache.EXPECT().
		SetIfNotExists(ctx, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(true, nil)
	ledger.EXPECT().
		MarkProcessed(ctx, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, errors.New("db down"))
	// The claim is released so the redelivery is not swallowed.
	cache.EXPECT().
		Delete(ctx, "webhook:dedup:trendyol:item_sold:evt-1").
		Return(true, nil)

	dispatcher := NewDispatcher(DispatcherOptions{
		Cache:  cache,
		Ledger: ledger,
		Handlers: map[model.Topic]Handler{
			model.TopicItemSold: func(context.Context, *model.Event) (model.DispatchOutcome, error) {
				return model.OutcomeHandled, nil
			},
		},
	})

	_, err := dispatcher.Dispatch(ctx, trendyolOrderEvent())
	require.Error(t, err)

	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.True(t, derr.Retryable)
}

func TestDispatcher_UnknownTopicIgnored(t *testing.T) {
	cache, ledger := newDispatcherMocks(t)

	dispatcher := NewDispatcher(DispatcherOptions{Cache: cache, Ledger: ledger})

	outcome, err := dispatcher.Dispatch(context.Background(), &model.VerifiedEvent{
		Marketplace: model.MarketplaceTrendyol,
		RawPayload:  []byte(`{"eventType": "SomethingNew", "eventId": "evt-2"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeIgnored, outcome)
}

func TestDispatcher_MissingEventIDIgnored(t *testing.T) {
	cache, ledger := newDispatcherMocks(t)

	dispatcher := NewDispatcher(DispatcherOptions{Cache: cache, Ledger: ledger})

	outcome, err := dispatcher.Dispatch(context.Background(), &model.VerifiedEvent{
		Marketplace: model.MarketplaceTrendyol,
		RawPayload:  []byte(`{"eventType": "OrderCreated"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeIgnored, outcome)
}

func TestDispatcher_UndecodablePayloadNotRetryable(t *testing.T) {
	cache, ledger := newDispatcherMocks(t)

	dispatcher := NewDispatcher(DispatcherOptions{Cache: cache, Ledger: ledger})

	outcome, err := dispatcher.Dispatch(context.Background(), &model.VerifiedEvent{
		Marketplace: model.MarketplaceTrendyol,
		RawPayload:  []byte(`{not json`),
	})
	assert.Equal(t, model.OutcomeIgnored, outcome)

	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.False(t, derr.Retryable)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDispatcher_HandlerFailureRetryable(t *testing.T) {
	cache, ledger := newDispatcherMocks(t)
	ctx := context.Background()

	cache.EXPECT().
		SetIfNotExists(ctx, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(true, nil).
		Times(2)
	cache.EXPECT().
		Delete(ctx, "webhook:dedup:trendyol:item_sold:evt-1").
		Return(true, nil).
		Times(2)

	plainFailure := errors.New("insert failed")
	dispatcher := NewDispatcher(DispatcherOptions{
		Cache:  cache,
		Ledger: ledger,
		Handlers: map[model.Topic]Handler{
			model.TopicItemSold: func(context.Context, *model.Event) (model.DispatchOutcome, error) {
				return "", plainFailure
			},
		},
	})

	_, err := dispatcher.Dispatch(ctx, trendyolOrderEvent())
	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.True(t, derr.Retryable)

	// An explicit non-retryable classification passes through untouched.
	dispatcher.handlers[model.TopicItemSold] = func(context.Context, *model.Event) (model.DispatchOutcome, error) {
		return "", &DispatchError{Retryable: false, Err: errors.New("bad payload")}
	}
	_, err = dispatcher.Dispatch(ctx, trendyolOrderEvent())
	require.ErrorAs(t, err, &derr)
	assert.False(t, derr.Retryable)
}

func TestDispatcher_FailedDeliveryRetriedOnRedelivery(t *testing.T) {
	cache, ledger := newDispatcherMocks(t)
	ctx := context.Background()

	// First delivery claims the key, fails, and releases it. Nothing is
	// written to the ledger for work that never completed.
	gomock.InOrder(
		cache.EXPECT().
			SetIfNotExists(ctx, "webhook:dedup:trendyol:item_sold:evt-1", gomock.Any(), gomock.Any()).
			Return(true, nil),
		cache.EXPECT().
			Delete(ctx, "webhook:dedup:trendyol:item_sold:evt-1").
			Return(true, nil),
		cache.EXPECT().
			SetIfNotExists(ctx, "webhook:dedup:trendyol:item_sold:evt-1", gomock.Any(), gomock.Any()).
			Return(true, nil),
	)
	ledger.EXPECT().
		MarkProcessed(ctx, model.MarketplaceTrendyol, model.TopicItemSold, "evt-1").
		Return(true, nil)

	calls := 0
	dispatcher := NewDispatcher(DispatcherOptions{
		Cache:  cache,
		Ledger: ledger,
		Handlers: map[model.Topic]Handler{
			model.TopicItemSold: func(context.Context, *model.Event) (model.DispatchOutcome, error) {
				calls++
				if calls == 1 {
					return "", retryableErr(errors.New("stock store unavailable"))
				}
				return model.OutcomeHandled, nil
			},
		},
	})

	_, err := dispatcher.Dispatch(ctx, trendyolOrderEvent())
	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.True(t, derr.Retryable)

	// The marketplace redelivers; the event must be handled, not swallowed
	// as a duplicate of the failed attempt.
	outcome, err := dispatcher.Dispatch(ctx, trendyolOrderEvent())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeHandled, outcome)
	assert.Equal(t, 2, calls)
}
