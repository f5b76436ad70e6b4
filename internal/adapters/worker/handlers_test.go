package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/gateway"
	"github.com/meschain/marketsync/internal/mocks"
)

type capturedCall struct {
	method string
	path   string
	body   []byte
}

type handlersFixture struct {
	stock    *mocks.MockStockRepository
	handlers map[model.JobType]HandlerFunc
	calls    *[]capturedCall
}

// newHandlersFixture wires the handler table against a fake marketplace
// API. respond picks the response body per request path.
func newHandlersFixture(t *testing.T, respond func(path string) string) *handlersFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	calls := &[]capturedCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*calls = append(*calls, capturedCall{method: r.Method, path: r.URL.RequestURI(), body: body})

		response := "{}"
		if respond != nil {
			response = respond(r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	baseURLs := make(map[model.Marketplace]string)
	for _, m := range model.Marketplaces() {
		baseURLs[m] = srv.URL
	}

	f := &handlersFixture{
		stock: mocks.NewMockStockRepository(ctrl),
		calls: calls,
	}
	f.handlers = NewHandlerTable(HandlerDeps{
		Gateway: gateway.NewClient(gateway.ClientOptions{BaseURLs: baseURLs}),
		Stock:   f.stock,
	})
	return f
}

func workerJob(jobType model.JobType, params string) *model.Job {
	return &model.Job{
		ID:          "job-1",
		Type:        jobType,
		Marketplace: model.MarketplaceTrendyol,
		Status:      model.JobStatusRunning,
		Params:      json.RawMessage(params),
	}
}

func TestHandlers_OrderSyncAppliesSales(t *testing.T) {
	f := newHandlersFixture(t, func(string) string {
		return `{"content": [
			{"orderNumber": "ord-1", "productId": "item-1", "quantity": 2},
			{"orderNumber": "ord-2", "productId": "item-2", "quantity": 1}
		]}`
	})
	ctx := context.Background()

	f.stock.EXPECT().
		ApplySale(ctx, core.ApplySaleParams{
			Marketplace:    model.MarketplaceTrendyol,
			ExternalItemID: "item-1",
			SaleID:         "ord-1",
			Quantity:       2,
		}).
		Return(&model.StockItem{SKU: "sku-1", Quantity: 3}, true, nil)
	f.stock.EXPECT().
		ApplySale(ctx, core.ApplySaleParams{
			Marketplace:    model.MarketplaceTrendyol,
			ExternalItemID: "item-2",
			SaleID:         "ord-2",
			Quantity:       1,
		}).
		Return(&model.StockItem{SKU: "sku-2", Quantity: 0}, true, nil)

	err := f.handlers[model.JobTypeOrderSync](ctx, workerJob(model.JobTypeOrderSync, `{}`))
	require.NoError(t, err)

	require.Len(t, *f.calls, 1)
	assert.Equal(t, http.MethodGet, (*f.calls)[0].method)
	assert.Equal(t, "/sapigw/suppliers/orders", (*f.calls)[0].path)
}

func TestHandlers_OrderSyncSingleSale(t *testing.T) {
	f := newHandlersFixture(t, func(string) string {
		return `{"content": []}`
	})

	err := f.handlers[model.JobTypeOrderSync](
		context.Background(),
		workerJob(model.JobTypeOrderSync, `{"sale_id": "ord-9", "reason": "return_created"}`),
	)
	require.NoError(t, err)

	require.Len(t, *f.calls, 1)
	assert.Equal(t, "/sapigw/suppliers/orders?order_id=ord-9", (*f.calls)[0].path)
}

func TestHandlers_StockSyncPushesCatalogPages(t *testing.T) {
	f := newHandlersFixture(t, nil)
	ctx := context.Background()

	page := make([]*model.StockItem, stockPushBatchSize)
	for i := range page {
		page[i] = &model.StockItem{SKU: "sku", ExternalItemID: "item", Quantity: 5}
	}
	gomock.InOrder(
		f.stock.EXPECT().
			ListByMarketplace(ctx, model.MarketplaceTrendyol, stockPushBatchSize, 0).
			Return(page, nil),
		f.stock.EXPECT().
			ListByMarketplace(ctx, model.MarketplaceTrendyol, stockPushBatchSize, stockPushBatchSize).
			Return([]*model.StockItem{{SKU: "last", ExternalItemID: "item-z", Quantity: 1}}, nil),
	)

	err := f.handlers[model.JobTypeStockSync](ctx, workerJob(model.JobTypeStockSync, `{"full": true}`))
	require.NoError(t, err)

	// One POST per page, both against the stock route.
	require.Len(t, *f.calls, 2)
	for _, call := range *f.calls {
		assert.Equal(t, http.MethodPost, call.method)
		assert.Equal(t, "/sapigw/suppliers/products/price-and-inventory", call.path)
	}

	var payload struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal((*f.calls)[1].body, &payload))
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "last", payload.Items[0]["sku"])
	assert.Contains(t, payload.Items[0], "quantity")
	assert.NotContains(t, payload.Items[0], "price")
}

func TestHandlers_PriceSyncSingleSKU(t *testing.T) {
	f := newHandlersFixture(t, nil)
	ctx := context.Background()

	f.stock.EXPECT().
		GetBySKU(ctx, "sku-1").
		Return(&model.StockItem{SKU: "sku-1", ExternalItemID: "item-1", Price: 19.90}, nil)

	err := f.handlers[model.JobTypePriceSync](ctx, workerJob(model.JobTypePriceSync, `{"sku": "sku-1"}`))
	require.NoError(t, err)

	require.Len(t, *f.calls, 1)

	var payload struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal((*f.calls)[0].body, &payload))
	require.Len(t, payload.Items, 1)
	assert.InDelta(t, 19.90, payload.Items[0]["price"], 0.001)
	assert.NotContains(t, payload.Items[0], "quantity")
}

func TestHandlers_RelistRequiresItemID(t *testing.T) {
	f := newHandlersFixture(t, nil)

	err := f.handlers[model.JobTypeRelist](context.Background(), workerJob(model.JobTypeRelist, `{}`))
	assert.ErrorContains(t, err, "external_item_id")
	assert.Empty(t, *f.calls)
}

func TestHandlers_RelistCallsMarketplace(t *testing.T) {
	f := newHandlersFixture(t, nil)

	err := f.handlers[model.JobTypeRelist](
		context.Background(),
		workerJob(model.JobTypeRelist, `{"external_item_id": "item-7"}`),
	)
	require.NoError(t, err)

	require.Len(t, *f.calls, 1)
	assert.Equal(t, "/sapigw/suppliers/products/activate", (*f.calls)[0].path)
	assert.JSONEq(t, `{"external_item_id": "item-7"}`, string((*f.calls)[0].body))
}

func TestHandlers_DisputeAcknowledges(t *testing.T) {
	f := newHandlersFixture(t, nil)

	err := f.handlers[model.JobTypeDispute](
		context.Background(),
		workerJob(model.JobTypeDispute, `{"sale_id": "ord-3", "external_item_id": "item-3"}`),
	)
	require.NoError(t, err)

	require.Len(t, *f.calls, 1)
	assert.Equal(t, "/sapigw/suppliers/claims/acknowledge", (*f.calls)[0].path)
	assert.JSONEq(t, `{"sale_id": "ord-3"}`, string((*f.calls)[0].body))
}

func TestHandlers_DataEraseErasesBuyer(t *testing.T) {
	f := newHandlersFixture(t, nil)
	ctx := context.Background()

	f.stock.EXPECT().
		EraseBuyer(ctx, model.MarketplaceTrendyol, "buyer-1").
		Return(int64(4), nil)

	err := f.handlers[model.JobTypeDataErase](ctx, workerJob(model.JobTypeDataErase, `{"buyer_id": "buyer-1"}`))
	require.NoError(t, err)
	assert.Empty(t, *f.calls)
}

func TestHandlers_GatewayErrorPropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	handlers := NewHandlerTable(HandlerDeps{
		Gateway: gateway.NewClient(gateway.ClientOptions{
			BaseURLs: map[model.Marketplace]string{model.MarketplaceTrendyol: srv.URL},
		}),
		Stock: mocks.NewMockStockRepository(ctrl),
	})

	err := handlers[model.JobTypeRelist](
		context.Background(),
		workerJob(model.JobTypeRelist, `{"external_item_id": "item-1"}`),
	)
	require.Error(t, err)

	gerr, ok := gateway.AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.KindHTTP, gerr.Kind)
	assert.Equal(t, http.StatusBadGateway, gerr.Status)
}

func TestExtractOrderLines_PerMarketplaceShapes(t *testing.T) {
	tests := []struct {
		marketplace model.Marketplace
		body        string
	}{
		{model.MarketplaceTrendyol, `{"content": [{"orderNumber": "s1", "productId": "i1", "quantity": 2}]}`},
		{model.MarketplaceN11, `{"orders": [{"orderId": "s1", "productId": "i1", "quantity": 2}]}`},
		{model.MarketplaceAmazon, `{"payload": {"orders": [{"amazonOrderId": "s1", "asin": "i1", "quantity": 2}]}}`},
		{model.MarketplaceEbay, `{"orders": [{"orderId": "s1", "itemId": "i1", "quantity": 2}]}`},
		{model.MarketplaceHepsiburada, `{"items": [{"orderNumber": "s1", "listingId": "i1", "quantity": 2}]}`},
		{model.MarketplaceOzon, `{"result": {"postings": [{"posting_number": "s1", "product_id": "i1", "quantity": 2}]}}`},
		{model.MarketplacePazarama, `{"data": [{"saleId": "s1", "itemId": "i1", "quantity": 2}]}`},
	}

	for _, tt := range tests {
		t.Run(string(tt.marketplace), func(t *testing.T) {
			lines, err := extractOrderLines(tt.marketplace, []byte(tt.body))
			require.NoError(t, err)
			require.Len(t, lines, 1)
			assert.Equal(t, orderLine{saleID: "s1", itemID: "i1", quantity: 2}, lines[0])
		})
	}
}

func TestExtractOrderLines_NumericIDs(t *testing.T) {
	lines, err := extractOrderLines(
		model.MarketplaceOzon,
		[]byte(`{"result": {"postings": [{"posting_number": "s1", "product_id": 123456, "quantity": 1}]}}`),
	)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "123456", lines[0].itemID)
}
