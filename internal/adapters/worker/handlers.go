package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/data"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/gateway"
)

// HandlerFunc processes one claimed job. A returned error surfaces the
// failure to the retry policy; handlers never retry internally.
type HandlerFunc func(ctx context.Context, job *model.Job) error

// stockPushBatchSize bounds one stock or price push so a full catalog
// sync stays inside the marketplace's request size limits.
const stockPushBatchSize = 100

// marketplaceRoutes holds the API paths one marketplace exposes for the
// sync operations. Paths join onto the gateway's per-marketplace base URL.
type marketplaceRoutes struct {
	orders  string
	stock   string
	price   string
	relist  string
	dispute string
}

var routesByMarketplace = map[model.Marketplace]marketplaceRoutes{
	model.MarketplaceTrendyol: {
		orders:  "/sapigw/suppliers/orders",
		stock:   "/sapigw/suppliers/products/price-and-inventory",
		price:   "/sapigw/suppliers/products/price-and-inventory",
		relist:  "/sapigw/suppliers/products/activate",
		dispute: "/sapigw/suppliers/claims/acknowledge",
	},
	model.MarketplaceN11: {
		orders:  "/rest/order/v1/list",
		stock:   "/rest/stock/v1/update",
		price:   "/rest/price/v1/update",
		relist:  "/rest/product/v1/activate",
		dispute: "/rest/claim/v1/acknowledge",
	},
	model.MarketplaceAmazon: {
		orders:  "/orders/v0/orders",
		stock:   "/listings/2021-08-01/items/inventory",
		price:   "/listings/2021-08-01/items/price",
		relist:  "/listings/2021-08-01/items/relist",
		dispute: "/chargebacks/v1/acknowledge",
	},
	model.MarketplaceEbay: {
		orders:  "/sell/fulfillment/v1/order",
		stock:   "/sell/inventory/v1/bulk_update_price_quantity",
		price:   "/sell/inventory/v1/bulk_update_price_quantity",
		relist:  "/sell/inventory/v1/offer/relist",
		dispute: "/sell/fulfillment/v1/payment_dispute/contest",
	},
	model.MarketplaceHepsiburada: {
		orders:  "/orders/merchant",
		stock:   "/listings/merchant/stock-uploads",
		price:   "/listings/merchant/price-uploads",
		relist:  "/listings/merchant/activate",
		dispute: "/claims/merchant/acknowledge",
	},
	model.MarketplaceOzon: {
		orders:  "/v3/posting/fbs/list",
		stock:   "/v2/products/stocks",
		price:   "/v1/product/import/prices",
		relist:  "/v1/product/unarchive",
		dispute: "/v2/arbitration/acknowledge",
	},
	model.MarketplacePazarama: {
		orders:  "/order/api/order/getOrders",
		stock:   "/product/api/product/updateStock",
		price:   "/product/api/product/updatePrice",
		relist:  "/product/api/product/activate",
		dispute: "/order/api/claim/acknowledge",
	},
}

// orderExtraction holds the JMESPath expressions pulling normalized order
// lines out of one marketplace's orders response.
type orderExtraction struct {
	list     string
	saleID   string
	itemID   string
	quantity string
}

var orderExtractions = map[model.Marketplace]orderExtraction{
	model.MarketplaceTrendyol:    {list: "content", saleID: "orderNumber", itemID: "productId", quantity: "quantity"},
	model.MarketplaceN11:         {list: "orders", saleID: "orderId", itemID: "productId", quantity: "quantity"},
	model.MarketplaceAmazon:      {list: "payload.orders", saleID: "amazonOrderId", itemID: "asin", quantity: "quantity"},
	model.MarketplaceEbay:        {list: "orders", saleID: "orderId", itemID: "itemId", quantity: "quantity"},
	model.MarketplaceHepsiburada: {list: "items", saleID: "orderNumber", itemID: "listingId", quantity: "quantity"},
	model.MarketplaceOzon:        {list: "result.postings", saleID: "posting_number", itemID: "product_id", quantity: "quantity"},
	model.MarketplacePazarama:    {list: "data", saleID: "saleId", itemID: "itemId", quantity: "quantity"},
}

// HandlerDeps carries everything the job handlers touch.
type HandlerDeps struct {
	Gateway *gateway.Client
	Stock   core.StockRepository
	Logger  *slog.Logger
}

// NewHandlerTable builds the job type handler table.
func NewHandlerTable(deps HandlerDeps) map[model.JobType]HandlerFunc {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{
		gateway: deps.Gateway,
		stock:   deps.Stock,
		logger:  logger.With("component", "worker_handlers"),
	}
	return map[model.JobType]HandlerFunc{
		model.JobTypeOrderSync: h.orderSync,
		model.JobTypeStockSync: h.stockSync,
		model.JobTypePriceSync: h.priceSync,
		model.JobTypeRelist:    h.relist,
		model.JobTypeDispute:   h.dispute,
		model.JobTypeDataErase: h.dataErase,
	}
}

type handlers struct {
	gateway *gateway.Client
	stock   core.StockRepository
	logger  *slog.Logger
}

type orderSyncParams struct {
	SaleID string `json:"sale_id"`
	Reason string `json:"reason"`
}

// orderSync pulls orders from the marketplace and replays their sales
// against the local stock mirror. The sale record makes every line
// replay-safe, so a re-run after a partial failure converges.
func (h *handlers) orderSync(ctx context.Context, job *model.Job) error {
	var params orderSyncParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return fmt.Errorf("decode order_sync params: %w", err)
	}

	routes, ok := routesByMarketplace[job.Marketplace]
	if !ok {
		return fmt.Errorf("no routes for marketplace %q", job.Marketplace)
	}

	path := routes.orders
	if params.SaleID != "" {
		path += "?order_id=" + url.QueryEscape(params.SaleID)
	}

	resp, err := h.gateway.Call(ctx, gateway.CallRequest{
		Marketplace: job.Marketplace,
		Endpoint:    "orders",
		Method:      http.MethodGet,
		Path:        path,
	})
	if err != nil {
		return fmt.Errorf("fetch orders: %w", err)
	}

	lines, err := extractOrderLines(job.Marketplace, resp.Body)
	if err != nil {
		return err
	}

	applied := 0
	for _, line := range lines {
		if line.saleID == "" || line.itemID == "" {
			continue
		}
		quantity := line.quantity
		if quantity <= 0 {
			quantity = 1
		}
		_, didApply, serr := h.stock.ApplySale(ctx, core.ApplySaleParams{
			Marketplace:    job.Marketplace,
			ExternalItemID: line.itemID,
			SaleID:         line.saleID,
			Quantity:       quantity,
		})
		if serr != nil {
			if errors.Is(serr, data.ErrStockItemNotFound) {
				h.logger.WarnContext(ctx, "order line for untracked item",
					"marketplace", job.Marketplace, "external_item_id", line.itemID)
				continue
			}
			return fmt.Errorf("apply sale %s: %w", line.saleID, serr)
		}
		if didApply {
			applied++
		}
	}

	h.logger.InfoContext(ctx, "orders reconciled",
		"marketplace", job.Marketplace, "lines", len(lines), "applied", applied, "reason", params.Reason)
	return nil
}

type orderLine struct {
	saleID   string
	itemID   string
	quantity int
}

func extractOrderLines(marketplace model.Marketplace, body []byte) ([]orderLine, error) {
	rule, ok := orderExtractions[marketplace]
	if !ok {
		return nil, fmt.Errorf("no order extraction for marketplace %q", marketplace)
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode orders response: %w", err)
	}

	listValue, err := jmespath.Search(rule.list, payload)
	if err != nil {
		return nil, fmt.Errorf("extract order list: %w", err)
	}
	items, ok := listValue.([]any)
	if !ok {
		// An absent list means no orders, not a malformed response.
		return nil, nil
	}

	lines := make([]orderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, orderLine{
			saleID:   searchString(rule.saleID, item),
			itemID:   searchString(rule.itemID, item),
			quantity: searchInt(rule.quantity, item),
		})
	}
	return lines, nil
}

func searchString(expr string, data any) string {
	value, err := jmespath.Search(expr, data)
	if err != nil || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func searchInt(expr string, data any) int {
	value, err := jmespath.Search(expr, data)
	if err != nil || value == nil {
		return 0
	}
	if f, ok := value.(float64); ok {
		return int(f)
	}
	return 0
}

type stockSyncParams struct {
	SKU  string `json:"sku"`
	Full bool   `json:"full"`
}

// stockSync pushes local quantities to the marketplace: one SKU when the
// params name it, the whole catalog page by page otherwise.
func (h *handlers) stockSync(ctx context.Context, job *model.Job) error {
	return h.pushLevels(ctx, job, "stock", func(item *model.StockItem) map[string]any {
		return map[string]any{
			"sku":              item.SKU,
			"external_item_id": item.ExternalItemID,
			"quantity":         item.Quantity,
		}
	})
}

// priceSync pushes local prices the same way stockSync pushes quantities.
func (h *handlers) priceSync(ctx context.Context, job *model.Job) error {
	return h.pushLevels(ctx, job, "price", func(item *model.StockItem) map[string]any {
		return map[string]any{
			"sku":              item.SKU,
			"external_item_id": item.ExternalItemID,
			"price":            item.Price,
		}
	})
}

func (h *handlers) pushLevels(
	ctx context.Context,
	job *model.Job,
	endpoint string,
	encode func(*model.StockItem) map[string]any,
) error {
	var params stockSyncParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return fmt.Errorf("decode %s_sync params: %w", endpoint, err)
	}

	if params.SKU != "" {
		item, err := h.stock.GetBySKU(ctx, params.SKU)
		if err != nil {
			return fmt.Errorf("load sku %s: %w", params.SKU, err)
		}
		return h.pushBatch(ctx, job.Marketplace, endpoint, []map[string]any{encode(item)})
	}

	offset := 0
	pushed := 0
	for {
		items, err := h.stock.ListByMarketplace(ctx, job.Marketplace, stockPushBatchSize, offset)
		if err != nil {
			return fmt.Errorf("list stock items: %w", err)
		}
		if len(items) == 0 {
			break
		}

		batch := make([]map[string]any, 0, len(items))
		for _, item := range items {
			batch = append(batch, encode(item))
		}
		if err := h.pushBatch(ctx, job.Marketplace, endpoint, batch); err != nil {
			return err
		}

		pushed += len(items)
		offset += len(items)
		if len(items) < stockPushBatchSize {
			break
		}
	}

	h.logger.InfoContext(ctx, "levels pushed",
		"marketplace", job.Marketplace, "endpoint", endpoint, "items", pushed)
	return nil
}

func (h *handlers) pushBatch(
	ctx context.Context,
	marketplace model.Marketplace,
	endpoint string,
	items []map[string]any,
) error {
	routes, ok := routesByMarketplace[marketplace]
	if !ok {
		return fmt.Errorf("no routes for marketplace %q", marketplace)
	}
	path := routes.stock
	if endpoint == "price" {
		path = routes.price
	}

	body, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return fmt.Errorf("encode %s batch: %w", endpoint, err)
	}

	if _, err := h.gateway.Call(ctx, gateway.CallRequest{
		Marketplace: marketplace,
		Endpoint:    endpoint,
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
	}); err != nil {
		return fmt.Errorf("push %s batch: %w", endpoint, err)
	}
	return nil
}

type relistParams struct {
	ExternalItemID string `json:"external_item_id"`
}

// relist reactivates an ended listing on the marketplace.
func (h *handlers) relist(ctx context.Context, job *model.Job) error {
	var params relistParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return fmt.Errorf("decode relist params: %w", err)
	}
	if params.ExternalItemID == "" {
		return errors.New("relist requires external_item_id")
	}

	routes, ok := routesByMarketplace[job.Marketplace]
	if !ok {
		return fmt.Errorf("no routes for marketplace %q", job.Marketplace)
	}

	body, err := json.Marshal(map[string]string{"external_item_id": params.ExternalItemID})
	if err != nil {
		return fmt.Errorf("encode relist body: %w", err)
	}

	if _, err := h.gateway.Call(ctx, gateway.CallRequest{
		Marketplace: job.Marketplace,
		Endpoint:    "relist",
		Method:      http.MethodPost,
		Path:        routes.relist,
		Body:        body,
	}); err != nil {
		return fmt.Errorf("relist item %s: %w", params.ExternalItemID, err)
	}

	h.logger.InfoContext(ctx, "listing relisted",
		"marketplace", job.Marketplace, "external_item_id", params.ExternalItemID)
	return nil
}

type disputeParams struct {
	SaleID         string `json:"sale_id"`
	ExternalItemID string `json:"external_item_id"`
}

// dispute acknowledges the dispute with the marketplace so the response
// deadline clock is answered; the operator handles the substance.
func (h *handlers) dispute(ctx context.Context, job *model.Job) error {
	var params disputeParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return fmt.Errorf("decode dispute params: %w", err)
	}
	if params.SaleID == "" {
		return errors.New("dispute requires sale_id")
	}

	routes, ok := routesByMarketplace[job.Marketplace]
	if !ok {
		return fmt.Errorf("no routes for marketplace %q", job.Marketplace)
	}

	body, err := json.Marshal(map[string]string{"sale_id": params.SaleID})
	if err != nil {
		return fmt.Errorf("encode dispute body: %w", err)
	}

	if _, err := h.gateway.Call(ctx, gateway.CallRequest{
		Marketplace: job.Marketplace,
		Endpoint:    "dispute",
		Method:      http.MethodPost,
		Path:        routes.dispute,
		Body:        body,
	}); err != nil {
		return fmt.Errorf("acknowledge dispute %s: %w", params.SaleID, err)
	}

	h.logger.InfoContext(ctx, "dispute acknowledged",
		"marketplace", job.Marketplace, "sale_id", params.SaleID)
	return nil
}

type dataEraseParams struct {
	BuyerID string `json:"buyer_id"`
}

// dataErase removes stored buyer data. It runs as a job so the erasure is
// retried until it sticks, which deletion notices require.
func (h *handlers) dataErase(ctx context.Context, job *model.Job) error {
	var params dataEraseParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return fmt.Errorf("decode data_erase params: %w", err)
	}
	if params.BuyerID == "" {
		return errors.New("data_erase requires buyer_id")
	}

	erased, err := h.stock.EraseBuyer(ctx, job.Marketplace, params.BuyerID)
	if err != nil {
		return fmt.Errorf("erase buyer data: %w", err)
	}

	h.logger.InfoContext(ctx, "buyer data erased",
		"marketplace", job.Marketplace, "rows", erased)
	return nil
}
