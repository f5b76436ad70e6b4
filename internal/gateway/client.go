package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/observability/metrics"
	"github.com/meschain/marketsync/internal/observability/statsd"
)

const (
	defaultCallTimeout = 15 * time.Second
	maxResponseBytes   = 10 << 20
)

// defaultBaseURLs are the production API hosts. Config can override any
// of them, which is how tests and sandbox environments point elsewhere.
var defaultBaseURLs = map[model.Marketplace]string{
	model.MarketplaceTrendyol:    "https://api.trendyol.com",
	model.MarketplaceN11:         "https://api.n11.com",
	model.MarketplaceAmazon:      "https://sellingpartnerapi-eu.amazon.com",
	model.MarketplaceEbay:        "https://api.ebay.com",
	model.MarketplaceHepsiburada: "https://listing-external.hepsiburada.com",
	model.MarketplaceOzon:        "https://api-seller.ozon.ru",
	model.MarketplacePazarama:    "https://isortagimapi.pazarama.com",
}

// pingPaths are the cheapest authenticated endpoint per marketplace, used
// by connectivity tests.
var pingPaths = map[model.Marketplace]string{
	model.MarketplaceTrendyol:    "/sapigw/suppliers/check",
	model.MarketplaceN11:         "/rest/secret/check",
	model.MarketplaceAmazon:      "/sellers/v1/marketplaceParticipations",
	model.MarketplaceEbay:        "/commerce/taxonomy/v1/get_default_category_tree_id",
	model.MarketplaceHepsiburada: "/listings/merchantid/status",
	model.MarketplaceOzon:        "/v1/seller/info",
	model.MarketplacePazarama:    "/isortagim-category/api/category/getCategoryTree",
}

// CallRequest describes one outbound marketplace API call. Endpoint is a
// logical name ("orders", "stock") used for circuits and metrics; Path is
// the literal URL path.
type CallRequest struct {
	Marketplace model.Marketplace
	Endpoint    string
	Method      string
	Path        string
	Body        []byte
	Header      http.Header
}

// CallResponse is the marketplace's answer to a successful call.
type CallResponse struct {
	Status   int
	Body     []byte
	Header   http.Header
	Duration time.Duration
}

// ClientOptions configures a gateway Client.
type ClientOptions struct {
	Limiter  *Limiter
	Breaker  *Breaker
	Auth     map[model.Marketplace]AuthProvider
	BaseURLs map[model.Marketplace]string
	// HTTPClient defaults to a plain client; the per-call timeout is
	// applied through the request context either way.
	HTTPClient *http.Client
	// CallTimeout caps each call. A tighter caller deadline still wins.
	CallTimeout time.Duration
	Sink        statsd.Sink
	Logger      *slog.Logger
}

// Client is the single egress point for marketplace APIs. Every call runs
// through the rate limiter and the circuit breaker before touching the
// wire.
type Client struct {
	limiter     *Limiter
	breaker     *Breaker
	auth        map[model.Marketplace]AuthProvider
	baseURLs    map[model.Marketplace]string
	httpClient  *http.Client
	callTimeout time.Duration
	sink        statsd.Sink
	logger      *slog.Logger
}

// NewClient creates a Client. A nil Limiter or Breaker gets defaults so a
// bare Client is still guarded.
func NewClient(opts ClientOptions) *Client {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewLimiter(LimiterOptions{})
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = NewBreaker(BreakerOptions{Sink: opts.Sink})
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseURLs := make(map[model.Marketplace]string, len(defaultBaseURLs))
	for m, u := range defaultBaseURLs {
		baseURLs[m] = u
	}
	for m, u := range opts.BaseURLs {
		if u != "" {
			baseURLs[m] = strings.TrimRight(u, "/")
		}
	}

	return &Client{
		limiter:     limiter,
		breaker:     breaker,
		auth:        opts.Auth,
		baseURLs:    baseURLs,
		httpClient:  httpClient,
		callTimeout: callTimeout,
		sink:        opts.Sink,
		logger:      logger.With("component", "gateway"),
	}
}

// Limiter exposes the rate limiter for the admin API.
func (c *Client) Limiter() *Limiter { return c.limiter }

// Breaker exposes the circuit breaker for the admin API.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Call performs one guarded marketplace API call. Failures come back as
// *GatewayError; the Kind tells the caller whether to retry.
func (c *Client) Call(ctx context.Context, in CallRequest) (*CallResponse, error) {
	if !in.Marketplace.Valid() {
		return nil, fmt.Errorf("invalid marketplace %q", in.Marketplace)
	}
	if in.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	if err := c.limiter.Allow(ctx, in.Marketplace); err != nil {
		if gerr, ok := AsGatewayError(err); ok {
			gerr.Endpoint = in.Endpoint
			c.emit(in, metrics.GatewayResultRateLimited, 0, nil)
			return nil, gerr
		}
		return nil, err
	}

	if err := c.breaker.Allow(in.Marketplace, in.Endpoint); err != nil {
		c.emit(in, metrics.GatewayResultCircuitOpen, 0, nil)
		return nil, err
	}

	// The breaker admitted this call, possibly as a half-open probe;
	// every path below must settle it with OnSuccess or OnFailure.
	resp, err := c.do(ctx, in)
	if err != nil {
		c.breaker.OnFailure(in.Marketplace, in.Endpoint)
		return nil, err
	}

	switch {
	case resp.Status >= 200 && resp.Status < 300:
		c.breaker.OnSuccess(in.Marketplace, in.Endpoint)
		c.emit(in, metrics.GatewayResultSuccess, resp.Duration, nil)
		return resp, nil
	case resp.Status == http.StatusTooManyRequests:
		// The marketplace throttled us. It is reachable, so the circuit
		// stays closed and the local budget is considered spent.
		c.breaker.OnSuccess(in.Marketplace, in.Endpoint)
		gerr := &GatewayError{Marketplace: in.Marketplace, Endpoint: in.Endpoint, Kind: KindRateLimited, Status: resp.Status}
		c.emit(in, metrics.GatewayResultRateLimited, resp.Duration, gerr)
		return nil, gerr
	case resp.Status >= 500:
		c.breaker.OnFailure(in.Marketplace, in.Endpoint)
		gerr := &GatewayError{Marketplace: in.Marketplace, Endpoint: in.Endpoint, Kind: KindHTTP, Status: resp.Status}
		c.emit(in, metrics.GatewayResultError, resp.Duration, gerr)
		return nil, gerr
	default:
		// 4xx means the marketplace is up and rejected this request.
		c.breaker.OnSuccess(in.Marketplace, in.Endpoint)
		gerr := &GatewayError{Marketplace: in.Marketplace, Endpoint: in.Endpoint, Kind: KindHTTP, Status: resp.Status}
		c.emit(in, metrics.GatewayResultError, resp.Duration, gerr)
		return nil, gerr
	}
}

func (c *Client) do(ctx context.Context, in CallRequest) (*CallResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	method := in.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(in.Body) > 0 {
		body = bytes.NewReader(in.Body)
	}

	url := c.baseURLs[in.Marketplace] + in.Path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range in.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if len(in.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if provider, ok := c.auth[in.Marketplace]; ok {
		if err := provider.Apply(ctx, req); err != nil {
			gerr := &GatewayError{Marketplace: in.Marketplace, Endpoint: in.Endpoint, Kind: KindAuth, Err: err}
			c.emit(in, metrics.GatewayResultError, 0, gerr)
			return nil, gerr
		}
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		kind := KindNetwork
		result := metrics.GatewayResultError
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
			result = metrics.GatewayResultTimeout
		}
		gerr := &GatewayError{Marketplace: in.Marketplace, Endpoint: in.Endpoint, Kind: kind, Err: err}
		c.emit(in, result, duration, gerr)
		c.logger.WarnContext(ctx, "marketplace call failed",
			"marketplace", in.Marketplace, "endpoint", in.Endpoint, "kind", kind, "error", err)
		return nil, gerr
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		gerr := &GatewayError{Marketplace: in.Marketplace, Endpoint: in.Endpoint, Kind: KindNetwork, Err: fmt.Errorf("read response: %w", err)}
		c.emit(in, metrics.GatewayResultError, duration, gerr)
		return nil, gerr
	}

	return &CallResponse{
		Status:   httpResp.StatusCode,
		Body:     respBody,
		Header:   httpResp.Header,
		Duration: duration,
	}, nil
}

func (c *Client) emit(in CallRequest, result string, duration time.Duration, err error) {
	metrics.EmitGatewayCall(c.sink, metrics.GatewayMetric{
		Marketplace: string(in.Marketplace),
		Endpoint:    in.Endpoint,
		Result:      result,
		Duration:    duration,
		Err:         err,
	})
}

// ConnectivityReport is the outcome of probing one marketplace.
type ConnectivityReport struct {
	Marketplace model.Marketplace `json:"marketplace"`
	OK          bool              `json:"ok"`
	Status      int               `json:"status,omitempty"`
	LatencyMS   int64             `json:"latency_ms"`
	Error       string            `json:"error,omitempty"`
}

// ConnectivityTest fires the marketplace's cheapest endpoint and reports
// reachability. A failed probe is a report, not an error; only an unknown
// marketplace errors.
func (c *Client) ConnectivityTest(ctx context.Context, marketplace model.Marketplace) (*ConnectivityReport, error) {
	if !marketplace.Valid() {
		return nil, fmt.Errorf("invalid marketplace %q", marketplace)
	}

	resp, err := c.Call(ctx, CallRequest{
		Marketplace: marketplace,
		Endpoint:    "connectivity",
		Method:      http.MethodGet,
		Path:        pingPaths[marketplace],
	})
	report := &ConnectivityReport{Marketplace: marketplace}
	if err != nil {
		report.Error = err.Error()
		if gerr, ok := AsGatewayError(err); ok {
			report.Status = gerr.Status
		}
		return report, nil
	}

	report.OK = true
	report.Status = resp.Status
	report.LatencyMS = resp.Duration.Milliseconds()
	return report, nil
}
