package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meschain/marketsync/internal/domain/model"
)

func newTestClient(t *testing.T, handler http.Handler, opts ClientOptions) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	urls := make(map[model.Marketplace]string)
	for _, m := range model.Marketplaces() {
		urls[m] = server.URL
	}
	opts.BaseURLs = urls
	return NewClient(opts)
}

func TestClient_CallSuccess(t *testing.T) {
	var gotPath, gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("X-Api-Key")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}), ClientOptions{
		Auth: map[model.Marketplace]AuthProvider{
			model.MarketplaceTrendyol: &apiKeyAuth{key: "key-1"},
		},
	})

	resp, err := client.Call(context.Background(), CallRequest{
		Marketplace: model.MarketplaceTrendyol,
		Endpoint:    "orders",
		Method:      http.MethodPost,
		Path:        "/sapigw/orders",
		Body:        []byte(`{"page":0}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Greater(t, resp.Duration, time.Duration(0))
	assert.Equal(t, "/sapigw/orders", gotPath)
	assert.Equal(t, "key-1", gotAuth)
}

func TestClient_CallValidation(t *testing.T) {
	client := NewClient(ClientOptions{})

	_, err := client.Call(context.Background(), CallRequest{Marketplace: "bogus", Endpoint: "orders"})
	assert.ErrorContains(t, err, "invalid marketplace")

	_, err = client.Call(context.Background(), CallRequest{Marketplace: model.MarketplaceTrendyol})
	assert.ErrorContains(t, err, "endpoint is required")
}

func TestClient_ServerErrorsTripBreaker(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}), ClientOptions{
		Breaker: NewBreaker(BreakerOptions{FailureThreshold: 2}),
	})

	req := CallRequest{Marketplace: model.MarketplaceN11, Endpoint: "orders", Path: "/orders"}

	for i := 0; i < 2; i++ {
		_, err := client.Call(context.Background(), req)
		require.Error(t, err)
		gerr, ok := AsGatewayError(err)
		require.True(t, ok)
		assert.Equal(t, KindHTTP, gerr.Kind)
		assert.Equal(t, http.StatusBadGateway, gerr.Status)
		assert.True(t, gerr.Retryable())
	}

	// Threshold reached: the third call is rejected before the wire.
	_, err := client.Call(context.Background(), req)
	require.Error(t, err)
	gerr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, KindCircuitOpen, gerr.Kind)
}

func TestClient_ClientErrorDoesNotTripBreaker(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), ClientOptions{
		Breaker: NewBreaker(BreakerOptions{FailureThreshold: 2}),
	})

	req := CallRequest{Marketplace: model.MarketplaceEbay, Endpoint: "stock", Path: "/stock"}

	for i := 0; i < 5; i++ {
		_, err := client.Call(context.Background(), req)
		require.Error(t, err)
		gerr, ok := AsGatewayError(err)
		require.True(t, ok)
		assert.Equal(t, KindHTTP, gerr.Kind)
		assert.Equal(t, http.StatusNotFound, gerr.Status)
		assert.False(t, gerr.Retryable())
	}
}

func TestClient_MarketplaceThrottle(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}), ClientOptions{})

	_, err := client.Call(context.Background(), CallRequest{
		Marketplace: model.MarketplaceHepsiburada, Endpoint: "stock", Path: "/stock",
	})
	require.Error(t, err)
	gerr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, KindRateLimited, gerr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, gerr.Status)
	assert.True(t, gerr.Retryable())
}

func TestClient_LocalRateLimit(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), ClientOptions{
		Limiter: NewLimiter(LimiterOptions{
			Limits: map[model.Marketplace]int{model.MarketplacePazarama: 2},
		}),
	})

	req := CallRequest{Marketplace: model.MarketplacePazarama, Endpoint: "orders", Path: "/orders"}

	for i := 0; i < 2; i++ {
		_, err := client.Call(context.Background(), req)
		require.NoError(t, err)
	}

	_, err := client.Call(context.Background(), req)
	require.Error(t, err)
	gerr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, KindRateLimited, gerr.Kind)
	assert.Equal(t, "orders", gerr.Endpoint)
}

func TestClient_Timeout(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}), ClientOptions{
		CallTimeout: 50 * time.Millisecond,
	})

	_, err := client.Call(context.Background(), CallRequest{
		Marketplace: model.MarketplaceOzon, Endpoint: "orders", Path: "/orders",
	})
	require.Error(t, err)
	gerr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, gerr.Kind)
	assert.True(t, gerr.Retryable())
}

func TestClient_ConnectivityTest(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), ClientOptions{})

	report, err := client.ConnectivityTest(context.Background(), model.MarketplaceTrendyol)
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, http.StatusOK, report.Status)

	_, err = client.ConnectivityTest(context.Background(), "bogus")
	assert.ErrorContains(t, err, "invalid marketplace")
}

func TestClient_ConnectivityTestFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), ClientOptions{})

	report, err := client.ConnectivityTest(context.Background(), model.MarketplaceAmazon)
	require.NoError(t, err)
	assert.False(t, report.OK)
	assert.Equal(t, http.StatusServiceUnavailable, report.Status)
	assert.NotEmpty(t, report.Error)
}
