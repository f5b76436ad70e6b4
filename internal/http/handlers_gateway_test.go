package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/gateway"
)

// newGatewayRouter builds a router with a real gateway client pointed at
// a stub marketplace API.
func newGatewayRouter(t *testing.T) http.Handler {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{}"))
	}))
	t.Cleanup(srv.Close)

	baseURLs := make(map[model.Marketplace]string)
	for _, m := range model.Marketplaces() {
		baseURLs[m] = srv.URL
	}

	return NewRouter(RouterServices{
		Gateway: gateway.NewClient(gateway.ClientOptions{BaseURLs: baseURLs}),
	})
}

func doGateway(handler http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(""))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGatewayAPI_Limits(t *testing.T) {
	handler := newGatewayRouter(t)

	rec := doGateway(handler, http.MethodGet, "/api/gateway/limits")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Limits []gateway.LimitStatus `json:"limits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Limits, len(model.Marketplaces()))
}

func TestGatewayAPI_Circuits(t *testing.T) {
	handler := newGatewayRouter(t)

	rec := doGateway(handler, http.MethodGet, "/api/gateway/circuits")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Circuits []gateway.CircuitStatus `json:"circuits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
}

func TestGatewayAPI_ResetCircuits(t *testing.T) {
	handler := newGatewayRouter(t)

	rec := doGateway(handler, http.MethodPost, "/api/gateway/circuits/trendyol/reset")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp["reset"])
}

func TestGatewayAPI_ResetUnknownMarketplace(t *testing.T) {
	handler := newGatewayRouter(t)

	rec := doGateway(handler, http.MethodPost, "/api/gateway/circuits/etsy/reset")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGatewayAPI_Connectivity(t *testing.T) {
	handler := newGatewayRouter(t)

	rec := doGateway(handler, http.MethodGet, "/api/gateway/connectivity/trendyol")

	require.Equal(t, http.StatusOK, rec.Code)
	var report gateway.ConnectivityReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.OK)
	assert.Equal(t, model.MarketplaceTrendyol, report.Marketplace)
}

func TestGatewayAPI_ConnectivityUnknownMarketplace(t *testing.T) {
	handler := newGatewayRouter(t)

	rec := doGateway(handler, http.MethodGet, "/api/gateway/connectivity/etsy")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
