package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/meschain/marketsync/internal/mocks"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

func healthRequest(handler http.Handler, method string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz_AllStoresHealthy(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	cache := mocks.NewMockCacheRepository(ctrl)
	cache.EXPECT().Health(gomock.Any()).Return(nil)

	handler := NewRouter(RouterServices{DB: stubPinger{}, Cache: cache})
	rec := healthRequest(handler, http.MethodGet)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Equal(t, "ok", resp.Checks["cache"])
}

func TestHealthz_CacheDownDegrades(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	cache := mocks.NewMockCacheRepository(ctrl)
	cache.EXPECT().Health(gomock.Any()).Return(errors.New("redis: connection refused"))

	handler := NewRouter(RouterServices{DB: stubPinger{}, Cache: cache})
	rec := healthRequest(handler, http.MethodGet)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Checks["cache"], "connection refused")
}

func TestHealthz_DatabaseDownDegrades(t *testing.T) {
	handler := NewRouter(RouterServices{DB: stubPinger{err: errors.New("pool closed")}})
	rec := healthRequest(handler, http.MethodGet)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthz_HeadHasNoBody(t *testing.T) {
	handler := NewRouter(RouterServices{DB: stubPinger{}})
	rec := healthRequest(handler, http.MethodHead)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}
