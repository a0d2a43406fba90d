package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/engine"
	"github.com/marketgate/marketgate/internal/core/registry"
	apperrors "github.com/marketgate/marketgate/internal/errors"
	"github.com/marketgate/marketgate/internal/wire"
)

type allowAll struct{}

func (allowAll) CanFetch(context.Context, core.MarketDataRequest) core.FetchGate { return core.Allow() }

func (allowAll) Fetch(_ context.Context, req core.MarketDataRequest) core.ApiResult[*core.MarketDataResult] {
	return core.Ok(&core.MarketDataResult{Vendor: req.Vendor, Identifier: req.Identifier, Price: core.Float(1)})
}

func newTestService(t *testing.T) *wire.Service {
	t.Helper()
	reg, err := registry.New(core.VendorConfig{
		Name:      "alpha",
		BaseURL:   "https://www.alphavantage.co",
		RateLimit: &core.RateLimitConfig{PerMinute: 5},
		Endpoints: map[string]core.EndpointConfig{
			"quote": {Category: core.CategoryQuote, Path: "/query", RequiredParams: map[string]string{"symbol": "{symbol}"}},
		},
	})
	require.NoError(t, err)
	return &wire.Service{Provider: allowAll{}, Registry: reg, Gate: engine.NewGate(reg.Limits())}
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "NOT_FOUND", body.Error.Code)
	require.NotEmpty(t, body.Error.RequestID)
}

func TestServerMountsMarketRoutes(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1", Service: newTestService(t)})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/quote/alpha/IBM", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var quote wire.QuoteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&quote))
	require.Equal(t, "IBM", quote.Identifier)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/vendors", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerWithoutServiceOmitsMarketRoutes(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/vendors", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerAppliesInboundRateLimit(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1", Service: newTestService(t), RateLimit: 0.001, RateBurst: 1})

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/vendors", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/vendors", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	health := httptest.NewRecorder()
	srv.Handler().ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, health.Code)
}

func TestShutdownBeforeStart(t *testing.T) {
	require.NoError(t, New(Options{}).Shutdown(context.Background()))
}
