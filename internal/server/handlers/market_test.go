package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/engine"
	"github.com/marketgate/marketgate/internal/core/registry"
	apperrors "github.com/marketgate/marketgate/internal/errors"
	"github.com/marketgate/marketgate/internal/wire"
)

type stubProvider struct {
	gate    *engine.Gate
	last    core.MarketDataRequest
	outcome core.ApiResult[*core.MarketDataResult]
}

func (s *stubProvider) CanFetch(_ context.Context, req core.MarketDataRequest) core.FetchGate {
	return s.gate.Peek(req.Vendor)
}

func (s *stubProvider) Fetch(_ context.Context, req core.MarketDataRequest) core.ApiResult[*core.MarketDataResult] {
	s.last = req
	return s.outcome
}

func newMarketRouter(t *testing.T) (http.Handler, *stubProvider) {
	t.Helper()
	reg, err := registry.New(core.VendorConfig{
		Name:      "alpha",
		BaseURL:   "https://www.alphavantage.co",
		RateLimit: &core.RateLimitConfig{PerMinute: 1},
		Endpoints: map[string]core.EndpointConfig{
			"quote": {Category: core.CategoryQuote, Path: "/query", RequiredParams: map[string]string{"symbol": "{symbol}"}},
		},
	})
	require.NoError(t, err)

	gate := engine.NewGate(reg.Limits())
	provider := &stubProvider{gate: gate}
	h := &MarketHandler{Service: &wire.Service{Provider: provider, Registry: reg, Gate: gate}}

	r := chi.NewRouter()
	r.Get("/v1/quote/{vendor}/{identifier}", h.Quote)
	r.Get("/v1/series/{vendor}/{identifier}", h.Series)
	r.Get("/v1/gate/{vendor}", h.Gate)
	r.Get("/v1/vendors", h.Vendors)
	r.Post("/v1/document", h.Document)
	return r, provider
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestQuoteHandler(t *testing.T) {
	router, provider := newMarketRouter(t)
	provider.outcome = core.Ok(&core.MarketDataResult{Vendor: "alpha", Identifier: "IBM", Price: core.Float(188.12)}).
		WithMeta(core.MetaSource, core.SourceLive)

	rec := do(router, http.MethodGet, "/v1/quote/alpha/IBM?outputsize=compact", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp wire.QuoteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.InDelta(t, 188.12, resp.Price, 1e-9)
	require.Equal(t, core.SourceLive, resp.Source)
	require.Equal(t, "IBM", provider.last.Identifier)
	require.Equal(t, map[string]string{"outputsize": "compact"}, provider.last.Params)
}

func TestQuoteHandlerDropsIdentityParams(t *testing.T) {
	router, provider := newMarketRouter(t)
	provider.outcome = core.Ok(&core.MarketDataResult{Vendor: "alpha", Identifier: "IBM"})

	rec := do(router, http.MethodGet, "/v1/quote/alpha/IBM?Symbol=MSFT&apikey=other&outputsize=full", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "IBM", provider.last.Identifier)
	require.Equal(t, map[string]string{"outputsize": "full"}, provider.last.Params)
}

func TestQuoteHandlerCachedExposesMetadata(t *testing.T) {
	router, provider := newMarketRouter(t)
	provider.outcome = core.Ok(&core.MarketDataResult{Vendor: "alpha", Identifier: "IBM", Price: core.Float(187)}).
		WithMeta(core.MetaSource, core.SourceCache).
		WithMeta(core.MetaRetryAfter, "2025-01-03T10:31:00Z")

	rec := do(router, http.MethodGet, "/v1/quote/alpha/IBM", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp wire.QuoteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, core.SourceCache, resp.Source)
	require.Equal(t, "2025-01-03T10:31:00Z", resp.Metadata[core.MetaRetryAfter])
}

func TestQuoteHandlerDenied(t *testing.T) {
	router, provider := newMarketRouter(t)
	retry := time.Now().Add(30 * time.Second)
	provider.outcome = core.FailWith[*core.MarketDataResult](core.Failure{
		Kind:       core.KindAdmissionDenied,
		Error:      "minute limit reached",
		RetryAfter: &retry,
	})

	rec := do(router, http.MethodGet, "/v1/quote/alpha/IBM", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "RATE_LIMITED", decodeError(t, rec).Error.Code)
}

func TestQuoteHandlerUnknownVendor(t *testing.T) {
	router, provider := newMarketRouter(t)
	provider.outcome = core.Fail[*core.MarketDataResult](core.KindConfiguration, `vendor not found: "nope"`)

	rec := do(router, http.MethodGet, "/v1/quote/nope/IBM", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSeriesHandlerParsesRange(t *testing.T) {
	router, provider := newMarketRouter(t)
	provider.outcome = core.Ok(&core.MarketDataResult{Vendor: "alpha"})

	rec := do(router, http.MethodGet, "/v1/series/alpha/IBM?from=2025-01-01&to=2025-01-03T00:00:00Z&resolution=D", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *provider.last.From)
	require.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), *provider.last.To)
	require.Equal(t, "D", provider.last.Resolution)
	require.Nil(t, provider.last.Params)

	var resp wire.SeriesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Points)
}

func TestSeriesHandlerRejectsBadRange(t *testing.T) {
	router, _ := newMarketRouter(t)

	rec := do(router, http.MethodGet, "/v1/series/alpha/IBM?from=yesterday", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, "/v1/series/alpha/IBM?from=2025-01-03&to=2025-01-01", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateHandlerDoesNotConsume(t *testing.T) {
	router, _ := newMarketRouter(t)

	for i := 0; i < 3; i++ {
		rec := do(router, http.MethodGet, "/v1/gate/alpha?category=quote", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp GateResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.True(t, resp.Decision.Allowed)
		require.NotNil(t, resp.Snapshot)
		require.Zero(t, resp.Snapshot.Windows[0].Count)
	}
}

func TestGateHandlerErrors(t *testing.T) {
	router, _ := newMarketRouter(t)

	require.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/v1/gate/alpha?category=options", "").Code)
	require.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/v1/gate/nope", "").Code)
}

func TestVendorsHandler(t *testing.T) {
	router, _ := newMarketRouter(t)

	rec := do(router, http.MethodGet, "/v1/vendors", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VendorsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, []string{"alpha"}, resp.Vendors)
}

func TestDocumentHandler(t *testing.T) {
	router, _ := newMarketRouter(t)

	rec := do(router, http.MethodPost, "/v1/document", `{"topic":"vendor","vendor":"alpha","metadata":{"trace":"t-1","n":3}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Document map[string]any `json:"document"`
		Metadata map[string]any `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "alpha", resp.Document["name"])
	require.Equal(t, false, resp.Document["has_api_key"])
	require.Equal(t, map[string]any{"trace": "t-1", "n": float64(3)}, resp.Metadata)
}

func TestDocumentHandlerErrors(t *testing.T) {
	router, _ := newMarketRouter(t)

	require.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/v1/document", `[1,2]`).Code)
	require.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/v1/document", `{"topic":"weather"}`).Code)
	require.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/v1/document", `{"topic":"vendor","vendor":"nope"}`).Code)
}
