package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/registry"
)

const quoteBody = `{
  "Global Quote": {
    "01. symbol": "IBM",
    "02. open": "187.5000",
    "05. price": "188.1200",
    "07. latest trading day": "2025-01-03",
    "09. change": "1.1200"
  }
}`

// stubStorage is an in-memory Storage that can be told to fail.
type stubStorage struct {
	mu        sync.Mutex
	raw       map[string]string
	parsed    []*core.MarketDataResult
	saveErr   error
	readErr   error
	rawWrites int
}

func newStubStorage() *stubStorage {
	return &stubStorage{raw: make(map[string]string)}
}

func stubKey(vendor string, category core.DataCategory, identifier string) string {
	return vendor + "|" + string(category) + "|" + identifier
}

func (s *stubStorage) SaveRawResponse(_ context.Context, vendor string, category core.DataCategory, identifier string, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawWrites++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.raw[stubKey(vendor, category, identifier)] = raw
	return nil
}

func (s *stubStorage) TryReadLatestRaw(_ context.Context, vendor string, category core.DataCategory, identifier string, _ *time.Time) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return "", false, s.readErr
	}
	raw, ok := s.raw[stubKey(vendor, category, identifier)]
	return raw, ok, nil
}

func (s *stubStorage) ListSavedIdentifiers(context.Context, string, time.Time) ([]string, error) {
	return nil, nil
}

func (s *stubStorage) SaveParsedResult(_ context.Context, result *core.MarketDataResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.parsed = append(s.parsed, result)
	return nil
}

type countingRecorder struct {
	mu        sync.Mutex
	denied    int
	requests  []int
	fallbacks map[bool]int
	storage   map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{fallbacks: map[bool]int{}, storage: map[string]int{}}
}

func (r *countingRecorder) GateDecision(_ string, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !allowed {
		r.denied++
	}
}

func (r *countingRecorder) VendorRequest(_ string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, status)
}

func (r *countingRecorder) CacheFallback(_ string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[hit]++
}

func (r *countingRecorder) StorageError(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[op]++
}

func alphaVendor(baseURL string, limits core.RateLimitConfig) core.VendorConfig {
	return core.VendorConfig{
		Name:      "Alpha",
		BaseURL:   baseURL,
		APIKey:    "demo",
		RateLimit: &limits,
		Endpoints: map[string]core.EndpointConfig{
			"quote": {
				Category: core.CategoryQuote,
				Path:     "/query",
				Function: "GLOBAL_QUOTE",
				RequiredParams: map[string]string{
					"symbol": "{symbol}",
					"apikey": "{apikey}",
				},
				Response: core.ResponseConfig{
					RootPath:     "Global Quote",
					TimestampKey: "07. latest trading day",
					ErrorKeys:    []string{"Error Message"},
					FieldMappings: map[string]string{
						"symbol": "01. symbol",
						"open":   "02. open",
						"price":  "05. price",
						"change": "09. change",
					},
				},
			},
		},
	}
}

type fixture struct {
	orch    *Orchestrator
	storage *stubStorage
	metrics *countingRecorder
	clock   *testClock
}

func newFixture(t *testing.T, client HTTPClient, vendors ...core.VendorConfig) *fixture {
	t.Helper()
	reg, err := registry.New(vendors...)
	require.NoError(t, err)

	clock := newTestClock(time.Date(2025, 1, 3, 10, 30, 30, 0, time.UTC))
	f := &fixture{
		storage: newStubStorage(),
		metrics: newCountingRecorder(),
		clock:   clock,
	}
	f.orch = &Orchestrator{
		Registry:  reg,
		Gate:      NewGate(reg.Limits(), WithClock(clock.Now)),
		Storage:   f.storage,
		Client:    client,
		Metrics:   f.metrics,
		Clock:     clock.Now,
		UserAgent: "marketgate-test",
	}
	return f
}

func quoteServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, quoteBody)
	}))
	t.Cleanup(server.Close)
	return server
}

func quoteReq() core.MarketDataRequest {
	return core.MarketDataRequest{Vendor: "alpha", Category: core.CategoryQuote, Identifier: "IBM"}
}

func TestFetchServesFromCacheWhenDenied(t *testing.T) {
	var hits atomic.Int32
	server := quoteServer(t, &hits)
	f := newFixture(t, server.Client(), alphaVendor(server.URL, core.RateLimitConfig{PerMinute: 1}))

	first := f.orch.Fetch(context.Background(), quoteReq())
	require.True(t, first.Success, first.Err())
	require.Equal(t, core.SourceLive, first.Metadata[core.MetaSource])
	require.Equal(t, "2025-01-03T10:30:30Z", first.Metadata[core.MetaFetchedAt])
	require.InDelta(t, 188.12, *first.Data.Price, 1e-9)
	require.Len(t, f.storage.parsed, 1)

	second := f.orch.Fetch(context.Background(), quoteReq())
	require.True(t, second.Success, second.Err())
	require.Equal(t, core.SourceCache, second.Metadata[core.MetaSource])
	require.Equal(t, "minute limit reached", second.Metadata[core.MetaGateReason])
	require.Equal(t, "2025-01-03T10:31:00Z", second.Metadata[core.MetaRetryAfter])
	require.Equal(t, *first.Data.Price, *second.Data.Price)
	require.Equal(t, first.Data.SourceTime, second.Data.SourceTime)

	require.EqualValues(t, 1, hits.Load())
	require.Equal(t, 1, f.metrics.denied)
	require.Equal(t, 1, f.metrics.fallbacks[true])
}

func TestFetchDeniedNeverCallsVendor(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)

	// Arrange
	f := newFixture(t, client, alphaVendor("https://vendor.invalid", core.RateLimitConfig{PerMinute: 1}))
	f.orch.Gate.Admit("alpha")
	client.EXPECT().Do(gomock.Any()).Times(0)

	// Act
	result := f.orch.Fetch(context.Background(), quoteReq())

	// Assert
	require.False(t, result.Success)
	require.Equal(t, core.KindAdmissionDenied, result.Failure.Kind)
	require.Equal(t, "minute limit reached", result.Failure.Error)
	require.Equal(t, time.Date(2025, 1, 3, 10, 31, 0, 0, time.UTC), *result.Failure.RetryAfter)
	require.Equal(t, 1, f.metrics.fallbacks[false])
}

func TestFetchDeniedStorageReadErrorIsAMiss(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).Times(0)

	f := newFixture(t, client, alphaVendor("https://vendor.invalid", core.RateLimitConfig{PerDay: 1}))
	f.orch.Gate.Admit("alpha")
	f.storage.readErr = errors.New("disk on fire")

	result := f.orch.Fetch(context.Background(), quoteReq())
	require.False(t, result.Success)
	require.Equal(t, core.KindAdmissionDenied, result.Failure.Kind)
	require.Equal(t, "day limit reached", result.Failure.Error)
	require.Equal(t, 1, f.metrics.storage["read_raw"])
}

func TestFetchParseFailureStillPersistsRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"Unexpected": {"05. price": "1"}}`)
	}))
	t.Cleanup(server.Close)
	f := newFixture(t, server.Client(), alphaVendor(server.URL, core.RateLimitConfig{}))

	result := f.orch.Fetch(context.Background(), quoteReq())
	require.False(t, result.Success)
	require.Equal(t, core.KindParse, result.Failure.Kind)
	require.Equal(t, "root path not found", result.Failure.Error)

	raw, ok, err := f.storage.TryReadLatestRaw(context.Background(), "alpha", core.CategoryQuote, "IBM", nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, raw, "Unexpected")
	require.Empty(t, f.storage.parsed)
}

func TestFetchMissingParamFailsBeforeNetwork(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).Times(0)

	vendor := alphaVendor("https://vendor.invalid", core.RateLimitConfig{PerMinute: 5})
	vendor.APIKey = ""
	f := newFixture(t, client, vendor)

	result := f.orch.Fetch(context.Background(), quoteReq())
	require.False(t, result.Success)
	require.Equal(t, core.KindRequestValidation, result.Failure.Kind)
	require.Contains(t, result.Failure.Error, "{apikey}")

	snapshot, ok := f.orch.Gate.Snapshot("alpha")
	require.True(t, ok)
	require.Equal(t, 1, snapshot.Windows[0].Count)
}

func TestFetchUnknownVendor(t *testing.T) {
	f := newFixture(t, nil, alphaVendor("https://vendor.invalid", core.RateLimitConfig{}))

	result := f.orch.Fetch(context.Background(), core.MarketDataRequest{Vendor: "nope", Category: core.CategoryQuote, Identifier: "IBM"})
	require.False(t, result.Success)
	require.Equal(t, core.KindConfiguration, result.Failure.Kind)

	result = f.orch.Fetch(context.Background(), core.MarketDataRequest{Vendor: "alpha", Category: core.CategorySeries, Identifier: "IBM"})
	require.False(t, result.Success)
	require.Equal(t, core.KindConfiguration, result.Failure.Kind)

	gate := f.orch.CanFetch(context.Background(), core.MarketDataRequest{Vendor: "nope", Category: core.CategoryQuote})
	require.False(t, gate.Allowed)
	require.Equal(t, core.KindConfiguration, gate.Kind)
}

func TestFetchNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"message":"slow down"}`)
	}))
	t.Cleanup(server.Close)
	f := newFixture(t, server.Client(), alphaVendor(server.URL, core.RateLimitConfig{}))

	result := f.orch.Fetch(context.Background(), quoteReq())
	require.False(t, result.Success)
	require.Equal(t, core.KindVendorTransport, result.Failure.Kind)
	require.Equal(t, "vendor returned status 429", result.Failure.Error)
	require.Equal(t, http.StatusTooManyRequests, result.Failure.StatusCode)
	require.Equal(t, `{"message":"slow down"}`, result.Failure.VendorError)
	require.Equal(t, time.Date(2025, 1, 3, 10, 31, 0, 0, time.UTC), *result.Failure.RetryAfter)
	require.Equal(t, 0, f.storage.rawWrites)
	require.Equal(t, []int{http.StatusTooManyRequests}, f.metrics.requests)
}

func TestFetchTransportErrors(t *testing.T) {
	t.Run("Timeout", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := NewMockHTTPClient(ctrl)
		client.EXPECT().Do(gomock.Any()).Return(nil, &url.Error{Op: "Get", URL: "https://vendor.invalid/query", Err: context.DeadlineExceeded})

		f := newFixture(t, client, alphaVendor("https://vendor.invalid", core.RateLimitConfig{}))
		result := f.orch.Fetch(context.Background(), quoteReq())
		require.False(t, result.Success)
		require.Equal(t, core.KindVendorTransport, result.Failure.Kind)
		require.True(t, strings.HasPrefix(result.Failure.Error, "vendor request timeout: "), result.Failure.Error)
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ctrl := gomock.NewController(t)
		client := NewMockHTTPClient(ctrl)
		client.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
			cancel()
			return nil, req.Context().Err()
		})

		f := newFixture(t, client, alphaVendor("https://vendor.invalid", core.RateLimitConfig{PerMinute: 2}))
		result := f.orch.Fetch(ctx, quoteReq())
		require.False(t, result.Success)
		require.True(t, strings.HasPrefix(result.Failure.Error, "vendor request canceled: "), result.Failure.Error)

		snapshot, _ := f.orch.Gate.Snapshot("alpha")
		require.Equal(t, 1, snapshot.Windows[0].Count)
	})
}

func TestFetchBuildsVendorRequest(t *testing.T) {
	var seen *http.Request
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		seen, form = r, r.PostForm
		_, _ = io.WriteString(w, quoteBody)
	}))
	t.Cleanup(server.Close)

	vendor := alphaVendor(server.URL+"/", core.RateLimitConfig{})
	vendor.Headers = map[string]string{"X-Api-Key": "{apikey}", "X-Trace": "{symbol}"}
	endpoint := vendor.Endpoints["quote"]
	endpoint.Method = "post"
	vendor.Endpoints["quote"] = endpoint

	f := newFixture(t, server.Client(), vendor)
	result := f.orch.Fetch(context.Background(), quoteReq())
	require.True(t, result.Success, result.Err())

	require.Equal(t, http.MethodPost, seen.Method)
	require.Equal(t, "/query", seen.URL.Path)
	require.Equal(t, "GLOBAL_QUOTE", form.Get("function"))
	require.Equal(t, "IBM", form.Get("symbol"))
	require.Equal(t, "demo", seen.Header.Get("X-Api-Key"))
	require.Empty(t, seen.Header.Get("X-Trace"))
	require.Equal(t, "application/json", seen.Header.Get("Accept"))
	require.Equal(t, "marketgate-test", seen.Header.Get("User-Agent"))
}

func TestFetchStorageWriteErrorsAreSwallowed(t *testing.T) {
	var hits atomic.Int32
	server := quoteServer(t, &hits)
	f := newFixture(t, server.Client(), alphaVendor(server.URL, core.RateLimitConfig{}))
	f.storage.saveErr = errors.New("read-only")

	result := f.orch.Fetch(context.Background(), quoteReq())
	require.True(t, result.Success, result.Err())
	require.Equal(t, 1, f.metrics.storage["save_raw"])
	require.Equal(t, 1, f.metrics.storage["save_parsed"])
}

func TestCanFetchConsumesNothing(t *testing.T) {
	var hits atomic.Int32
	server := quoteServer(t, &hits)
	f := newFixture(t, server.Client(), alphaVendor(server.URL, core.RateLimitConfig{PerMinute: 1}))

	for i := 0; i < 3; i++ {
		require.True(t, f.orch.CanFetch(context.Background(), quoteReq()).Allowed)
	}

	result := f.orch.Fetch(context.Background(), quoteReq())
	require.True(t, result.Success, result.Err())

	gate := f.orch.CanFetch(context.Background(), quoteReq())
	require.False(t, gate.Allowed)
	require.Equal(t, core.KindAdmissionDenied, gate.Kind)
}

func TestFetchManyKeepsOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		price := map[string]string{"IBM": "188.12", "AAPL": "243.85", "MSFT": "423.35"}[symbol]
		_, _ = fmt.Fprintf(w, `{"Global Quote": {"01. symbol": %q, "05. price": %q}}`, symbol, price)
	}))
	t.Cleanup(server.Close)
	f := newFixture(t, server.Client(), alphaVendor(server.URL, core.RateLimitConfig{}))

	reqs := []core.MarketDataRequest{}
	for _, symbol := range []string{"MSFT", "IBM", "AAPL", "nope"} {
		req := quoteReq()
		req.Identifier = symbol
		reqs = append(reqs, req)
	}
	reqs[3].Vendor = "missing"

	results := f.orch.FetchMany(context.Background(), reqs, 2)
	require.Len(t, results, 4)
	require.InDelta(t, 423.35, *results[0].Data.Price, 1e-9)
	require.InDelta(t, 188.12, *results[1].Data.Price, 1e-9)
	require.InDelta(t, 243.85, *results[2].Data.Price, 1e-9)
	require.False(t, results[3].Success)
	require.Empty(t, f.orch.FetchMany(context.Background(), nil, 0))
}

func TestFetchCoalescesConcurrentCalls(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = io.WriteString(w, quoteBody)
	}))
	t.Cleanup(server.Close)

	f := newFixture(t, server.Client(), alphaVendor(server.URL, core.RateLimitConfig{}))
	f.orch.Coalesce = true

	const callers = 5
	results := make([]core.ApiResult[*core.MarketDataResult], callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.orch.Fetch(context.Background(), quoteReq())
		}(i)
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, hits.Load())
	for _, result := range results {
		require.True(t, result.Success, result.Err())
	}
}

func TestFetchCoalescedCallerCancelDoesNotFailOthers(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = io.WriteString(w, quoteBody)
	}))
	t.Cleanup(server.Close)

	f := newFixture(t, server.Client(), alphaVendor(server.URL, core.RateLimitConfig{}))
	f.orch.Coalesce = true

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	leaderDone := make(chan core.ApiResult[*core.MarketDataResult], 1)
	go func() {
		leaderDone <- f.orch.Fetch(leaderCtx, quoteReq())
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)

	followerDone := make(chan core.ApiResult[*core.MarketDataResult], 1)
	go func() {
		followerDone <- f.orch.Fetch(context.Background(), quoteReq())
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	var leader core.ApiResult[*core.MarketDataResult]
	select {
	case leader = <-leaderDone:
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return while the vendor call was pending")
	}
	close(release)
	follower := <-followerDone

	require.False(t, leader.Success)
	require.True(t, strings.HasPrefix(leader.Failure.Error, "vendor request canceled: "), leader.Failure.Error)
	require.True(t, follower.Success, follower.Err())
	require.InDelta(t, 188.12, *follower.Data.Price, 1e-9)
	require.EqualValues(t, 1, hits.Load())
}

func TestSnippetKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "short", body: "  bad request \n", want: "bad request"},
		{name: "ascii cut", body: strings.Repeat("a", errorSnippetBytes+10), want: strings.Repeat("a", errorSnippetBytes)},
		{name: "two byte rune at limit", body: strings.Repeat("a", errorSnippetBytes-1) + strings.Repeat("é", 4), want: strings.Repeat("a", errorSnippetBytes-1)},
		{name: "four byte rune at limit", body: strings.Repeat("a", errorSnippetBytes-2) + "😀tail", want: strings.Repeat("a", errorSnippetBytes-2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := snippet([]byte(tt.body))
			require.True(t, utf8.ValidString(got))
			require.Equal(t, tt.want, got)
		})
	}
}
