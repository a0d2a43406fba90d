package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/store"
)

type fakeFetcher struct {
	mu          sync.Mutex
	batches     [][]core.MarketDataRequest
	concurrency int
	outcome     func(core.MarketDataRequest) core.ApiResult[*core.MarketDataResult]
}

func (f *fakeFetcher) FetchMany(_ context.Context, reqs []core.MarketDataRequest, concurrency int) []core.ApiResult[*core.MarketDataResult] {
	f.mu.Lock()
	f.batches = append(f.batches, reqs)
	f.concurrency = concurrency
	f.mu.Unlock()

	out := make([]core.ApiResult[*core.MarketDataResult], len(reqs))
	for i, req := range reqs {
		out[i] = f.outcome(req)
	}
	return out
}

type failingCatalog struct{}

func (failingCatalog) ListSavedIdentifiers(context.Context, string, time.Time) ([]string, error) {
	return nil, errors.New("store offline")
}

func live(req core.MarketDataRequest) core.ApiResult[*core.MarketDataResult] {
	return core.Ok(&core.MarketDataResult{Vendor: req.Vendor, Identifier: req.Identifier}).
		WithMeta(core.MetaSource, core.SourceLive)
}

func TestRunOnceWarmsTodaysIdentifiers(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC)
	mem := store.NewMemory(store.WithClock(func() time.Time { return now }))
	require.NoError(t, mem.SaveRawResponse(ctx, "alpha", core.CategoryQuote, "IBM", "{}"))
	require.NoError(t, mem.SaveRawResponse(ctx, "alpha", core.CategoryQuote, "MSFT", "{}"))
	require.NoError(t, mem.SaveRawResponse(ctx, "alpha", core.CategoryQuote, "AAPL", "{}"))

	fetcher := &fakeFetcher{outcome: func(req core.MarketDataRequest) core.ApiResult[*core.MarketDataResult] {
		switch req.Identifier {
		case "MSFT":
			return core.Ok(&core.MarketDataResult{}).WithMeta(core.MetaSource, core.SourceCache)
		case "AAPL":
			return core.Fail[*core.MarketDataResult](core.KindVendorTransport, "boom")
		default:
			return live(req)
		}
	}}

	var recorded []int
	warmer := &Warmer{
		Fetcher:     fetcher,
		Catalog:     mem,
		Vendors:     []string{"alpha", "finnhub"},
		Concurrency: 3,
		Clock:       func() time.Time { return now },
		Record:      func(_ string, fetched, failed int) { recorded = append(recorded, fetched, failed) },
	}

	summaries := warmer.RunOnce(ctx)
	require.Len(t, summaries, 2)

	alpha := summaries[0]
	require.Equal(t, "alpha", alpha.Vendor)
	require.Equal(t, 3, alpha.Total)
	require.Equal(t, 1, alpha.Live)
	require.Equal(t, 1, alpha.Cached)
	require.Equal(t, 1, alpha.Failed)

	require.Zero(t, summaries[1].Total)
	require.Len(t, fetcher.batches, 1)
	require.Equal(t, 3, fetcher.concurrency)
	for _, req := range fetcher.batches[0] {
		require.Equal(t, core.CategoryQuote, req.Category)
	}
	require.Equal(t, []int{2, 1, 0, 0}, recorded)
}

func TestRunOnceSkipsVendorOnCatalogError(t *testing.T) {
	fetcher := &fakeFetcher{outcome: live}
	warmer := &Warmer{Fetcher: fetcher, Catalog: failingCatalog{}, Vendors: []string{"alpha"}}

	require.Empty(t, warmer.RunOnce(context.Background()))
	require.Empty(t, fetcher.batches)
}

func TestRunOncePrunesOldBodies(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	mem := store.NewMemory(store.WithClock(func() time.Time { return now }))
	require.NoError(t, mem.SaveRawResponse(ctx, "alpha", core.CategoryQuote, "IBM", "old"))

	later := now.Add(96 * time.Hour)
	warmer := &Warmer{
		Fetcher: &fakeFetcher{outcome: live},
		Catalog: mem,
		Pruner:  mem,
		RawTTL:  72 * time.Hour,
		Vendors: []string{"alpha"},
		Clock:   func() time.Time { return later },
	}
	warmer.RunOnce(ctx)

	_, ok, err := mem.TryReadLatestRaw(ctx, "alpha", core.CategoryQuote, "IBM", nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	warmer := &Warmer{
		Fetcher:  &fakeFetcher{outcome: live},
		Catalog:  store.NewMemory(),
		Schedule: "not a cron line",
	}
	err := warmer.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid prefetch schedule")
}

func TestStartStop(t *testing.T) {
	warmer := &Warmer{Fetcher: &fakeFetcher{outcome: live}, Catalog: store.NewMemory()}
	require.NoError(t, warmer.Start(context.Background()))
	require.Error(t, warmer.Start(context.Background()))
	warmer.Stop()
	warmer.Stop()
}

func TestStartRequiresDependencies(t *testing.T) {
	require.Error(t, (&Warmer{}).Start(context.Background()))
}
