// Package scheduler runs the cron-driven cache warmer.
//
// Each run refetches the identifiers a vendor has already served today, so the
// store holds a recent body for them when the gate later denies a live call.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/marketgate/marketgate/internal/core"
)

// DefaultSchedule runs the warmer every fifteen minutes.
const DefaultSchedule = "*/15 * * * *"

// Fetcher fetches a batch of requests with bounded concurrency.
type Fetcher interface {
	FetchMany(ctx context.Context, reqs []core.MarketDataRequest, concurrency int) []core.ApiResult[*core.MarketDataResult]
}

// Catalog lists identifiers saved for a vendor on a UTC day.
type Catalog interface {
	ListSavedIdentifiers(ctx context.Context, vendor string, date time.Time) ([]string, error)
}

// Pruner drops raw bodies older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Logger is the logging surface the warmer needs.
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// RunRecorder receives per-vendor run totals.
type RunRecorder func(vendor string, fetched, failed int)

// Summary reports one vendor's warm run.
type Summary struct {
	Vendor  string
	Total   int
	Live    int
	Cached  int
	Failed  int
	Elapsed time.Duration
}

// Warmer refetches saved identifiers on a schedule.
type Warmer struct {
	Fetcher     Fetcher
	Catalog     Catalog
	Vendors     []string
	Concurrency int

	// Pruner and RawTTL, when both set, drop bodies older than RawTTL after each run.
	Pruner Pruner
	RawTTL time.Duration

	Logger   Logger
	Record   RunRecorder
	Clock    func() time.Time
	Schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// Start registers the run on the cron schedule and starts the scheduler.
func (w *Warmer) Start(ctx context.Context) error {
	if w.Fetcher == nil || w.Catalog == nil {
		return errors.New("warmer needs a fetcher and a catalog")
	}

	schedule := strings.TrimSpace(w.Schedule)
	if schedule == "" {
		schedule = DefaultSchedule
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("warmer already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(schedule, func() { w.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid prefetch schedule %q: %w", schedule, err)
	}
	c.Start()
	w.cron = c

	w.logger().Info("Prefetch scheduler started",
		zap.String("schedule", schedule),
		zap.Strings("vendors", w.Vendors))
	return nil
}

// Stop halts the scheduler and waits for a running pass to finish.
func (w *Warmer) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	w.logger().Info("Prefetch scheduler stopped")
}

// tick skips a run while the previous one is still going.
func (w *Warmer) tick(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger().Warn("Prefetch run skipped, previous run still active")
		return
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	w.RunOnce(ctx)
}

// RunOnce warms every configured vendor once and returns the per-vendor summaries.
func (w *Warmer) RunOnce(ctx context.Context) []Summary {
	now := w.now()
	summaries := make([]Summary, 0, len(w.Vendors))

	for _, vendor := range w.Vendors {
		if ctx.Err() != nil {
			break
		}
		summary, err := w.warmVendor(ctx, vendor, now)
		if err != nil {
			w.logger().Warn("Prefetch failed to list identifiers",
				zap.String("vendor", vendor),
				zap.Error(err))
			continue
		}
		summaries = append(summaries, summary)
		if w.Record != nil {
			w.Record(vendor, summary.Live+summary.Cached, summary.Failed)
		}
		w.logger().Info("Prefetch run complete",
			zap.String("vendor", vendor),
			zap.Int("identifiers", summary.Total),
			zap.Int("live", summary.Live),
			zap.Int("cached", summary.Cached),
			zap.Int("failed", summary.Failed),
			zap.Duration("elapsed", summary.Elapsed))
	}

	if w.Pruner != nil && w.RawTTL > 0 && ctx.Err() == nil {
		removed, err := w.Pruner.Prune(ctx, now.Add(-w.RawTTL))
		if err != nil {
			w.logger().Warn("Prune failed", zap.Error(err))
		} else if removed > 0 {
			w.logger().Info("Pruned raw responses", zap.Int64("removed", removed))
		}
	}

	return summaries
}

func (w *Warmer) warmVendor(ctx context.Context, vendor string, now time.Time) (Summary, error) {
	started := time.Now()
	summary := Summary{Vendor: vendor}

	identifiers, err := w.Catalog.ListSavedIdentifiers(ctx, vendor, now)
	if err != nil {
		return summary, err
	}
	summary.Total = len(identifiers)
	if len(identifiers) == 0 {
		return summary, nil
	}

	reqs := make([]core.MarketDataRequest, len(identifiers))
	for i, identifier := range identifiers {
		reqs[i] = core.MarketDataRequest{
			Vendor:     vendor,
			Category:   core.CategoryQuote,
			Identifier: identifier,
		}
	}

	for _, result := range w.Fetcher.FetchMany(ctx, reqs, w.concurrency()) {
		switch {
		case !result.Success:
			summary.Failed++
		case result.Metadata[core.MetaSource] == core.SourceCache:
			summary.Cached++
		default:
			summary.Live++
		}
	}
	summary.Elapsed = time.Since(started)
	return summary, nil
}

func (w *Warmer) concurrency() int {
	if w.Concurrency < 1 {
		return 1
	}
	return w.Concurrency
}

func (w *Warmer) logger() Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

func (w *Warmer) now() time.Time {
	if w.Clock != nil {
		return w.Clock().UTC()
	}
	return time.Now().UTC()
}
