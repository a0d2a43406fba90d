package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marketgate/marketgate/internal/core"
)

// Granularity names a fixed rate-limit window.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// granularities is ordered from the tightest window to the widest.
var granularities = []Granularity{GranularityMinute, GranularityHour, GranularityDay}

// windowStart returns the UTC boundary of the window containing t.
func (g Granularity) windowStart(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case GranularityMinute:
		return t.Truncate(time.Minute)
	case GranularityHour:
		return t.Truncate(time.Hour)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// windowEnd returns the first instant after the window starting at start.
func (g Granularity) windowEnd(start time.Time) time.Time {
	switch g {
	case GranularityMinute:
		return start.Add(time.Minute)
	case GranularityHour:
		return start.Add(time.Hour)
	default:
		return start.AddDate(0, 0, 1)
	}
}

func ceiling(limits core.RateLimitConfig, g Granularity) int {
	switch g {
	case GranularityMinute:
		return limits.PerMinute
	case GranularityHour:
		return limits.PerHour
	default:
		return limits.PerDay
	}
}

type windowCounter struct {
	count int
	start time.Time
}

// vendorCounters holds one vendor's windows. mu guards the whole check-and-increment.
type vendorCounters struct {
	mu      sync.Mutex
	limits  core.RateLimitConfig
	windows map[Granularity]*windowCounter
}

// Gate performs per-vendor admission control over fixed UTC-aligned windows.
type Gate struct {
	mu      sync.RWMutex
	vendors map[string]*vendorCounters
	clock   func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the gate clock.
func WithClock(clock func() time.Time) GateOption {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WindowSnapshot reports one window's state.
type WindowSnapshot struct {
	Granularity Granularity `json:"granularity"`
	Limit       int         `json:"limit"`
	Count       int         `json:"count"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
}

// GateSnapshot reports a vendor's counters, tightest window first.
type GateSnapshot struct {
	Vendor  string           `json:"vendor"`
	Windows []WindowSnapshot `json:"windows"`
}

// NewGate creates a gate with counters for every vendor in limits.
func NewGate(limits map[string]core.RateLimitConfig, opts ...GateOption) *Gate {
	g := &Gate{
		vendors: make(map[string]*vendorCounters, len(limits)),
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}

	now := g.now()
	for name, limit := range limits {
		counters := &vendorCounters{
			limits:  limit,
			windows: make(map[Granularity]*windowCounter, len(granularities)),
		}
		for _, gran := range granularities {
			counters.windows[gran] = &windowCounter{start: gran.windowStart(now)}
		}
		g.vendors[core.NormalizeVendorName(name)] = counters
	}
	return g
}

// Admit decides whether a live fetch may proceed and consumes a slot when it may.
func (g *Gate) Admit(vendor string) core.FetchGate {
	return g.decide(vendor, true)
}

// Peek reports the decision Admit would return now without consuming a slot.
func (g *Gate) Peek(vendor string) core.FetchGate {
	return g.decide(vendor, false)
}

// Snapshot returns the current counters of a vendor.
func (g *Gate) Snapshot(vendor string) (GateSnapshot, bool) {
	counters := g.lookup(vendor)
	if counters == nil {
		return GateSnapshot{}, false
	}

	now := g.now()
	counters.mu.Lock()
	defer counters.mu.Unlock()
	counters.roll(now)

	snap := GateSnapshot{Vendor: core.NormalizeVendorName(vendor)}
	for _, gran := range granularities {
		window := counters.windows[gran]
		snap.Windows = append(snap.Windows, WindowSnapshot{
			Granularity: gran,
			Limit:       ceiling(counters.limits, gran),
			Count:       window.count,
			Start:       window.start,
			End:         gran.windowEnd(window.start),
		})
	}
	return snap, true
}

// Vendors returns the vendor keys the gate tracks, sorted.
func (g *Gate) Vendors() []string {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.vendors))
	for name := range g.vendors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (g *Gate) decide(vendor string, consume bool) core.FetchGate {
	counters := g.lookup(vendor)
	if counters == nil {
		return core.Deny(core.KindConfiguration, fmt.Sprintf("unknown vendor %q", vendor), nil)
	}

	now := g.now()
	counters.mu.Lock()
	defer counters.mu.Unlock()
	counters.roll(now)

	for _, gran := range granularities {
		limit := ceiling(counters.limits, gran)
		if limit == 0 {
			continue
		}
		window := counters.windows[gran]
		if window.count >= limit {
			retryAfter := gran.windowEnd(window.start)
			return core.Deny(core.KindAdmissionDenied, fmt.Sprintf("%s limit reached", gran), &retryAfter)
		}
	}

	if consume {
		for _, gran := range granularities {
			counters.windows[gran].count++
		}
	}
	return core.Allow()
}

// roll resets every window whose end has passed. Window starts only move forward.
func (c *vendorCounters) roll(now time.Time) {
	for _, gran := range granularities {
		window := c.windows[gran]
		if now.Before(gran.windowEnd(window.start)) {
			continue
		}
		next := gran.windowStart(now)
		if next.After(window.start) {
			window.start = next
			window.count = 0
		}
	}
}

func (g *Gate) lookup(vendor string) *vendorCounters {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.vendors[core.NormalizeVendorName(vendor)]
}

func (g *Gate) now() time.Time {
	if g != nil && g.clock != nil {
		return g.clock().UTC()
	}
	return time.Now().UTC()
}
