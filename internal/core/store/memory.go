package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/engine"
)

// Memory keeps bodies in process. It backs tests and the memory driver.
type Memory struct {
	mu     sync.RWMutex
	raw    map[rawKey]map[string]savedBody
	parsed map[rawKey]map[string]*core.MarketDataResult
	now    func() time.Time

	// seq orders saves that share a timestamp.
	seq uint64
}

type savedBody struct {
	body    string
	savedAt time.Time
	seq     uint64
}

var _ engine.Storage = (*Memory)(nil)

// NewMemory returns an empty in-process store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		raw:    make(map[rawKey]map[string]savedBody),
		parsed: make(map[rawKey]map[string]*core.MarketDataResult),
		now:    applyOptions(opts).now,
	}
}

// SaveRawResponse records body as the newest body for its key and day.
func (m *Memory) SaveRawResponse(_ context.Context, vendor string, category core.DataCategory, identifier string, raw string) error {
	key, err := newRawKey(vendor, category, identifier)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	days := m.raw[key]
	if days == nil {
		days = make(map[string]savedBody)
		m.raw[key] = days
	}
	m.seq++
	days[dayOf(now)] = savedBody{body: raw, savedAt: now, seq: m.seq}
	return nil
}

// TryReadLatestRaw returns the newest body saved on date, or on any date when date is nil.
func (m *Memory) TryReadLatestRaw(_ context.Context, vendor string, category core.DataCategory, identifier string, date *time.Time) (string, bool, error) {
	key, err := newRawKey(vendor, category, identifier)
	if err != nil {
		return "", false, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	days := m.raw[key]
	if date != nil {
		saved, ok := days[dayOf(*date)]
		return saved.body, ok, nil
	}

	var (
		latest savedBody
		found  bool
	)
	for _, saved := range days {
		if !found || saved.savedAt.After(latest.savedAt) || (saved.savedAt.Equal(latest.savedAt) && saved.seq > latest.seq) {
			latest, found = saved, true
		}
	}
	return latest.body, found, nil
}

// ListSavedIdentifiers returns the identifiers with a body saved on date, sorted.
func (m *Memory) ListSavedIdentifiers(_ context.Context, vendor string, date time.Time) ([]string, error) {
	vendor = core.NormalizeVendorName(vendor)
	day := dayOf(date)

	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for key, days := range m.raw {
		if key.vendor != vendor {
			continue
		}
		if _, ok := days[day]; ok {
			seen[key.identifier] = struct{}{}
		}
	}

	identifiers := make([]string, 0, len(seen))
	for identifier := range seen {
		identifiers = append(identifiers, identifier)
	}
	sort.Strings(identifiers)
	return identifiers, nil
}

// SaveParsedResult keeps a copy of result for its key and day.
func (m *Memory) SaveParsedResult(_ context.Context, result *core.MarketDataResult) error {
	if result == nil {
		return nil
	}
	key, err := newRawKey(result.Vendor, result.Category, result.Identifier)
	if err != nil {
		return err
	}

	copied := *result
	m.mu.Lock()
	defer m.mu.Unlock()
	days := m.parsed[key]
	if days == nil {
		days = make(map[string]*core.MarketDataResult)
		m.parsed[key] = days
	}
	days[dayOf(m.now())] = &copied
	return nil
}

// Parsed returns the result saved for a key on date.
func (m *Memory) Parsed(vendor string, category core.DataCategory, identifier string, date time.Time) (*core.MarketDataResult, bool) {
	key, err := newRawKey(vendor, category, identifier)
	if err != nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.parsed[key][dayOf(date)]
	return result, ok
}

// Migrate is a no-op.
func (m *Memory) Migrate(context.Context) error { return nil }

// Prune drops bodies saved before cutoff.
func (m *Memory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for key, days := range m.raw {
		for day, saved := range days {
			if saved.savedAt.Before(cutoff) {
				delete(days, day)
				removed++
			}
		}
		if len(days) == 0 {
			delete(m.raw, key)
		}
	}
	return removed, nil
}

// Driver returns DriverMemory.
func (m *Memory) Driver() string { return DriverMemory }

// CheckHealth always succeeds.
func (m *Memory) CheckHealth(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }
