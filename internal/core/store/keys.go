package store

import (
	"errors"
	"strings"
	"time"

	"github.com/marketgate/marketgate/internal/core"
)

// Supported drivers.
const (
	DriverLibsql   = "libsql"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// DayLayout formats the UTC date bucket raw bodies are filed under.
const DayLayout = "2006-01-02"

var errMissingKey = errors.New("vendor and identifier are required")

// Option tunes a backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to date saved bodies.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// rawKey addresses stored bodies. Category is part of the key so a quote body
// is never read back for a series request.
type rawKey struct {
	vendor     string
	category   string
	identifier string
}

func newRawKey(vendor string, category core.DataCategory, identifier string) (rawKey, error) {
	key := rawKey{
		vendor:     core.NormalizeVendorName(vendor),
		category:   strings.ToLower(strings.TrimSpace(string(category))),
		identifier: strings.TrimSpace(identifier),
	}
	if key.vendor == "" || key.identifier == "" {
		return rawKey{}, errMissingKey
	}
	return key, nil
}

func dayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}
