package core

import (
	"strings"
	"time"
)

// DataCategory identifies the kind of market data an endpoint serves.
type DataCategory string

const (
	CategoryQuote  DataCategory = "quote"
	CategorySeries DataCategory = "series"
)

// ParseCategory normalizes a category name.
func ParseCategory(value string) (DataCategory, bool) {
	category := DataCategory(strings.ToLower(strings.TrimSpace(value)))
	return category, category.Valid()
}

// Valid reports whether the category is known.
func (c DataCategory) Valid() bool {
	switch c {
	case CategoryQuote, CategorySeries:
		return true
	default:
		return false
	}
}

// Placeholders returns the request placeholders an endpoint of this category may reference.
func (c DataCategory) Placeholders() []string {
	switch c {
	case CategoryQuote:
		return []string{"symbol", "apikey"}
	case CategorySeries:
		return []string{"symbol", "apikey", "from", "to", "resolution", "interval", "outputsize"}
	default:
		return nil
	}
}

// Recognizes reports whether name is a placeholder this category can resolve.
func (c DataCategory) Recognizes(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, placeholder := range c.Placeholders() {
		if placeholder == name {
			return true
		}
	}
	return false
}

// MarketDataRequest describes one fetch. Cancellation travels through context.Context.
type MarketDataRequest struct {
	Vendor        string            `json:"vendor"`
	Category      DataCategory      `json:"category"`
	Identifier    string            `json:"identifier"`
	From          *time.Time        `json:"from,omitempty"`
	To            *time.Time        `json:"to,omitempty"`
	Resolution    string            `json:"resolution,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// FetchGate is the admission decision for a single request.
type FetchGate struct {
	Allowed    bool       `json:"allowed"`
	Reason     string     `json:"reason,omitempty"`
	RetryAfter *time.Time `json:"retry_after,omitempty"`
	Kind       ErrorKind  `json:"kind,omitempty"`
}

// Allow returns an admitting gate.
func Allow() FetchGate {
	return FetchGate{Allowed: true}
}

// Deny returns a denying gate.
func Deny(kind ErrorKind, reason string, retryAfter *time.Time) FetchGate {
	return FetchGate{Kind: kind, Reason: reason, RetryAfter: retryAfter}
}

// SeriesPoint is one bar of a price series.
type SeriesPoint struct {
	Time   time.Time `json:"time"`
	Open   *float64  `json:"open,omitempty"`
	High   *float64  `json:"high,omitempty"`
	Low    *float64  `json:"low,omitempty"`
	Close  *float64  `json:"close,omitempty"`
	Volume *float64  `json:"volume,omitempty"`
}

// MarketDataResult is the canonical, vendor-independent result. Absent fields stay nil.
type MarketDataResult struct {
	Vendor        string         `json:"vendor"`
	Identifier    string         `json:"identifier"`
	Category      DataCategory   `json:"category"`
	Price         *float64       `json:"price,omitempty"`
	Open          *float64       `json:"open,omitempty"`
	High          *float64       `json:"high,omitempty"`
	Low           *float64       `json:"low,omitempty"`
	Close         *float64       `json:"close,omitempty"`
	PreviousClose *float64       `json:"previous_close,omitempty"`
	Change        *float64       `json:"change,omitempty"`
	Volume        *float64       `json:"volume,omitempty"`
	Currency      *string        `json:"currency,omitempty"`
	Points        []SeriesPoint  `json:"points,omitempty"`
	SourceTime    *time.Time     `json:"source_time,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Canonical quote field names used in field mappings.
const (
	FieldPrice         = "price"
	FieldOpen          = "open"
	FieldHigh          = "high"
	FieldLow           = "low"
	FieldClose         = "close"
	FieldPreviousClose = "previous_close"
	FieldChange        = "change"
	FieldVolume        = "volume"
	FieldCurrency      = "currency"
	FieldSymbol        = "symbol"
)

// NumericFields lists the canonical fields coerced to numbers.
var NumericFields = []string{
	FieldPrice,
	FieldOpen,
	FieldHigh,
	FieldLow,
	FieldClose,
	FieldPreviousClose,
	FieldChange,
	FieldVolume,
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to v.
func String(v string) *string {
	return &v
}
