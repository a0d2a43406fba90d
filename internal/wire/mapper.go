// Package wire maps canonical results to the RPC response shapes and binds
// the RPC operations to a Provider.
package wire

import (
	"time"

	"github.com/marketgate/marketgate/internal/core"
)

// QuoteResponse is the RPC shape of a quote. Absent numbers are 0, an absent
// currency is "" and an absent source time is the zero time.
type QuoteResponse struct {
	Identifier    string    `json:"identifier"`
	Price         float64   `json:"price"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Volume        float64   `json:"volume"`
	PreviousClose float64   `json:"previous_close"`
	Change        float64   `json:"change"`
	Currency      string    `json:"currency"`
	Vendor        string    `json:"vendor"`
	AsOfUTC       time.Time `json:"as_of_utc"`

	// Source and Metadata are filled by the service from result metadata.
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SeriesPointResponse is one bar on the wire.
type SeriesPointResponse struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// SeriesResponse is the RPC shape of a series.
type SeriesResponse struct {
	Identifier string                `json:"identifier"`
	Vendor     string                `json:"vendor"`
	Currency   string                `json:"currency"`
	Points     []SeriesPointResponse `json:"points"`
	AsOfUTC    time.Time             `json:"as_of_utc"`
	Source     string                `json:"source,omitempty"`
	Metadata   map[string]any        `json:"metadata,omitempty"`
}

// ErrorResponse is the RPC shape of a failure.
type ErrorResponse struct {
	Kind        string     `json:"kind"`
	Message     string     `json:"message"`
	VendorError string     `json:"vendor_error,omitempty"`
	StatusCode  int        `json:"status_code,omitempty"`
	RetryAfter  *time.Time `json:"retry_after,omitempty"`
}

// ToQuoteResponse maps a canonical result field by field. It never fails;
// a nil result yields the zero response.
func ToQuoteResponse(result *core.MarketDataResult) QuoteResponse {
	if result == nil {
		return QuoteResponse{}
	}
	return QuoteResponse{
		Identifier:    result.Identifier,
		Price:         num(result.Price),
		Open:          num(result.Open),
		High:          num(result.High),
		Low:           num(result.Low),
		Volume:        num(result.Volume),
		PreviousClose: num(result.PreviousClose),
		Change:        num(result.Change),
		Currency:      str(result.Currency),
		Vendor:        result.Vendor,
		AsOfUTC:       utc(result.SourceTime),
	}
}

// ToSeriesResponse maps a canonical series. It never fails; Points is never nil.
func ToSeriesResponse(result *core.MarketDataResult) SeriesResponse {
	if result == nil {
		return SeriesResponse{Points: []SeriesPointResponse{}}
	}
	points := make([]SeriesPointResponse, len(result.Points))
	for i, point := range result.Points {
		points[i] = SeriesPointResponse{
			Time:   point.Time.UTC(),
			Open:   num(point.Open),
			High:   num(point.High),
			Low:    num(point.Low),
			Close:  num(point.Close),
			Volume: num(point.Volume),
		}
	}
	return SeriesResponse{
		Identifier: result.Identifier,
		Vendor:     result.Vendor,
		Currency:   str(result.Currency),
		Points:     points,
		AsOfUTC:    utc(result.SourceTime),
	}
}

// FailureResponse maps a failure to its wire shape.
func FailureResponse(failure core.Failure) ErrorResponse {
	out := ErrorResponse{
		Kind:        string(failure.Kind),
		Message:     failure.Error,
		VendorError: failure.VendorError,
		StatusCode:  failure.StatusCode,
	}
	if failure.RetryAfter != nil {
		at := failure.RetryAfter.UTC()
		out.RetryAfter = &at
	}
	return out
}

func num(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func str(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func utc(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
