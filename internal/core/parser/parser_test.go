package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketgate/marketgate/internal/core"
)

func alphaQuoteEndpoint() core.EndpointConfig {
	return core.EndpointConfig{
		Category: core.CategoryQuote,
		Response: core.ResponseConfig{
			RootPath:     "Global Quote",
			TimestampKey: "07. latest trading day",
			ErrorKeys:    []string{"Error Message", "Note"},
			FieldMappings: map[string]string{
				"symbol":         "01. symbol",
				"open":           "02. open",
				"high":           "03. high",
				"low":            "04. low",
				"price":          "05. price",
				"volume":         "06. volume",
				"previous_close": "08. previous close",
				"change":         "09. change",
				"change_percent": "10. change percent",
			},
		},
	}
}

func quoteRequest() core.MarketDataRequest {
	return core.MarketDataRequest{Vendor: "Alpha", Category: core.CategoryQuote, Identifier: "IBM"}
}

const alphaQuoteBody = `{
  "Global Quote": {
    "01. symbol": "IBM",
    "02. open": "187.5000",
    "03. high": "189.2000",
    "04. low": "186.9000",
    "05. price": "188.1200",
    "06. volume": "3920315",
    "07. latest trading day": "2025-01-03",
    "08. previous close": "187.0000",
    "09. change": "1.1200",
    "10. change percent": "0.5989%"
  }
}`

func TestParseAlphaVantageQuote(t *testing.T) {
	result := Parse(alphaQuoteEndpoint(), quoteRequest(), []byte(alphaQuoteBody))
	require.True(t, result.Success, result.Err())

	quote := result.Data
	require.Equal(t, "alpha", quote.Vendor)
	require.Equal(t, "IBM", quote.Identifier)
	require.Equal(t, core.CategoryQuote, quote.Category)
	require.InDelta(t, 188.12, *quote.Price, 1e-9)
	require.InDelta(t, 187.5, *quote.Open, 1e-9)
	require.InDelta(t, 3920315, *quote.Volume, 1e-9)
	require.InDelta(t, 1.12, *quote.Change, 1e-9)
	require.Nil(t, quote.Close)
	require.Nil(t, quote.Currency)
	require.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), *quote.SourceTime)
	require.InDelta(t, 0.5989, quote.Extra["change_percent"], 1e-9)
}

func TestParseNativeNumbersAndDottedKeys(t *testing.T) {
	endpoint := core.EndpointConfig{
		Category: core.CategoryQuote,
		Response: core.ResponseConfig{
			RootPath:        "data.0",
			TimestampKey:    "meta.t",
			TimestampFormat: "unix",
			FieldMappings: map[string]string{
				"price":    "quote.c",
				"currency": "meta.ccy",
			},
		},
	}
	body := `{"data":[{"quote":{"c":101.25},"meta":{"t":1735689600,"ccy":"USD"}}]}`

	result := Parse(endpoint, quoteRequest(), []byte(body))
	require.True(t, result.Success, result.Err())
	require.InDelta(t, 101.25, *result.Data.Price, 1e-9)
	require.Equal(t, "USD", *result.Data.Currency)
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *result.Data.SourceTime)
}

func TestParseRootPathNotFound(t *testing.T) {
	result := Parse(alphaQuoteEndpoint(), quoteRequest(), []byte(`{"Information":"nothing here"}`))
	require.False(t, result.Success)
	require.Equal(t, core.KindParse, result.Failure.Kind)
	require.Equal(t, MsgRootPathNotFound, result.Failure.Error)
}

func TestParseVendorErrorKey(t *testing.T) {
	body := `{"Note":"Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`

	result := Parse(alphaQuoteEndpoint(), quoteRequest(), []byte(body))
	require.False(t, result.Success)
	require.Equal(t, MsgVendorError, result.Failure.Error)
	require.Contains(t, result.Failure.VendorError, "standard API rate limit")
}

func TestParseMissingFieldsAreAbsent(t *testing.T) {
	result := Parse(alphaQuoteEndpoint(), quoteRequest(), []byte(`{"Global Quote":{"05. price":"10"}}`))
	require.True(t, result.Success, result.Err())
	require.InDelta(t, 10.0, *result.Data.Price, 1e-9)
	require.Nil(t, result.Data.Open)
	require.Nil(t, result.Data.SourceTime)
}

func TestParseNonNumericField(t *testing.T) {
	result := Parse(alphaQuoteEndpoint(), quoteRequest(), []byte(`{"Global Quote":{"05. price":"n/a"}}`))
	require.False(t, result.Success)
	require.Equal(t, `field "price": not numeric`, result.Failure.Error)

	result = Parse(alphaQuoteEndpoint(), quoteRequest(), []byte(`{"Global Quote":{"05. price":"1,234.50"}}`))
	require.False(t, result.Success)
	require.Equal(t, `field "price": not numeric`, result.Failure.Error)

	result = Parse(alphaQuoteEndpoint(), quoteRequest(), []byte(`{"Global Quote":{"05. price":true}}`))
	require.False(t, result.Success)
}

func TestParseOutOfRangeNumber(t *testing.T) {
	for _, body := range []string{
		`{"Global Quote":{"05. price":"1e400"}}`,
		`{"Global Quote":{"05. price":"-1e400"}}`,
		`{"Global Quote":{"05. price":1e400}}`,
	} {
		result := Parse(alphaQuoteEndpoint(), quoteRequest(), []byte(body))
		require.False(t, result.Success, body)
		require.Equal(t, `field "price": not numeric`, result.Failure.Error, body)
	}
}

func TestParseCaseInsensitiveKeyIsStable(t *testing.T) {
	endpoint := core.EndpointConfig{
		Category: core.CategoryQuote,
		Response: core.ResponseConfig{FieldMappings: map[string]string{"price": "Price"}},
	}
	body := `{"price ":"2","PRICE":"1","pRiCe":"3"}`

	for i := 0; i < 50; i++ {
		result := Parse(endpoint, quoteRequest(), []byte(body))
		require.True(t, result.Success, result.Err())
		require.InDelta(t, 1.0, *result.Data.Price, 1e-9)
	}
}

func TestParseUnparseableTimestamp(t *testing.T) {
	body := `{"Global Quote":{"05. price":"10","07. latest trading day":"yesterday"}}`

	result := Parse(alphaQuoteEndpoint(), quoteRequest(), []byte(body))
	require.False(t, result.Success)
	require.Equal(t, MsgUnparseableTimestamp, result.Failure.Error)
}

func TestParseNeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"{",
		`{"Global Quote":`,
		`{"Global Quote": {"05. price": "1"`,
		"[]",
		"null",
		"42",
		`"text"`,
		`{"Global Quote": []}`,
		`{"Global Quote": "scalar"}`,
		`{"Global Quote": null}`,
		`{"Global Quote": {"05. price": {"nested": 1}}}`,
		`{"Global Quote": {"07. latest trading day": 12}}`,
		"\x00\xff\xfe",
		`{"a":1} {"b":2}`,
	}

	endpoints := []core.EndpointConfig{alphaQuoteEndpoint(), alphaSeriesEndpoint()}
	for _, endpoint := range endpoints {
		for _, input := range inputs {
			require.NotPanics(t, func() {
				result := Parse(endpoint, quoteRequest(), []byte(input))
				if !result.Success {
					require.NotNil(t, result.Failure)
					require.Equal(t, core.KindParse, result.Failure.Kind)
					require.NotEmpty(t, result.Failure.Error)
				}
			}, "input %q", input)
		}
	}
}

func TestParseEmptyBody(t *testing.T) {
	result := Parse(alphaQuoteEndpoint(), quoteRequest(), nil)
	require.False(t, result.Success)
	require.Equal(t, MsgEmptyBody, result.Failure.Error)
}

func TestParseTruncatedJSON(t *testing.T) {
	result := Parse(alphaQuoteEndpoint(), quoteRequest(), []byte(alphaQuoteBody[:40]))
	require.False(t, result.Success)
	require.Contains(t, result.Failure.Error, "decode json body")
}

func TestParseCSVQuote(t *testing.T) {
	endpoint := core.EndpointConfig{
		Category: core.CategoryQuote,
		Response: core.ResponseConfig{
			Format:       "csv",
			TimestampKey: "timestamp",
			FieldMappings: map[string]string{
				"price": "price",
				"open":  "open",
			},
		},
	}
	body := "symbol,open,high,low,price,volume,timestamp\nIBM,187.5,189.2,186.9,188.12,3920315,2025-01-03\n"

	result := Parse(endpoint, quoteRequest(), []byte(body))
	require.True(t, result.Success, result.Err())
	require.InDelta(t, 188.12, *result.Data.Price, 1e-9)
	require.InDelta(t, 189.2, *result.Data.High, 1e-9)
	require.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), *result.Data.SourceTime)
}

func TestParseXMLQuote(t *testing.T) {
	endpoint := core.EndpointConfig{
		Category: core.CategoryQuote,
		Response: core.ResponseConfig{
			Format:       "xml",
			RootPath:     "response.quote",
			TimestampKey: "@asof",
			FieldMappings: map[string]string{
				"price":    "last",
				"currency": "ccy",
			},
		},
	}
	body := `<?xml version="1.0"?><response><quote asof="2025-01-03T15:30:00Z"><last>42.5</last><ccy>EUR</ccy></quote></response>`

	result := Parse(endpoint, quoteRequest(), []byte(body))
	require.True(t, result.Success, result.Err())
	require.InDelta(t, 42.5, *result.Data.Price, 1e-9)
	require.Equal(t, "EUR", *result.Data.Currency)
	require.Equal(t, time.Date(2025, 1, 3, 15, 30, 0, 0, time.UTC), *result.Data.SourceTime)
}

func TestParseMalformedXML(t *testing.T) {
	endpoint := core.EndpointConfig{Category: core.CategoryQuote, Response: core.ResponseConfig{Format: "xml"}}

	result := Parse(endpoint, quoteRequest(), []byte(`<response><quote>`))
	require.False(t, result.Success)
	require.Contains(t, result.Failure.Error, "decode xml body")
}

func TestParseUnsupportedFormat(t *testing.T) {
	endpoint := core.EndpointConfig{Category: core.CategoryQuote, Response: core.ResponseConfig{Format: "protobuf"}}

	result := Parse(endpoint, quoteRequest(), []byte(`x`))
	require.False(t, result.Success)
	require.Contains(t, result.Failure.Error, "unsupported response format")
}
