// Package output renders fetch results and gateway state for the CLI.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marketgate/marketgate/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// FetchResult pairs a request with its outcome.
type FetchResult struct {
	Request core.MarketDataRequest                 `json:"request"`
	Result  core.ApiResult[*core.MarketDataResult] `json:"result"`
}

// Formatter renders fetch results.
type Formatter interface {
	FormatResults(results []FetchResult) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatResults renders the results as a JSON array.
func (f *JSONFormatter) FormatResults(results []FetchResult) (string, error) {
	if results == nil {
		results = []FetchResult{}
	}
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(results, "", "  ")
	} else {
		data, err = json.Marshal(results)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
