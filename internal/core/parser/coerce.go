package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

var errNotNumeric = errors.New("not numeric")

// defaultLayouts are tried in order when the endpoint names no timestamp format.
var defaultLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// coerceNumber accepts JSON numbers and numeric strings. A trailing percent sign is
// dropped; thousands separators are rejected. Null and empty strings are absent.
func coerceNumber(value any) (*float64, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case json.Number:
		return fromDecimalString(typed.String())
	case float64:
		if math.IsInf(typed, 0) || math.IsNaN(typed) {
			return nil, errNotNumeric
		}
		return &typed, nil
	case int:
		f := float64(typed)
		return &f, nil
	case int64:
		f := float64(typed)
		return &f, nil
	case string:
		text := strings.TrimSpace(typed)
		if text == "" {
			return nil, nil
		}
		text = strings.TrimSpace(strings.TrimSuffix(text, "%"))
		if strings.Contains(text, ",") {
			return nil, errNotNumeric
		}
		return fromDecimalString(text)
	default:
		return nil, errNotNumeric
	}
}

func fromDecimalString(text string) (*float64, error) {
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, errNotNumeric
	}
	// Exponents past float64 range come back as ±Inf.
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, errNotNumeric
	}
	return &f, nil
}

// parseTimestamp reads a vendor timestamp. format is a Go layout, "unix" or "unixms";
// empty means numbers are epoch seconds (milliseconds above 1e12) and strings try defaultLayouts.
func parseTimestamp(value any, format string) (time.Time, error) {
	format = strings.TrimSpace(format)

	switch strings.ToLower(format) {
	case "unix", "unixms":
		n, err := epoch(value)
		if err != nil {
			return time.Time{}, err
		}
		if strings.EqualFold(format, "unixms") {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	if number, ok := value.(json.Number); ok && format == "" {
		n, err := epoch(number)
		if err != nil {
			return time.Time{}, err
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	textValue, ok := value.(string)
	if !ok {
		if number, isNumber := value.(json.Number); isNumber {
			textValue = number.String()
		} else {
			return time.Time{}, fmt.Errorf("timestamp of type %T", value)
		}
	}
	textValue = strings.TrimSpace(textValue)

	if format != "" {
		parsed, err := time.Parse(format, textValue)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	}

	for _, layout := range defaultLayouts {
		if parsed, err := time.Parse(layout, textValue); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("no layout matches %q", textValue)
}

func epoch(value any) (int64, error) {
	var text string
	switch typed := value.(type) {
	case json.Number:
		text = typed.String()
	case string:
		text = strings.TrimSpace(typed)
	case float64:
		return int64(typed), nil
	default:
		return 0, fmt.Errorf("epoch of type %T", value)
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, err
	}
	return d.IntPart(), nil
}

// text renders a scalar for messages and string fields.
func text(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
