package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marketgate/marketgate/internal/core"
)

func parseQuote(rules core.ResponseConfig, root any, out *core.MarketDataResult) error {
	if list, ok := root.([]any); ok {
		if len(list) == 0 {
			return errors.New("quote root is an empty list")
		}
		root = list[0]
	}
	doc, ok := root.(map[string]any)
	if !ok {
		return fmt.Errorf("quote root is %s, not a document", kindOf(root))
	}

	targets := map[string]**float64{
		core.FieldPrice:         &out.Price,
		core.FieldOpen:          &out.Open,
		core.FieldHigh:          &out.High,
		core.FieldLow:           &out.Low,
		core.FieldClose:         &out.Close,
		core.FieldPreviousClose: &out.PreviousClose,
		core.FieldChange:        &out.Change,
		core.FieldVolume:        &out.Volume,
	}
	for _, field := range core.NumericFields {
		value, found := resolvePath(doc, mappedKey(rules, field))
		if !found {
			continue
		}
		number, err := coerceNumber(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", field, err)
		}
		*targets[field] = number
	}

	if value, found := resolvePath(doc, mappedKey(rules, core.FieldCurrency)); found {
		if currency := strings.TrimSpace(text(value)); currency != "" {
			out.Currency = core.String(currency)
		}
	}

	if out.Identifier == "" {
		if value, found := resolvePath(doc, mappedKey(rules, core.FieldSymbol)); found {
			out.Identifier = strings.TrimSpace(text(value))
		}
	}

	for _, field := range extraFields(rules) {
		value, found := resolvePath(doc, rules.FieldMappings[field])
		if !found {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		out.Extra[field] = scalar(value)
	}

	sourceTime, err := timestampOf(rules, doc)
	if err != nil {
		return err
	}
	out.SourceTime = sourceTime

	return nil
}

// timestampOf reads TimestampKey. A missing key is absent, not an error.
func timestampOf(rules core.ResponseConfig, doc map[string]any) (*time.Time, error) {
	if strings.TrimSpace(rules.TimestampKey) == "" {
		return nil, nil
	}
	value, found := resolvePath(doc, rules.TimestampKey)
	if !found || value == nil {
		return nil, nil
	}
	parsed, err := parseTimestamp(value, rules.TimestampFormat)
	if err != nil {
		return nil, errors.New(MsgUnparseableTimestamp)
	}
	return &parsed, nil
}

// scalar turns numeric values, quoted or not, into float64 for extras.
func scalar(value any) any {
	if number, err := coerceNumber(value); err == nil && number != nil {
		return *number
	}
	return value
}

func kindOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "a document"
	case []any:
		return "a list"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	default:
		return "a number"
	}
}
