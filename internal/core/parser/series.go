package parser

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/marketgate/marketgate/internal/core"
)

var barFields = []string{core.FieldOpen, core.FieldHigh, core.FieldLow, core.FieldClose, core.FieldVolume}

// parseSeries accepts three shapes: a document keyed by timestamp, a list of bar
// documents, or columnar lists sharing the timestamp key.
func parseSeries(rules core.ResponseConfig, root any, out *core.MarketDataResult) error {
	var points []core.SeriesPoint
	var err error

	switch typed := root.(type) {
	case []any:
		points, err = seriesFromList(rules, typed)
	case map[string]any:
		if columns, ok := columnar(rules, typed); ok {
			points, err = seriesFromColumns(rules, typed, columns)
		} else {
			points, err = seriesFromKeyed(rules, typed)
		}
	default:
		return fmt.Errorf("series root is %s, not a document or list", kindOf(root))
	}
	if err != nil {
		return err
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Time.Before(points[j].Time)
	})
	out.Points = points

	if len(points) > 0 {
		last := points[len(points)-1]
		at := last.Time
		out.SourceTime = &at
		out.Open, out.High, out.Low, out.Close, out.Volume = last.Open, last.High, last.Low, last.Close, last.Volume
		out.Price = last.Close
	}
	return nil
}

func seriesFromKeyed(rules core.ResponseConfig, doc map[string]any) ([]core.SeriesPoint, error) {
	points := make([]core.SeriesPoint, 0, len(doc))
	for key, value := range doc {
		bar, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("series entry %q is %s, not a document", key, kindOf(value))
		}
		at, err := parseTimestamp(key, rules.TimestampFormat)
		if err != nil {
			return nil, errors.New(MsgUnparseableTimestamp)
		}
		point, err := barOf(rules, bar)
		if err != nil {
			return nil, err
		}
		point.Time = at
		points = append(points, point)
	}
	return points, nil
}

func seriesFromList(rules core.ResponseConfig, list []any) ([]core.SeriesPoint, error) {
	if strings.TrimSpace(rules.TimestampKey) == "" && len(list) > 0 {
		return nil, errors.New("series list needs a timestamp key")
	}

	points := make([]core.SeriesPoint, 0, len(list))
	for i, value := range list {
		bar, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("series entry %d is %s, not a document", i, kindOf(value))
		}
		raw, found := resolvePath(bar, rules.TimestampKey)
		if !found {
			return nil, fmt.Errorf("series entry %d: missing timestamp", i)
		}
		at, err := parseTimestamp(raw, rules.TimestampFormat)
		if err != nil {
			return nil, errors.New(MsgUnparseableTimestamp)
		}
		point, err := barOf(rules, bar)
		if err != nil {
			return nil, err
		}
		point.Time = at
		points = append(points, point)
	}
	return points, nil
}

// columnar reports whether doc holds parallel arrays keyed like {"t": [...], "c": [...]}.
func columnar(rules core.ResponseConfig, doc map[string]any) ([]any, bool) {
	if strings.TrimSpace(rules.TimestampKey) == "" {
		return nil, false
	}
	value, found := resolvePath(doc, rules.TimestampKey)
	if !found {
		return nil, false
	}
	times, ok := value.([]any)
	return times, ok
}

func seriesFromColumns(rules core.ResponseConfig, doc map[string]any, times []any) ([]core.SeriesPoint, error) {
	columns := make(map[string][]any, len(barFields))
	for _, field := range barFields {
		value, found := resolvePath(doc, mappedKey(rules, field))
		if !found {
			continue
		}
		column, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("field %q: column is %s, not a list", field, kindOf(value))
		}
		if len(column) != len(times) {
			return nil, fmt.Errorf("field %q: column has %d values for %d timestamps", field, len(column), len(times))
		}
		columns[field] = column
	}

	points := make([]core.SeriesPoint, 0, len(times))
	for i, raw := range times {
		at, err := parseTimestamp(raw, rules.TimestampFormat)
		if err != nil {
			return nil, errors.New(MsgUnparseableTimestamp)
		}
		point := core.SeriesPoint{Time: at}
		for field, column := range columns {
			number, err := coerceNumber(column[i])
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field, err)
			}
			setBarField(&point, field, number)
		}
		points = append(points, point)
	}
	return points, nil
}

func barOf(rules core.ResponseConfig, bar map[string]any) (core.SeriesPoint, error) {
	var point core.SeriesPoint
	for _, field := range barFields {
		value, found := resolvePath(bar, mappedKey(rules, field))
		if !found {
			continue
		}
		number, err := coerceNumber(value)
		if err != nil {
			return point, fmt.Errorf("field %q: %w", field, err)
		}
		setBarField(&point, field, number)
	}
	return point, nil
}

func setBarField(point *core.SeriesPoint, field string, value *float64) {
	switch field {
	case core.FieldOpen:
		point.Open = value
	case core.FieldHigh:
		point.High = value
	case core.FieldLow:
		point.Low = value
	case core.FieldClose:
		point.Close = value
	case core.FieldVolume:
		point.Volume = value
	}
}
