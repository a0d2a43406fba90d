package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/engine"
)

var _ engine.Storage = (*Store)(nil)

// SaveRawResponse appends a raw vendor body under today's UTC date.
func (s *Store) SaveRawResponse(ctx context.Context, vendor string, category core.DataCategory, identifier string, raw string) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	key, err := newRawKey(vendor, category, identifier)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO raw_responses (vendor, category, identifier, day, body, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key.vendor, key.category, key.identifier, dayOf(now), raw, now.UnixNano())
	if err != nil {
		return fmt.Errorf("save raw response: %w", err)
	}
	return nil
}

// TryReadLatestRaw returns the newest body saved on date, or on any date when date is nil.
func (s *Store) TryReadLatestRaw(ctx context.Context, vendor string, category core.DataCategory, identifier string, date *time.Time) (string, bool, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return "", false, err
	}
	key, err := newRawKey(vendor, category, identifier)
	if err != nil {
		return "", false, nil
	}

	query := `
		SELECT body FROM raw_responses
		WHERE vendor = ? AND category = ? AND identifier = ?`
	args := []any{key.vendor, key.category, key.identifier}
	if date != nil {
		query += ` AND day = ?`
		args = append(args, dayOf(*date))
	}
	query += ` ORDER BY saved_at DESC, id DESC LIMIT 1`

	var body string
	if err := s.DB.QueryRowContext(ctx, query, args...).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read raw response: %w", err)
	}
	return body, true, nil
}

// ListSavedIdentifiers returns the identifiers with a raw body saved on date, sorted.
func (s *Store) ListSavedIdentifiers(ctx context.Context, vendor string, date time.Time) ([]string, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT identifier FROM raw_responses
		WHERE vendor = ? AND day = ?
		ORDER BY identifier
	`, core.NormalizeVendorName(vendor), dayOf(date))
	if err != nil {
		return nil, fmt.Errorf("list saved identifiers: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	identifiers := []string{}
	for rows.Next() {
		var identifier string
		if err := rows.Scan(&identifier); err != nil {
			return nil, fmt.Errorf("scan saved identifier: %w", err)
		}
		identifiers = append(identifiers, identifier)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list saved identifiers: %w", err)
	}
	return identifiers, nil
}

// SaveParsedResult upserts the canonical result for its vendor, category, identifier and day.
func (s *Store) SaveParsedResult(ctx context.Context, result *core.MarketDataResult) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	key, err := newRawKey(result.Vendor, result.Category, result.Identifier)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode parsed result: %w", err)
	}

	var sourceTime sql.NullInt64
	if result.SourceTime != nil {
		sourceTime = sql.NullInt64{Int64: result.SourceTime.Unix(), Valid: true}
	}

	now := s.now().UTC()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO parsed_results (vendor, category, identifier, day, result_json, source_time, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vendor, category, identifier, day) DO UPDATE SET
			result_json = excluded.result_json,
			source_time = excluded.source_time,
			saved_at = excluded.saved_at
	`, key.vendor, key.category, key.identifier, dayOf(now), string(payload), sourceTime, now.UnixNano())
	if err != nil {
		return fmt.Errorf("save parsed result: %w", err)
	}
	return nil
}

// LatestParsed returns the newest parsed result stored for a key.
func (s *Store) LatestParsed(ctx context.Context, vendor string, category core.DataCategory, identifier string) (*core.MarketDataResult, bool, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, false, err
	}
	key, err := newRawKey(vendor, category, identifier)
	if err != nil {
		return nil, false, nil
	}

	var payload string
	err = s.DB.QueryRowContext(ctx, `
		SELECT result_json FROM parsed_results
		WHERE vendor = ? AND category = ? AND identifier = ?
		ORDER BY saved_at DESC LIMIT 1
	`, key.vendor, key.category, key.identifier).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read parsed result: %w", err)
	}

	var result core.MarketDataResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, false, fmt.Errorf("decode parsed result: %w", err)
	}
	return &result, true, nil
}

// Prune deletes raw bodies saved before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM raw_responses WHERE saved_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune raw responses: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return removed, nil
}
