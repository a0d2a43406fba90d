package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/engine"
)

// Postgres persists bodies in a shared PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ engine.Storage = (*Postgres)(nil)

const (
	pgInsertRawSQL = `
INSERT INTO raw_responses (vendor, category, identifier, day, body, saved_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	pgLatestRawSQL = `
SELECT body FROM raw_responses
WHERE vendor = $1 AND category = $2 AND identifier = $3
ORDER BY saved_at DESC, id DESC
LIMIT 1;
`
	pgLatestRawOnDaySQL = `
SELECT body FROM raw_responses
WHERE vendor = $1 AND category = $2 AND identifier = $3 AND day = $4
ORDER BY saved_at DESC, id DESC
LIMIT 1;
`
	pgListIdentifiersSQL = `
SELECT DISTINCT identifier FROM raw_responses
WHERE vendor = $1 AND day = $2
ORDER BY identifier;
`
	pgUpsertParsedSQL = `
INSERT INTO parsed_results (vendor, category, identifier, day, result, source_time, saved_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
ON CONFLICT (vendor, category, identifier, day) DO UPDATE SET
    result = EXCLUDED.result,
    source_time = EXCLUDED.source_time,
    saved_at = EXCLUDED.saved_at;
`
	pgPruneSQL = `DELETE FROM raw_responses WHERE saved_at < $1;`
)

var pgSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS raw_responses (
    id BIGSERIAL PRIMARY KEY,
    vendor TEXT NOT NULL,
    category TEXT NOT NULL,
    identifier TEXT NOT NULL,
    day DATE NOT NULL,
    body TEXT NOT NULL,
    saved_at TIMESTAMPTZ NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_responses_lookup ON raw_responses (vendor, category, identifier, day, saved_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_responses_day ON raw_responses (vendor, day);`,
	`CREATE TABLE IF NOT EXISTS parsed_results (
    vendor TEXT NOT NULL,
    category TEXT NOT NULL,
    identifier TEXT NOT NULL,
    day DATE NOT NULL,
    result JSONB NOT NULL,
    source_time TIMESTAMPTZ,
    saved_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (vendor, category, identifier, day)
);`,
}

// OpenPostgres connects a pool to databaseURL and verifies it with a ping.
func OpenPostgres(ctx context.Context, databaseURL string, opts ...Option) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("postgres store url is required")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres store: %w", err)
	}

	return NewPostgres(pool, opts...), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, opts ...Option) *Postgres {
	return &Postgres{pool: pool, now: applyOptions(opts).now}
}

// Migrate ensures the required tables exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return errors.New("postgres store: nil pool")
	}
	for _, stmt := range pgSchemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migration failed: %w", err)
		}
	}
	return nil
}

// SaveRawResponse appends a raw vendor body under today's UTC date.
func (p *Postgres) SaveRawResponse(ctx context.Context, vendor string, category core.DataCategory, identifier string, raw string) error {
	if p == nil || p.pool == nil {
		return errors.New("postgres store: nil pool")
	}
	key, err := newRawKey(vendor, category, identifier)
	if err != nil {
		return err
	}

	now := p.now().UTC()
	if _, err := p.pool.Exec(ctx, pgInsertRawSQL, key.vendor, key.category, key.identifier, dayOf(now), raw, now); err != nil {
		return fmt.Errorf("save raw response: %w", err)
	}
	return nil
}

// TryReadLatestRaw returns the newest body saved on date, or on any date when date is nil.
func (p *Postgres) TryReadLatestRaw(ctx context.Context, vendor string, category core.DataCategory, identifier string, date *time.Time) (string, bool, error) {
	if p == nil || p.pool == nil {
		return "", false, errors.New("postgres store: nil pool")
	}
	key, err := newRawKey(vendor, category, identifier)
	if err != nil {
		return "", false, nil
	}

	var row pgx.Row
	if date != nil {
		row = p.pool.QueryRow(ctx, pgLatestRawOnDaySQL, key.vendor, key.category, key.identifier, dayOf(*date))
	} else {
		row = p.pool.QueryRow(ctx, pgLatestRawSQL, key.vendor, key.category, key.identifier)
	}

	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read raw response: %w", err)
	}
	return body, true, nil
}

// ListSavedIdentifiers returns the identifiers with a body saved on date, sorted.
func (p *Postgres) ListSavedIdentifiers(ctx context.Context, vendor string, date time.Time) ([]string, error) {
	if p == nil || p.pool == nil {
		return nil, errors.New("postgres store: nil pool")
	}

	rows, err := p.pool.Query(ctx, pgListIdentifiersSQL, core.NormalizeVendorName(vendor), dayOf(date))
	if err != nil {
		return nil, fmt.Errorf("list saved identifiers: %w", err)
	}
	identifiers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list saved identifiers: %w", err)
	}
	if identifiers == nil {
		identifiers = []string{}
	}
	return identifiers, nil
}

// SaveParsedResult upserts the canonical result as JSONB.
func (p *Postgres) SaveParsedResult(ctx context.Context, result *core.MarketDataResult) error {
	if p == nil || p.pool == nil {
		return errors.New("postgres store: nil pool")
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

	now := p.now().UTC()
	if _, err := p.pool.Exec(ctx, pgUpsertParsedSQL,
		key.vendor, key.category, key.identifier, dayOf(now), string(payload), result.SourceTime, now,
	); err != nil {
		return fmt.Errorf("save parsed result: %w", err)
	}
	return nil
}

// Prune deletes raw bodies saved before cutoff.
func (p *Postgres) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if p == nil || p.pool == nil {
		return 0, errors.New("postgres store: nil pool")
	}
	tag, err := p.pool.Exec(ctx, pgPruneSQL, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune raw responses: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Driver returns DriverPostgres.
func (p *Postgres) Driver() string { return DriverPostgres }

// CheckHealth pings the pool.
func (p *Postgres) CheckHealth(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
	return nil
}
