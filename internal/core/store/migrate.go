package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS raw_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vendor TEXT NOT NULL,
		category TEXT NOT NULL,
		identifier TEXT NOT NULL,
		day TEXT NOT NULL,
		body TEXT NOT NULL,
		saved_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_responses_lookup ON raw_responses(vendor, category, identifier, day, saved_at);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_responses_day ON raw_responses(vendor, day);`,
	`CREATE TABLE IF NOT EXISTS parsed_results (
		vendor TEXT NOT NULL,
		category TEXT NOT NULL,
		identifier TEXT NOT NULL,
		day TEXT NOT NULL,
		result_json TEXT NOT NULL,
		source_time INTEGER,
		saved_at INTEGER NOT NULL,
		PRIMARY KEY (vendor, category, identifier, day)
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	return nil
}
