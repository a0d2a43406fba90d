package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/marketgate/marketgate/internal/config"
)

var errStoreClosed = errors.New("store is not initialized")

// Store is the default Backend: libsql over a local file or a remote Turso database.
type Store struct {
	DB     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the libsql database named by cfg.URL or cfg.Path and pings it.
// Schema creation is left to Migrate.
func Open(ctx context.Context, cfg config.StoreConfig, opts ...Option) (*Store, error) {
	if driver := strings.TrimSpace(cfg.Driver); driver != "" && driver != DriverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(DriverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}
	return &Store{DB: db, driver: DriverLibsql, now: applyOptions(opts).now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// CheckHealth pings the database.
func (s *Store) CheckHealth(ctx context.Context) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	return s.DB.PingContext(ctx)
}

func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

func (s *Store) ready(ctx context.Context) (context.Context, error) {
	if s == nil || s.DB == nil {
		return nil, errStoreClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, nil
}

// buildLibsqlDSN prefers cfg.URL (remote, with AuthToken appended unless the
// URL carries one) and otherwise turns cfg.Path into a file: DSN, creating
// its directory.
func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if remote := strings.TrimSpace(cfg.URL); remote != "" {
		return withAuthToken(remote, strings.TrimSpace(cfg.AuthToken))
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}
	if path == ":memory:" || strings.HasPrefix(path, "libsql:") {
		return path, nil
	}

	dsn := path
	local := path
	if strings.HasPrefix(path, "file:") {
		parsed, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("invalid store path: %w", err)
		}
		local = parsed.Path
		if local == "" {
			local = parsed.Opaque
		}
		local = strings.TrimPrefix(local, "//")
	} else {
		dsn = "file:" + filepath.Clean(path)
	}

	if dir := filepath.Dir(filepath.Clean(local)); dir != "." && dir != string(filepath.Separator) {
		// #nosec G301 -- data directory shared with other local tools
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create store directory: %w", err)
		}
	}
	return dsn, nil
}

func withAuthToken(dsn, token string) (string, error) {
	if token == "" {
		return dsn, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	query := parsed.Query()
	if query.Get("authToken") != "" {
		return dsn, nil
	}
	query.Set("authToken", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
