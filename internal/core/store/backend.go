package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/marketgate/marketgate/internal/config"
	"github.com/marketgate/marketgate/internal/core/engine"
)

const maxConnectInterval = 10 * time.Second

var initialConnectInterval = 500 * time.Millisecond

// Backend is a Storage the process owns: it migrates, prunes and closes it.
type Backend interface {
	engine.Storage
	Migrate(ctx context.Context) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Driver() string
	// CheckHealth reports whether the backend is reachable.
	CheckHealth(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*Postgres)(nil)
	_ Backend = (*Redis)(nil)
	_ Backend = (*Memory)(nil)
)

// Logger is the logging surface OpenBackend needs.
type Logger interface {
	Warn(msg string, fields ...zap.Field)
}

// OpenBackend opens and migrates the backend selected by cfg.Driver. Networked
// drivers are retried with exponential backoff up to cfg.ConnectRetries attempts.
func OpenBackend(ctx context.Context, cfg config.StoreConfig, logger Logger, opts ...Option) (Backend, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverLibsql
	}

	var open func(context.Context) (Backend, error)
	switch driver {
	case DriverMemory:
		return NewMemory(opts...), nil
	case DriverLibsql:
		open = func(ctx context.Context) (Backend, error) { return Open(ctx, cfg, opts...) }
	case DriverPostgres:
		open = func(ctx context.Context) (Backend, error) { return OpenPostgres(ctx, cfg.URL, opts...) }
	case DriverRedis:
		open = func(ctx context.Context) (Backend, error) {
			return OpenRedis(ctx, cfg.URL, cfg.KeyPrefix, cfg.RawTTL, opts...)
		}
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	backend, err := connect(ctx, driver, cfg, logger, open)
	if err != nil {
		return nil, err
	}
	if err := backend.Migrate(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return backend, nil
}

func connect(ctx context.Context, driver string, cfg config.StoreConfig, logger Logger, open func(context.Context) (Backend, error)) (Backend, error) {
	attempts := cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = initialConnectInterval
	backoffCfg.MaxInterval = maxConnectInterval

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if cfg.ConnectTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		}
		backend, err := open(attemptCtx)
		cancel()
		if err == nil {
			return backend, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxConnectInterval
		}
		logger.Warn("store connect failed, retrying",
			zap.String("driver", driver),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", sleep),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect %s store: %w", driver, ctx.Err())
		case <-time.After(sleep):
		}
	}
	return nil, fmt.Errorf("connect %s store after %d attempts: %w", driver, attempts, lastErr)
}
