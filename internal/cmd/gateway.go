package cmd

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/marketgate/marketgate/internal/config"
	"github.com/marketgate/marketgate/internal/core/engine"
	"github.com/marketgate/marketgate/internal/core/parser"
	"github.com/marketgate/marketgate/internal/core/registry"
	"github.com/marketgate/marketgate/internal/core/store"
	"github.com/marketgate/marketgate/internal/metrics"
	"github.com/marketgate/marketgate/internal/scheduler"
	"github.com/marketgate/marketgate/internal/wire"
)

// gatewayLogger is what the core packages log through. The gofulmen loggers satisfy it.
type gatewayLogger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// gateway holds the components one process shares: registry, gate, storage and orchestrator.
type gateway struct {
	cfg          *config.Config
	registry     *registry.Registry
	gate         *engine.Gate
	backend      store.Backend
	orchestrator *engine.Orchestrator
	logger       gatewayLogger
}

// openGateway wires the gateway from cfg. The caller closes it.
func openGateway(ctx context.Context, cfg *config.Config, logger gatewayLogger) (*gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg, err := cfg.VendorRegistry()
	if err != nil {
		return nil, fmt.Errorf("load vendors: %w", err)
	}

	backend, err := store.OpenBackend(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	gate := engine.NewGate(reg.Limits())
	orchestrator := &engine.Orchestrator{
		Registry:  reg,
		Gate:      gate,
		Storage:   backend,
		Client:    &http.Client{Timeout: cfg.Gateway.HTTPTimeout},
		Parser:    engine.ParserFunc(parser.Parse),
		Logger:    logger,
		Metrics:   metrics.Gateway{},
		UserAgent: cfg.Gateway.UserAgent,
		Coalesce:  cfg.Gateway.Coalesce,
	}

	return &gateway{
		cfg:          cfg,
		registry:     reg,
		gate:         gate,
		backend:      backend,
		orchestrator: orchestrator,
		logger:       logger,
	}, nil
}

func (g *gateway) service() *wire.Service {
	return &wire.Service{Provider: g.orchestrator, Registry: g.registry, Gate: g.gate}
}

// warmer builds the prefetch warmer. Prefetch vendors default to every configured vendor.
func (g *gateway) warmer() *scheduler.Warmer {
	vendors := g.cfg.Prefetch.Vendors
	if len(vendors) == 0 {
		vendors = g.registry.Names()
	}
	return &scheduler.Warmer{
		Fetcher:     g.orchestrator,
		Catalog:     g.backend,
		Vendors:     vendors,
		Concurrency: g.cfg.Prefetch.Concurrency,
		Pruner:      g.backend,
		RawTTL:      g.cfg.Store.RawTTL,
		Logger:      g.logger,
		Record:      metrics.RecordPrefetchRun,
		Schedule:    g.cfg.Prefetch.Schedule,
	}
}

func (g *gateway) Close() error {
	if g == nil || g.backend == nil {
		return nil
	}
	return g.backend.Close()
}
