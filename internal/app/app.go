// Package app provides the top-level application lifecycle for the auction
// sync daemon. It wires together all dependencies (stores, caches, blob
// storage, the live core, the chain bridge, and notifications) and runs them
// until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/auctiond/internal/blob/s3"
	"github.com/alanyoungcy/auctiond/internal/chain"
	"github.com/alanyoungcy/auctiond/internal/config"
	"github.com/alanyoungcy/auctiond/internal/live"
	"github.com/alanyoungcy/auctiond/internal/server"
	"github.com/alanyoungcy/auctiond/internal/server/handler"
	"github.com/alanyoungcy/auctiond/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts every
// component, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting auction sync daemon",
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("contract", a.cfg.Chain.ContractAddress),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	logger := a.logger
	cfg := a.cfg

	// Operator notice on startup, regardless of the configured event filter.
	if err := deps.Notifier.NotifyAll(ctx, "auctiond starting",
		"watching contract "+cfg.Chain.ContractAddress); err != nil {
		logger.WarnContext(ctx, "startup notice failed", slog.String("error", err.Error()))
	}

	// Live core. The hub is built first because the gateway fans out through
	// it; the gateway is injected back into the hub afterwards.
	hub := ws.NewHub(logger)
	registry := live.NewRegistry()
	dispatcher := live.NewDispatcher(cfg.Live.QueueSize, logger)
	gateway := live.NewGateway(
		deps.AuctionCache, registry, hub,
		deps.SignalBus, deps.Notifier, dispatcher, logger,
	)
	hub.SetGateway(gateway)

	monitor := live.NewMonitor(
		deps.AuctionStore, deps.AuctionCache, deps.LockManager,
		registry, gateway,
		time.Duration(cfg.Live.ScanIntervalSec)*time.Second,
		time.Duration(cfg.Live.CountdownIntervalSec)*time.Second,
		logger,
	)

	bridge := chain.NewBridge(
		cfg.Chain.WSURL, cfg.Chain.ContractAddress,
		deps.AuctionStore, deps.BidStore, deps.AuctionCache,
		gateway, logger,
	)

	// HTTP + WebSocket surface.
	rateLimit := 0
	if cfg.Server.RateLimitEnabled {
		rateLimit = cfg.Server.RateLimitPerMin
	}
	srv := server.NewServer(
		server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			RateLimit:   rateLimit,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(logger),
			Auctions: handler.NewAuctionHandler(deps.AuctionStore, deps.BidStore, deps.AuctionCache, deps.SignalBus, logger),
		},
		hub, deps.RateLimiter, logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	dispatcher.Start(gctx)

	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return bridge.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })

	if deps.BlobWriter != nil {
		archiver := s3blob.NewArchiver(
			deps.BlobWriter, deps.AuctionStore, deps.BidStore,
			time.Duration(cfg.Live.ArchiveIntervalSec)*time.Second,
			logger,
		)
		g.Go(func() error { return archiver.Run(gctx) })
	}

	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	dispatcher.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
