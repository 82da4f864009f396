package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-live/danmu-relay/internal/config"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/enrich"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/feed"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/handler"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/hub"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/registry"
	pkglog "github.com/weiawesome/wes-io-live/danmu-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/middleware"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Level == "debug",
		ServiceName: "danmu-relay",
	})
	logger := pkglog.L()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("danmu-relay stopped with error")
	}
	logger.Info().Msg("danmu-relay stopped")
}

// run serves until SIGINT/SIGTERM. Deferred cleanups always run before it
// returns.
func run(cfg *config.Config, logger zerolog.Logger) error {
	// Enrichment lookups
	enricher := enrich.NewEnricher(nil, 0)
	lookup, err := enrich.NewRedisLookup(cfg.Redis)
	if err != nil {
		logger.Warn().Err(err).Msg("enrichment disabled, messages carry default fields")
	} else {
		defer lookup.Close()
		enricher = enrich.NewEnricher(lookup, cfg.Redis.LookupTimeout)
	}

	// Upstream feeds
	var bus pubsub.PubSub
	if cfg.Feed.Driver == feed.DriverPubSub {
		bus, err = pubsub.NewPubSub(cfg.PubSub)
		if err != nil {
			return fmt.Errorf("failed to connect event bus (%s): %w", cfg.PubSub.Driver, err)
		}
		defer bus.Close()
		logger.Info().Str(pkglog.FieldDriver, cfg.PubSub.Driver).Msg("event bus connected")
	}

	factory, err := feed.NewFactory(cfg.Feed, bus)
	if err != nil {
		return fmt.Errorf("failed to create feed factory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Room registry
	opts := hub.Options{Enricher: enricher}
	var locator handler.RoomLocator
	if cfg.Registry.Enabled {
		reg, err := registry.NewRedisRegistry(cfg.Redis, cfg.Registry.AdvertiseAddress)
		if err != nil {
			logger.Warn().Err(err).Msg("room registry disabled")
		} else {
			defer reg.Close()
			reg.StartHeartbeat(ctx)
			opts.Observer = reg
			locator = reg
		}
	}

	relayHub := hub.NewHub(factory, opts)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	r.Use(middleware.CORS(cfg.CORS))

	handler.NewHandler(relayHub, locator).RegisterRoutes(r)
	handler.NewWSHandler(relayHub, cfg.WebSocket).RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", addr).Str(pkglog.FieldDriver, cfg.Feed.Driver).Msg("danmu-relay starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down danmu-relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// hijacked websocket connections are not covered by Shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("server forced to shutdown")
		}
		return relayHub.Close(shutdownCtx)
	})

	return g.Wait()
}
