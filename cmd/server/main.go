package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ufohubx/keyserver/internal/config"
	"github.com/ufohubx/keyserver/internal/database"
	"github.com/ufohubx/keyserver/internal/handler"
	"github.com/ufohubx/keyserver/internal/keycodec"
	"github.com/ufohubx/keyserver/internal/logger"
	"github.com/ufohubx/keyserver/internal/middleware"
	"github.com/ufohubx/keyserver/internal/registry"
	"github.com/ufohubx/keyserver/internal/router"
	"github.com/ufohubx/keyserver/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", "0.1.0").Msg("starting UFO HUB X key server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional PostgreSQL connection (postgres store backend)
	var db *database.Postgres
	if cfg.Store.Backend == "postgres" {
		db, err = database.NewPostgres(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("connected to PostgreSQL")
	}

	// Optional Redis connection (rate limiting)
	var rdb *database.Redis
	if cfg.Redis.Enabled {
		rdb, err = database.NewRedis(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("connected to Redis")
	}

	opts := registry.Options{
		DefaultTTL: cfg.Keys.DefaultTTL,
		ExtendStep: cfg.Keys.ExtendStep,
		ExtendMax:  cfg.Keys.ExtendMax,
		MaxUses:    cfg.Keys.MaxUses,
		AllowKeys:  cfg.Keys.AllowKeys,
	}

	// Initialize the key registry
	var reg *registry.Registry
	if cfg.Keys.Codec == "stateless" {
		reg = registry.NewStateless(keycodec.NewStateless(cfg.Keys.HMACSecret, "ufo-hub-x"), opts, log)
		log.Info().Msg("key registry initialized (stateless codec)")
	} else {
		st, err := newStore(cfg, db)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open key store")
		}
		reg, err = registry.New(ctx, st, opts, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize key registry")
		}
		log.Info().Str("backend", cfg.Store.Backend).Msg("key registry initialized")

		// Background sweep of expired records
		go reg.RunSweeper(ctx, cfg.Keys.SweepInterval)
	}

	// Initialize handlers and middleware
	h := handler.New(log, cfg, reg, db, rdb)
	mw := middleware.New(rdb, log, cfg)

	// Set up router
	r := router.New(h, mw, log, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func newStore(cfg *config.Config, db *database.Postgres) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "file":
		return store.NewFile(cfg.Store.FilePath)
	case "postgres":
		return store.NewPostgres(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
