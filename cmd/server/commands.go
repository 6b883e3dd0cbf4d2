package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/mocktrade/trading-engine/internal/auth"
	"github.com/mocktrade/trading-engine/internal/catalog"
	"github.com/mocktrade/trading-engine/internal/config"
	"github.com/mocktrade/trading-engine/internal/database"
	"github.com/mocktrade/trading-engine/internal/logging"
	"github.com/mocktrade/trading-engine/internal/pricing"
	"github.com/mocktrade/trading-engine/internal/store"
	"github.com/mocktrade/trading-engine/internal/trade"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Action: func(c *cli.Context) error {
			cfg, closeLog, err := setup(c)
			if err != nil {
				return err
			}
			defer closeLog()
			return serve(c.Context, cfg)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create the database schema",
		Action: func(c *cli.Context) error {
			cfg, closeLog, err := setup(c)
			if err != nil {
				return err
			}
			defer closeLog()
			if !cfg.Database.Enabled() {
				return errors.New("migrate: no database configured (set DATABASE_URL or database.host)")
			}

			pool, err := database.Open(c.Context, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.Migrate(c.Context, pool); err != nil {
				return err
			}
			slog.Info("schema up to date")
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "create the default accounts and asset catalog if the store is empty",
		Action: func(c *cli.Context) error {
			cfg, closeLog, err := setup(c)
			if err != nil {
				return err
			}
			defer closeLog()

			st, cleanup, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			_, err = catalog.Seed(c.Context, st, auth.Hasher{Cost: cfg.Auth.BcryptCost})
			return err
		},
	}
}

// setup loads configuration and installs the default logger.
func setup(c *cli.Context) (*config.Config, func(), error) {
	cfg, err := config.LoadAndValidate(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	_, closeLog := logging.Setup(cfg.Log)
	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		slog.Warn("JWT_SECRET not set, using the built-in development secret")
	}
	return cfg, func() { closeLog() }, nil
}

// openStore returns the configured store. With a database configured the
// schema is migrated and Postgres is used, optionally behind the Redis cache;
// otherwise data lives in memory.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if !cfg.Database.Enabled() {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	if err := database.Migrate(ctx, pool); err != nil {
		closeAll()
		return nil, nil, err
	}

	var st store.Store = store.NewPostgresStore(pool)
	slog.Info("connected to PostgreSQL")

	// Wrap with Redis read-through cache if configured.
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL)
	}

	return st, closeAll, nil
}

func newFeed(cfg config.PricingConfig) pricing.Feed {
	if cfg.Feed == config.FeedStatic {
		return pricing.NewStaticFeed()
	}
	return pricing.NewJitterFeed(nil)
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()
	defer wsHub.Close()

	hasher := auth.Hasher{Cost: cfg.Auth.BcryptCost}
	app := newApp(st, newFeed(cfg.Pricing), auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), hasher, wsHub)

	// Seed in the background; /ready reports 503 until it finishes.
	if cfg.Seed.Disabled {
		app.ready.Store(true)
	} else {
		go func() {
			if _, err := catalog.Seed(ctx, st, hasher); err != nil {
				slog.Error("seeding failed", "err", err)
				return
			}
			app.ready.Store(true)
		}()
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      app.routes(cfg.Server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("trading-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown.
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("trading-engine stopped")
	return nil
}
