// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/gridward/gridward/internal/config"
	"github.com/gridward/gridward/internal/directory"
	"github.com/gridward/gridward/internal/observability"
	"github.com/gridward/gridward/internal/perm/audit"
	"github.com/gridward/gridward/internal/perm/autogrant"
	"github.com/gridward/gridward/internal/perm/cache"
	"github.com/gridward/gridward/internal/perm/engine"
	"github.com/gridward/gridward/internal/perm/hierarchy"
	permstore "github.com/gridward/gridward/internal/perm/store"
	"github.com/gridward/gridward/internal/store"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the permission service",
		Long: `Run the permission service: applies pending migrations, replays any
audit write-ahead log, subscribes to grant-change notifications, and
serves health and metrics endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("database.url", "", "PostgreSQL connection string")
	cmd.Flags().String("observability.metrics_addr", "", "metrics/health HTTP address (empty = disabled)")

	return cmd
}

// server holds the wired components for the lifetime of a serve run. The
// engine and autogrant service are the embedding surface for transports.
type server struct {
	cfg       *config.Config
	cancel    context.CancelFunc
	pool      *pgxpool.Pool
	engine    *engine.Engine
	autogrant *autogrant.Service
	cache     *cache.Cache
	audit     *audit.Logger
	obs       *observability.Server
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv, err := buildServer(ctx, cfg)
	if err != nil {
		return err
	}
	srv.cancel = cancel
	defer srv.shutdown()

	obsErrCh, err := srv.startObservability()
	if err != nil {
		return err
	}

	slog.Info("gridward ready")

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err, ok := <-obsErrCh:
		if ok && err != nil {
			return oops.Wrapf(err, "observability server failed")
		}
	}
	return nil
}

func buildServer(ctx context.Context, cfg *config.Config) (*server, error) {
	pool, err := connectPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := applyMigrations(cfg.Database.URL); err != nil {
		pool.Close()
		return nil, err
	}

	// Validate() already ran these; errors here are impossible.
	kinds, _ := cfg.HierarchyConfig()
	defaults, _ := cfg.DefaultRules()
	mode, _ := cfg.AuditMode()

	dir := directory.NewPostgres(pool, kinds)
	grants := permstore.NewPostgres(pool, dir)
	resolver := hierarchy.NewResolver(kinds, dir)

	srv := &server{cfg: cfg, pool: pool}
	opts := []engine.Option{engine.WithDefaults(defaults)}

	if cfg.Cache.Enabled {
		cacheCfg, _ := cfg.CacheConfig()
		srv.cache = cache.New(kinds, cacheCfg)
		listener := cache.NewPGListener(cfg.Database.URL)
		if err := srv.cache.StartWithListener(ctx, listener); err != nil {
			pool.Close()
			return nil, oops.Wrapf(err, "starting cache invalidation listener")
		}
		opts = append(opts, engine.WithCache(srv.cache))
	}

	srv.audit = audit.NewLogger(mode, audit.NewPostgresWriter(pool), cfg.Audit.WALPath)
	if err := srv.audit.ReplayWAL(ctx); err != nil {
		// Entries stay in the WAL for the next replay attempt.
		slog.Warn("audit WAL replay failed", "error", err)
	}
	opts = append(opts, engine.WithAudit(srv.audit))

	srv.engine = engine.NewEngine(grants, resolver, opts...)

	agOpts := []autogrant.Option{}
	if srv.cache != nil {
		agOpts = append(agOpts, autogrant.WithCache(srv.cache))
	}
	srv.autogrant = autogrant.NewService(srv.engine, grants, kinds, agOpts...)

	return srv, nil
}

// connectPool dials PostgreSQL with capped exponential backoff bounded by
// the configured connect timeout.
func connectPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	timeout, _ := cfg.ConnectTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var pool *pgxpool.Pool
	backoff := retry.WithCappedDuration(5*time.Second, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(connectCtx, backoff, func(ctx context.Context) error {
		p, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return retry.RetryableError(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			slog.Warn("database not reachable yet, retrying", "error", err)
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrapf(err, "connecting to database")
	}
	slog.Info("connected to database")
	return pool, nil
}

func applyMigrations(databaseURL string) error {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("closing migrator", "error", closeErr)
		}
	}()

	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		slog.Info("applying pending migrations", "count", len(pending))
	}
	return m.Up()
}

func (s *server) startObservability() (<-chan error, error) {
	addr := s.cfg.Observability.MetricsAddr
	if addr == "" {
		// Disabled; return a channel that never fires.
		return make(chan error), nil
	}
	s.obs = observability.NewServer(addr, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.pool.Ping(ctx) == nil
	})
	return s.obs.Start()
}

func (s *server) shutdown() {
	// Stops the invalidation listener so Wait below can return.
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.obs != nil {
		if err := s.obs.Stop(ctx); err != nil {
			slog.Warn("stopping observability server", "error", err)
		}
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			slog.Warn("closing audit logger", "error", err)
		}
	}
	if s.cache != nil {
		s.cache.Wait()
	}
	s.pool.Close()
	slog.Info("shutdown complete")
}
