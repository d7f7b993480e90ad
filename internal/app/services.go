package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/cashflow/internal/cashflow/concepts"
	"github.com/odyssey-erp/cashflow/internal/cashflow/dedup"
	"github.com/odyssey-erp/cashflow/internal/cashflow/fx"
	"github.com/odyssey-erp/cashflow/internal/cashflow/notify"
	"github.com/odyssey-erp/cashflow/internal/cashflow/postgres"
	"github.com/odyssey-erp/cashflow/internal/cashflow/recalc"
	"github.com/odyssey-erp/cashflow/internal/cashflow/statement"
	"github.com/odyssey-erp/cashflow/internal/platform/cache"
	"github.com/odyssey-erp/cashflow/internal/platform/db"
)

// Services is the cash-flow engine wired over Postgres and Redis.
type Services struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Store      *postgres.Store
	Catalog    *concepts.Catalog
	Rates      *fx.CachedProvider
	Resolver   *fx.Resolver
	Publisher  *notify.RedisPublisher
	Scheduler  *recalc.Scheduler
	Statements *statement.Builder
}

// NewServices connects to the backing stores and builds the engine. Recalc metrics
// register against registerer; nil uses the default registerer.
func NewServices(ctx context.Context, cfg *Config, logger *slog.Logger, registerer prometheus.Registerer) (*Services, error) {
	catalog, err := concepts.Load(cfg.ConceptsFile)
	if err != nil {
		return nil, err
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConn})
	if err != nil {
		return nil, err
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}

	store := postgres.New(pool)
	repo := dedup.Wrap(store)
	rates := fx.NewCachedProvider(store, client, cfg.RateCacheTTL, cfg.RateLookbackDays)
	resolver := fx.NewResolver(rates, cfg.RateLookbackDays)
	publisher := notify.NewRedisPublisher(client, cfg.RecalcChannel)
	accounts := store.Accounts()

	// Recompute passes read the store directly; only statement reads share flights.
	scheduler := recalc.New(store, accounts, store.TaxConfigs(), publisher, catalog, recalc.Options{
		ForwardDays:    cfg.RecalcForwardDays,
		CoalesceWindow: cfg.RecalcCoalesceWindow,
		Locker:         cache.NewLocker(client, cfg.RecalcLockTTL),
		Logger:         logger,
		Metrics:        recalc.NewMetrics(registerer),
	})

	return &Services{
		Pool:       pool,
		Redis:      client,
		Store:      store,
		Catalog:    catalog,
		Rates:      rates,
		Resolver:   resolver,
		Publisher:  publisher,
		Scheduler:  scheduler,
		Statements: statement.NewBuilder(repo, accounts, catalog, resolver),
	}, nil
}

// Ready pings Postgres and Redis.
func (s *Services) Ready(ctx context.Context) error {
	if err := s.Store.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return cache.Ping(ctx, s.Redis)
}

// Close releases connections.
func (s *Services) Close(logger *slog.Logger) {
	if err := s.Redis.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
	s.Pool.Close()
}
