// Package quicktill wires the till core together for in-process
// consumers: the connection pool, the cache, and the four services over
// the stock and transaction ledgers. Callers construct a Runtime once
// and hand its services to the UI and admin layers.
package quicktill

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Lambdah/quicktill/internal/platform/cache"
	"github.com/Lambdah/quicktill/internal/platform/db"
	"github.com/Lambdah/quicktill/internal/shared"
	"github.com/Lambdah/quicktill/refdata"
	"github.com/Lambdah/quicktill/schema"
	"github.com/Lambdah/quicktill/session"
	"github.com/Lambdah/quicktill/stock"
	"github.com/Lambdah/quicktill/till"
)

// Runtime is the assembled till core.
type Runtime struct {
	Config *Config
	Logger *slog.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client

	Refdata  *refdata.Repository
	Stock    *stock.Service
	Till     *till.Service
	Sessions *session.Service
}

// New connects to the stores, applies the schema and wires the
// services.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("quicktill: connect postgres: %w", err)
	}
	if err := schema.Ensure(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("quicktill: apply schema: %w", err)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("quicktill: connect redis: %w", err)
	}

	audit := shared.NewAuditLogger(pool)
	idem := shared.NewIdempotencyStore(pool)
	ref := refdata.NewRepository(pool)

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Pool:     pool,
		Redis:    redisClient,
		Refdata:  ref,
		Stock:    stock.NewService(stock.NewRepository(pool), audit, idem, logger),
		Till:     till.NewService(till.NewRepository(pool), ref, audit, idem, logger),
		Sessions: session.NewService(session.NewRepository(pool), session.NewCache(redisClient, cfg.SessionCacheTTL), audit, logger),
	}, nil
}

// Close releases the runtime's connections.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
	if r.Redis != nil {
		return r.Redis.Close()
	}
	return nil
}
