// Package backend opens the booking store selected by STORE_BACKEND.
package backend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/db"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
)

// Store is everything the commands need from one backend.
type Store interface {
	booking.Directory
	booking.DirectoryWriter
	booking.Store
	booking.Searcher
	booking.SlotStateLister
}

type Backend struct {
	Name  string
	Store Store
	// Ping is nil for the in-process memory store.
	Ping    func(ctx context.Context) error
	closers []func()
}

// Shared reports whether other processes see the same data.
func (b *Backend) Shared() bool {
	return b.Name != config.BackendMemory
}

func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, log)
	case config.BackendRedis:
		return openRedis(ctx, cfg, log)
	case config.BackendMemory:
		log.Warn("using in-memory store; data is lost on exit")
		return &Backend{
			Name:  config.BackendMemory,
			Store: booking.NewMemoryRepository(cfg.LockTimeout.Std()),
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openPostgres(ctx context.Context, cfg config.Config, log *zap.Logger) (*Backend, error) {
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		return nil, err
	}
	log.Info("connected to Postgres", zap.Int32("max_conns", pool.Config().MaxConns))

	if cfg.MigrateOnStart {
		if err := db.Migrate(pgCtx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
	}

	retry := booking.RetryPolicy{
		Attempts:  3,
		BaseDelay: 20 * time.Millisecond,
		MaxDelay:  200 * time.Millisecond,
		Log:       log,
	}
	return &Backend{
		Name:    config.BackendPostgres,
		Store:   booking.NewPgRepository(pool, cfg.LockTimeout.Std(), retry, log),
		Ping:    pool.Ping,
		closers: []func(){pool.Close},
	}, nil
}

func openRedis(ctx context.Context, cfg config.Config, log *zap.Logger) (*Backend, error) {
	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return nil, err
	}
	log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	retry := booking.RetryPolicy{
		Attempts:  cfg.RedisTxRetries,
		BaseDelay: 2 * time.Millisecond,
		MaxDelay:  50 * time.Millisecond,
		Log:       log,
	}
	return &Backend{
		Name:  config.BackendRedis,
		Store: redisclient.NewStore(rdb, retry, log),
		Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
		closers: []func(){func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}},
	}, nil
}
