package app

import (
	"context"
	"fmt"

	"cardops/internal/adapters/market"
	"cardops/internal/adapters/storefront"
	"cardops/internal/config"
	"cardops/internal/core"
	"cardops/internal/db"
	"cardops/internal/lock"

	"github.com/sirupsen/logrus"
)

// Open connects every backend named in cfg and returns the service together
// with a func that releases them.
func Open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (ApplicationService, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeStore)

	var locker core.Locker = lock.NewKeyed()
	if cfg.RedisAddr != "" {
		rdb, err := lock.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		locker = lock.NewRedis(rdb, "cardops:", 0)
		log.WithField("redis", cfg.RedisAddr).Info("using redis locks")
	}

	deps := Deps{Store: store, Locker: locker, Config: cfg, Log: log}

	if cfg.Shopify.Enabled() {
		sf, err := storefront.New(storefront.Options{
			ShopURL:     cfg.Shopify.ShopURL,
			AccessToken: cfg.Shopify.AccessToken,
			APIVersion:  cfg.Shopify.APIVersion,
			LocationID:  cfg.Shopify.LocationID,
			Timeout:     cfg.SyncTimeout,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("storefront: %w", err)
		}
		deps.Storefront = sf
	} else {
		log.Warn("shopify is not configured, storefront sync is disabled")
	}

	if cfg.Market.APIURL != "" {
		deps.Market = market.New(cfg.Market.APIURL, cfg.Market.APIKey)
	}

	return NewAppService(deps), closeAll, nil
}

func openStore(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	switch cfg.DBDriver {
	case "sqlite":
		s, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolSize(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		return db.NewPostgresStore(pool), pool.Close, nil
	}
}

// Migrate brings the configured database schema up to date. SQLite databases
// are migrated when they are opened.
func Migrate(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) error {
	if cfg.DBDriver == "sqlite" {
		s, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		log.WithField("path", cfg.SQLitePath).Info("sqlite schema is current")
		return s.Close()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolSize(cfg))
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	return db.Migrate(ctx, pool, log)
}

// poolSize leaves room beyond the batch workers for the duplicate checks and
// reads that run beside them.
func poolSize(cfg *config.Config) int32 {
	return int32(cfg.BatchWorkers) + 4
}
