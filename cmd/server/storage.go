package main

import (
	"context"
	"fmt"

	gcfirestore "cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/storage/firestore"
	"github.com/mihaimyh/goaccess/storage/memory"
	"github.com/mihaimyh/goaccess/storage/postgres"
	"github.com/mihaimyh/goaccess/storage/redis"
	"github.com/mihaimyh/goaccess/storage/tiered"
)

// store assembles access.Storage from independently chosen backends
type store struct {
	access.SubscriptionStore
	access.ProfileStore
	access.WebhookLogStore
	access.AccessCodeStore
}

type pinger interface {
	Ping(ctx context.Context) error
}

// backends is the storage graph plus what must be checked and released
type backends struct {
	storage access.Storage
	pingers map[string]pinger
	closers []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openStorage builds the storage graph described by cfg
func openStorage(ctx context.Context, cfg Config, logger access.Logger) (*backends, error) {
	b := &backends{pingers: make(map[string]pinger)}

	var base access.Storage
	if cfg.DatabaseURL != "" {
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.DatabaseURL
		pgConfig.AutoMigrate = cfg.AutoMigrate
		pgConfig.CleanupInterval = cfg.CleanupInterval
		pgConfig.Logger = logger

		pg, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		b.closers = append(b.closers, pg.Close)
		b.pingers["postgres"] = pg
		base = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		base = memory.New()
	}

	s := &store{
		SubscriptionStore: base,
		ProfileStore:      base,
		WebhookLogStore:   base,
		AccessCodeStore:   base,
	}

	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := goredis.NewClient(opts)
		b.closers = append(b.closers, func() { _ = client.Close() })

		hot, err := redis.New(client, redis.DefaultConfig())
		if err != nil {
			b.Close()
			return nil, err
		}
		codes, err := tiered.New(tiered.Config{
			Hot:            hot,
			Cold:           base,
			AsyncHotWrites: true,
			AsyncErrorHandler: func(err error) {
				logger.Warn("access code cache write failed", access.Field{Key: "error", Value: err})
			},
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = codes.Close() })
		b.pingers["redis"] = hot
		s.AccessCodeStore = codes
	}

	if cfg.FirestoreProjectID != "" {
		client, err := gcfirestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open firestore: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })

		logs, err := firestore.New(client, firestore.Config{})
		if err != nil {
			b.Close()
			return nil, err
		}
		s.WebhookLogStore = logs
	}

	b.storage = s
	return b, nil
}
