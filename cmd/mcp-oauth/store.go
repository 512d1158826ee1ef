package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wrale/mcp-oauth/internal/tokenstore"
)

const redisPingTimeout = 5 * time.Second

// newStore builds the configured token store. The returned close func
// releases backend connections.
func newStore(ctx context.Context, cfg Config, logger *zap.Logger) (tokenstore.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage {
	case storageMemory:
		return tokenstore.NewMemoryStore(), noop, nil

	case storageRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()

		var ropts []tokenstore.RedisOption
		if !cfg.DisableEncryption {
			c, err := tokenstore.NewMachineCipher()
			if err != nil {
				_ = client.Close()
				return nil, nil, err
			}
			ropts = append(ropts, tokenstore.WithRedisCipher(c))
		}
		store := tokenstore.NewRedisStore(client, ropts...)
		if err := store.CheckHealth(pingCtx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil

	default:
		opts := []tokenstore.FileOption{tokenstore.WithFileLogger(logger.Named("tokenstore"))}
		if cfg.TokenDir != "" {
			opts = append(opts, tokenstore.WithDirectory(cfg.TokenDir))
		}
		if cfg.DisableEncryption {
			logger.Warn("token encryption disabled; tokens are stored as plain JSON")
			opts = append(opts, tokenstore.WithoutEncryption())
		}
		store, err := tokenstore.NewFileStore(opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	}
}
