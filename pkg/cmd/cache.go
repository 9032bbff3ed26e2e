package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weftworks/weft/pkg/cache"
)

// NewCache returns the Redis store when a URL is configured, otherwise the
// in-process one.
func NewCache(ctx context.Context, logger *slog.Logger, redisURL string) cache.Store {
	if redisURL == "" {
		logger.WarnContext(ctx, "no redis url configured, using in-memory cache")

		return cache.NewMemoryStore()
	}

	store, err := cache.NewRedisStore(ctx, redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to initialize redis cache: %w", err))
	}

	return store
}
