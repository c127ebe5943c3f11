package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-booking-engine/internal/config"
	httpmiddleware "github.com/wolfman30/clinic-booking-engine/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildRateLimiter returns the API rate limiter: Redis-backed when a client
// is available, in-memory otherwise, nil when disabled.
func BuildRateLimiter(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) httpmiddleware.Limiter {
	if cfg == nil || !cfg.RateLimitEnabled || cfg.RateLimitPerMin <= 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if redisClient != nil {
		logger.Info("rate limiting via redis", "per_minute", cfg.RateLimitPerMin)
		return httpmiddleware.NewRedisLimiter(redisClient, cfg.RateLimitPerMin, time.Minute)
	}
	logger.Info("rate limiting in memory", "per_minute", cfg.RateLimitPerMin, "burst", cfg.RateLimitBurst)
	return httpmiddleware.NewMemoryLimiter(ctx, float64(cfg.RateLimitPerMin)/60, cfg.RateLimitBurst)
}
