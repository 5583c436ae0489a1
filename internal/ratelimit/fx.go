package ratelimit

import (
	"github.com/fairwaylabs/fairway/internal/clock"
	"github.com/fairwaylabs/fairway/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
}

// NewLimiter wires the redis token bucket when configured and falls back
// to the in-memory sliding window otherwise.
func NewLimiter(p Params) Limiter {
	if p.Cfg.RateLimit.RedisEnabled {
		client := redis.NewClient(&redis.Options{
			Addr:     p.Cfg.RateLimit.RedisAddr,
			Password: p.Cfg.RateLimit.RedisPassword,
			DB:       p.Cfg.RateLimit.RedisDB,
		})
		p.Log.Named("ratelimit").Info("using redis token bucket",
			zap.String("addr", p.Cfg.RateLimit.RedisAddr))
		return NewTokenBucket(client)
	}
	return NewSlidingWindow(p.Clock)
}

var Module = fx.Module("rate.limit",
	fx.Provide(NewLimiter),
)
