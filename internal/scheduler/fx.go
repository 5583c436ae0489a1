package scheduler

import (
	"context"
	"time"

	"github.com/fairwaylabs/fairway/internal/config"
	"go.uber.org/fx"
)

func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	if cfg.Billing.IntervalSecond > 0 {
		out.RunInterval = time.Duration(cfg.Billing.IntervalSecond) * time.Second
	}
	if cfg.Usage.FlushIntervalSeconds > 0 {
		// The loop has to tick at least as often as the meter wants
		// flushing.
		flush := time.Duration(cfg.Usage.FlushIntervalSeconds) * time.Second
		if flush < out.RunInterval {
			out.RunInterval = flush
		}
	}
	if cfg.Billing.BatchSize > 0 {
		out.BatchSize = cfg.Billing.BatchSize
	}
	return out
}

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Run),
)

func Run(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
