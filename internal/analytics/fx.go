package analytics

import (
	"github.com/fairwaylabs/fairway/internal/analytics/repository"
	"github.com/fairwaylabs/fairway/internal/analytics/service"
	"go.uber.org/fx"
)

var Module = fx.Module("analytics.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
