package usage

import (
	"github.com/fairwaylabs/fairway/internal/usage/repository"
	"github.com/fairwaylabs/fairway/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
