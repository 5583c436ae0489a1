package tier

import (
	"github.com/fairwaylabs/fairway/internal/tier/repository"
	"github.com/fairwaylabs/fairway/internal/tier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tier.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
