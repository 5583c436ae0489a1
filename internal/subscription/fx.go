package subscription

import (
	"github.com/fairwaylabs/fairway/internal/subscription/repository"
	"github.com/fairwaylabs/fairway/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
