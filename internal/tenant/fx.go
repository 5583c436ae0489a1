package tenant

import (
	"github.com/fairwaylabs/fairway/internal/tenant/repository"
	"github.com/fairwaylabs/fairway/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
