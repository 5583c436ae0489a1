package invoice

import (
	"github.com/fairwaylabs/fairway/internal/invoice/repository"
	"github.com/fairwaylabs/fairway/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
