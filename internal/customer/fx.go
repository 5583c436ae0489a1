package customer

import (
	"github.com/fairwaylabs/fairway/internal/customer/repository"
	"github.com/fairwaylabs/fairway/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
