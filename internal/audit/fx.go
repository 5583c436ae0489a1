package audit

import (
	"github.com/fairwaylabs/fairway/internal/audit/repository"
	"github.com/fairwaylabs/fairway/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
