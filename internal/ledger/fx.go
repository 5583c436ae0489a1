package ledger

import (
	"github.com/fairwaylabs/fairway/internal/ledger/repository"
	"github.com/fairwaylabs/fairway/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
