package guard

import "go.uber.org/fx"

var Module = fx.Module("guard.service",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)
