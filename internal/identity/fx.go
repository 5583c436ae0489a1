package identity

import "go.uber.org/fx"

func provideResolver() Resolver {
	return NewStaticResolver()
}

var Module = fx.Module("identity.resolver",
	fx.Provide(provideResolver),
)
