package payment

import "go.uber.org/fx"

func provideRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(NewFakeAdapter())
	return registry
}

var Module = fx.Module("payment.adapter",
	fx.Provide(provideRegistry),
)
