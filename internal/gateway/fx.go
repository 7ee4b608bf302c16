package gateway

import (
	"github.com/mokanda/livraly/internal/gateway/adapters"
	"github.com/mokanda/livraly/internal/gateway/adapters/cardstream"
	"github.com/mokanda/livraly/internal/gateway/adapters/njiamoney"
	"github.com/mokanda/livraly/internal/gateway/adapters/tambapay"
	"github.com/mokanda/livraly/internal/gateway/domain"
	"github.com/mokanda/livraly/internal/gateway/service"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(
		func() []domain.AdapterFactory {
			return []domain.AdapterFactory{
				cardstream.NewFactory(),
				njiamoney.NewFactory(),
				tambapay.NewFactory(),
			}
		},
		func(factories []domain.AdapterFactory) *adapters.Registry {
			return adapters.NewRegistry(factories...)
		},
		service.NewService,
	),
)
