package billingconfig

import (
	"github.com/mokanda/livraly/internal/billingconfig/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingconfig",
	fx.Provide(service.NewService),
)
