package royalty

import (
	"github.com/mokanda/livraly/internal/royalty/service"
	"go.uber.org/fx"
)

var Module = fx.Module("royalty",
	fx.Provide(service.NewService),
)
