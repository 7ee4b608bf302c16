package recurring

import (
	"github.com/mokanda/livraly/internal/recurring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("recurring",
	fx.Provide(service.NewService),
)
