package ledger

import (
	"github.com/mokanda/livraly/internal/ledger/repository"
	"github.com/mokanda/livraly/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
