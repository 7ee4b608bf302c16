// Package observability wires metrics initialization into the app.
package observability

import (
	"github.com/mokanda/livraly/internal/config"
	"github.com/mokanda/livraly/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Invoke(ensureEngineMetrics),
)

func ensureEngineMetrics(cfg config.Config) {
	metrics.EngineWithConfig(metrics.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	})
}
