package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mokanda/livraly/internal/billingconfig"
	"github.com/mokanda/livraly/internal/clock"
	"github.com/mokanda/livraly/internal/config"
	"github.com/mokanda/livraly/internal/gateway"
	"github.com/mokanda/livraly/internal/invoice"
	"github.com/mokanda/livraly/internal/ledger"
	"github.com/mokanda/livraly/internal/logger"
	"github.com/mokanda/livraly/internal/migration"
	"github.com/mokanda/livraly/internal/observability"
	"github.com/mokanda/livraly/internal/recurring"
	"github.com/mokanda/livraly/internal/royalty"
	"github.com/mokanda/livraly/internal/scheduler"
	"github.com/mokanda/livraly/internal/server"
	"github.com/mokanda/livraly/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Billing domains
		billingconfig.Module,
		ledger.Module,
		invoice.Module,
		recurring.Module,
		royalty.Module,
		gateway.Module,

		// Periodic work and the HTTP surface
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
