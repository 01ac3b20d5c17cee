package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/signalacademy/billing/internal/billing"
	"github.com/signalacademy/billing/internal/clock"
	"github.com/signalacademy/billing/internal/config"
	"github.com/signalacademy/billing/internal/logger"
	"github.com/signalacademy/billing/internal/migration"
	"github.com/signalacademy/billing/internal/notification"
	obsmetrics "github.com/signalacademy/billing/internal/observability/metrics"
	"github.com/signalacademy/billing/internal/server"
	"github.com/signalacademy/billing/internal/webhook"
	"github.com/signalacademy/billing/internal/worker"
	"github.com/signalacademy/billing/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		obsmetrics.Module,
		worker.Module,
		migration.Module,

		// Functional domains
		notification.Module,
		billing.Module,
		webhook.Module,
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
