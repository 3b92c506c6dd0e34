package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finledger/internal/clock"
	"github.com/smallbiznis/finledger/internal/config"
	"github.com/smallbiznis/finledger/internal/migration"
	"github.com/smallbiznis/finledger/internal/observability"
	"github.com/smallbiznis/finledger/internal/scheduler"
	"github.com/smallbiznis/finledger/internal/server"
	"github.com/smallbiznis/finledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface, import pipeline and daily trigger
		server.Module,

		scheduler.Module,
		fx.Invoke(scheduler.Start),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
