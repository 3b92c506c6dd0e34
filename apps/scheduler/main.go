package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finledger/internal/clock"
	"github.com/smallbiznis/finledger/internal/config"
	"github.com/smallbiznis/finledger/internal/csvimport"
	"github.com/smallbiznis/finledger/internal/dailyimport"
	"github.com/smallbiznis/finledger/internal/observability"
	"github.com/smallbiznis/finledger/internal/ratelimit"
	"github.com/smallbiznis/finledger/internal/scheduler"
	"github.com/smallbiznis/finledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Services the jobs call into
		ratelimit.Module,
		csvimport.Module,
		dailyimport.Module,

		// No server module!
		scheduler.Module,
		fx.Invoke(scheduler.Start),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	// Offset from the API node so run ids never collide across processes.
	return snowflake.NewNode((cfg.SnowflakeNode + 1) % 1024)
}
