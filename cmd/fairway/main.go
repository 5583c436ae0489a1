// The fairway monolith: admin API, metering ingest and the billing
// scheduler in one process. Deployments that want the scheduler isolated
// run apps/api and apps/scheduler instead.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/clock"
	"github.com/fairwaylabs/fairway/internal/config"
	"github.com/fairwaylabs/fairway/internal/migration"
	"github.com/fairwaylabs/fairway/internal/observability"
	"github.com/fairwaylabs/fairway/internal/scheduler"
	"github.com/fairwaylabs/fairway/internal/server"
	"github.com/fairwaylabs/fairway/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
		scheduler.Module,
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
