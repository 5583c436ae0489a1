// The HTTP-only deployment: admin API and metering ingest without the
// billing scheduler.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/clock"
	"github.com/fairwaylabs/fairway/internal/config"
	"github.com/fairwaylabs/fairway/internal/migration"
	"github.com/fairwaylabs/fairway/internal/observability"
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
