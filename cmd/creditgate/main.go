package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/launchblocks/creditgate/internal/clock"
	"github.com/launchblocks/creditgate/internal/config"
	"github.com/launchblocks/creditgate/internal/migration"
	"github.com/launchblocks/creditgate/internal/observability"
	"github.com/launchblocks/creditgate/internal/server"
	"github.com/launchblocks/creditgate/pkg/db"
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
