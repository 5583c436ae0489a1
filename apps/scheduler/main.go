// The scheduler deployment: billing cycles, pause expiry and usage
// maintenance, no HTTP surface.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/audit"
	"github.com/fairwaylabs/fairway/internal/billing"
	"github.com/fairwaylabs/fairway/internal/clock"
	"github.com/fairwaylabs/fairway/internal/config"
	"github.com/fairwaylabs/fairway/internal/customer"
	"github.com/fairwaylabs/fairway/internal/invoice"
	"github.com/fairwaylabs/fairway/internal/ledger"
	"github.com/fairwaylabs/fairway/internal/migration"
	"github.com/fairwaylabs/fairway/internal/observability"
	"github.com/fairwaylabs/fairway/internal/payment"
	"github.com/fairwaylabs/fairway/internal/ratelimit"
	"github.com/fairwaylabs/fairway/internal/scheduler"
	"github.com/fairwaylabs/fairway/internal/subscription"
	"github.com/fairwaylabs/fairway/internal/tenant"
	"github.com/fairwaylabs/fairway/internal/tier"
	"github.com/fairwaylabs/fairway/internal/usage"
	"github.com/fairwaylabs/fairway/pkg/db"
	"go.uber.org/fx"
)

func options() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		audit.Module,
		tenant.Module,
		customer.Module,
		tier.Module,
		subscription.Module,
		ledger.Module,
		usage.Module,
		ratelimit.Module,
		payment.Module,
		invoice.Module,
		billing.Module,

		scheduler.Module,
	)
}

func main() {
	fx.New(options()).Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
