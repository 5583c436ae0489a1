package migration

import (
	auditdomain "github.com/fairwaylabs/fairway/internal/audit/domain"
	"github.com/fairwaylabs/fairway/internal/config"
	customerdomain "github.com/fairwaylabs/fairway/internal/customer/domain"
	invoicedomain "github.com/fairwaylabs/fairway/internal/invoice/domain"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	"github.com/fairwaylabs/fairway/internal/seed"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	tenantdomain "github.com/fairwaylabs/fairway/internal/tenant/domain"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	usagedomain "github.com/fairwaylabs/fairway/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite and friends: let gorm derive the schema.
			if err := conn.AutoMigrate(
				&tenantdomain.Tenant{},
				&tenantdomain.TenantOperator{},
				&auditdomain.AuditLog{},
				&customerdomain.Customer{},
				&tierdomain.Tier{},
				&subscriptiondomain.Subscription{},
				&ledgerdomain.RevenueEvent{},
				&usagedomain.Rollup{},
				&invoicedomain.Invoice{},
				&invoicedomain.InvoiceLine{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureDefaultTiers(conn)
	}),
)
