// Package seed bootstraps the default tier catalog so a fresh install
// can sell something immediately.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// defaultTiers is the out-of-the-box catalog. Operators reshape it
// through the tier API afterwards; seeding never overwrites an existing
// code.
func defaultTiers() []tierdomain.Tier {
	return []tierdomain.Tier{
		{
			Code:              "CONSUMER_FREE",
			Family:            tierdomain.FamilyConsumer,
			Name:              "Consumer Free",
			MonthlyPriceCents: 0,
			AnnualPriceCents:  0,
			IncludedAPICalls:  1000,
		},
		{
			Code:              "CONSUMER_PREMIUM",
			Family:            tierdomain.FamilyConsumer,
			Name:              "Consumer Premium",
			MonthlyPriceCents: 999,
			AnnualPriceCents:  9990,
			IncludedAPICalls:  10000,
		},
		{
			Code:              "COURSE_STANDARD",
			Family:            tierdomain.FamilyCourse,
			Name:              "Course Standard",
			MonthlyPriceCents: 19900,
			AnnualPriceCents:  199000,
			SetupFeeCents:     49900,
			IncludedAPICalls:  100000,
			IncludedStorageGB: 50,
			IncludedBandwidth: 100,
			OverageRates: datatypes.JSONMap{
				string(tierdomain.QuotaAPICalls):    1,
				string(tierdomain.QuotaBandwidthGB): 10,
			},
		},
		{
			Code:              "CHAIN_ENTERPRISE",
			Family:            tierdomain.FamilyChain,
			Name:              "Chain Enterprise",
			MonthlyPriceCents: 99900,
			AnnualPriceCents:  999000,
			SetupFeeCents:     199900,
			IncludedAPICalls:  1000000,
			IncludedStorageGB: 500,
			IncludedBandwidth: 1000,
			OverageRates: datatypes.JSONMap{
				string(tierdomain.QuotaAPICalls):    1,
				string(tierdomain.QuotaBandwidthGB): 8,
			},
		},
		{
			Code:              "ANALYTICS_PRO",
			Family:            tierdomain.FamilyAnalytics,
			Name:              "Analytics Pro",
			MonthlyPriceCents: 49900,
			AnnualPriceCents:  499000,
			IncludedAPICalls:  250000,
			OverageRates: datatypes.JSONMap{
				string(tierdomain.QuotaAPICalls): 2,
			},
		},
		{
			Code:              "WHITE_LABEL_PLATFORM",
			Family:            tierdomain.FamilyWhiteLabel,
			Name:              "White Label Platform",
			MonthlyPriceCents: 149900,
			AnnualPriceCents:  1499000,
			SetupFeeCents:     499900,
			IncludedAPICalls:  2000000,
			IncludedStorageGB: 1000,
			IncludedBandwidth: 2000,
			OverageRates: datatypes.JSONMap{
				string(tierdomain.QuotaAPICalls):    1,
				string(tierdomain.QuotaBandwidthGB): 5,
			},
		},
	}
}

// EnsureDefaultTiers inserts any catalog tier that does not exist yet.
func EnsureDefaultTiers(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, tier := range defaultTiers() {
			var count int64
			if err := tx.Model(&tierdomain.Tier{}).
				Where("code = ?", tier.Code).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			tier.ID = node.Generate()
			tier.Currency = "USD"
			tier.Active = true
			if tier.OverageRates == nil {
				tier.OverageRates = datatypes.JSONMap{}
			}
			if err := tx.Create(&tier).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
