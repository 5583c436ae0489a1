package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TierFamily groups tiers that compete for the same subscription slot. A
// customer holds at most one active subscription per family.
type TierFamily string

const (
	FamilyConsumer   TierFamily = "CONSUMER"
	FamilyCourse     TierFamily = "COURSE"
	FamilyChain      TierFamily = "CHAIN"
	FamilyAnalytics  TierFamily = "ANALYTICS"
	FamilyWhiteLabel TierFamily = "WHITE_LABEL"
)

// QuotaType names a metered resource covered by a tier's included
// allowance.
type QuotaType string

const (
	QuotaAPICalls    QuotaType = "api_calls"
	QuotaStorageGB   QuotaType = "storage_gb"
	QuotaBandwidthGB QuotaType = "bandwidth_gb"
)

// Tier is one sellable plan. Prices are minor units (cents); changing a
// tier never touches existing subscriptions, which carry their own price
// snapshot.
type Tier struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	Code              string            `gorm:"uniqueIndex;not null" json:"code"`
	Family            TierFamily        `gorm:"not null;index" json:"family"`
	Name              string            `gorm:"not null" json:"name"`
	Currency          string            `gorm:"not null;default:USD" json:"currency"`
	MonthlyPriceCents int64             `gorm:"not null" json:"monthly_price_cents"`
	AnnualPriceCents  int64             `gorm:"not null" json:"annual_price_cents"`
	SetupFeeCents     int64             `gorm:"not null;default:0" json:"setup_fee_cents"`
	IncludedAPICalls  int64             `gorm:"not null;default:0" json:"included_api_calls"`
	IncludedStorageGB int64             `gorm:"not null;default:0" json:"included_storage_gb"`
	IncludedBandwidth int64             `gorm:"column:included_bandwidth_gb;not null;default:0" json:"included_bandwidth_gb"`
	OverageRates      datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"overage_rates,omitempty"`
	Active            bool              `gorm:"not null;default:true" json:"active"`
	CreatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Tier) TableName() string {
	return "tiers"
}

// IncludedFor returns the included allowance for a quota type.
func (t Tier) IncludedFor(quota QuotaType) int64 {
	switch quota {
	case QuotaAPICalls:
		return t.IncludedAPICalls
	case QuotaStorageGB:
		return t.IncludedStorageGB
	case QuotaBandwidthGB:
		return t.IncludedBandwidth
	default:
		return 0
	}
}

// OverageRateFor returns the per-unit overage rate in cents for a quota
// type, or 0 when the tier has no overage pricing for it.
func (t Tier) OverageRateFor(quota QuotaType) int64 {
	raw, ok := t.OverageRates[string(quota)]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
