package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusCanceled Status = "CANCELED"
)

type BillingCycle string

const (
	CycleMonthly BillingCycle = "MONTHLY"
	CycleAnnual  BillingCycle = "ANNUAL"
)

// PeriodLength advances a period start by one billing cycle.
func (c BillingCycle) PeriodLength(start time.Time) time.Time {
	if c == CycleAnnual {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// Subscription binds a customer to a tier with a price frozen at signup.
// Catalog changes never reach an existing subscription; the snapshot is
// replaced only by an explicit tier change.
type Subscription struct {
	ID                 snowflake.ID          `gorm:"primaryKey" json:"id"`
	TenantID           snowflake.ID          `gorm:"not null;index" json:"tenant_id"`
	CustomerID         snowflake.ID          `gorm:"not null;index" json:"customer_id"`
	TierID             snowflake.ID          `gorm:"not null;index" json:"tier_id"`
	TierFamily         tierdomain.TierFamily `gorm:"type:text;not null" json:"tier_family"`
	BillingCycle       BillingCycle          `gorm:"type:text;not null" json:"billing_cycle"`
	PriceCents         int64                 `gorm:"not null" json:"price_cents"`
	Currency           string                `gorm:"type:text;not null" json:"currency"`
	SetupFeeCents      int64                 `gorm:"not null;default:0" json:"setup_fee_cents"`
	Status             Status                `gorm:"type:text;not null;index" json:"status"`
	TrialEndsAt        *time.Time            `json:"trial_ends_at,omitempty"`
	PausedAt           *time.Time            `json:"paused_at,omitempty"`
	PauseEndsAt        *time.Time            `gorm:"index" json:"pause_ends_at,omitempty"`
	ResumedAt          *time.Time            `json:"resumed_at,omitempty"`
	CanceledAt         *time.Time            `json:"canceled_at,omitempty"`
	CancelReason       string                `json:"cancel_reason,omitempty"`
	CurrentPeriodStart time.Time             `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time             `gorm:"not null" json:"current_period_end"`
	NextRenewalAt      *time.Time            `gorm:"index" json:"next_renewal_at,omitempty"`
	DunningAttempts    int                   `gorm:"not null;default:0" json:"dunning_attempts"`
	DunningFlaggedAt   *time.Time            `json:"dunning_flagged_at,omitempty"`
	Metadata           datatypes.JSONMap     `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	Version            int64                 `gorm:"not null;default:0" json:"version"`
	CreatedAt          time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// InvalidStateTransition reports a lifecycle move the state machine does
// not allow. CANCELED is terminal.
type InvalidStateTransition struct {
	Current   Status
	Attempted Status
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid_state_transition: %s -> %s", e.Current, e.Attempted)
}
