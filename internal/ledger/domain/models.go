package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventType classifies a revenue event.
type EventType string

const (
	EventSubscriptionCreated  EventType = "subscription_created"
	EventSubscriptionRenewed  EventType = "subscription_renewed"
	EventSubscriptionProrated EventType = "subscription_prorated"
	EventSetupFee             EventType = "setup_fee"
	EventUsageCharge          EventType = "usage_charge"
	EventAddOnPurchase        EventType = "add_on_purchase"
	EventRefund               EventType = "refund"
	EventMigration            EventType = "migration"
)

// RevenueStream tags which product surface produced the revenue.
type RevenueStream string

const (
	StreamConsumer   RevenueStream = "consumer"
	StreamWhiteLabel RevenueStream = "white_label"
	StreamAnalytics  RevenueStream = "analytics"
	StreamAPI        RevenueStream = "api"
)

// EventSource records where an event entered the system.
type EventSource string

const (
	SourcePaymentProcessor EventSource = "payment_processor"
	SourceInternal         EventSource = "internal"
	SourceManual           EventSource = "manual"
)

// RevenueEvent is one immutable ledger row. EventID is the caller-supplied
// idempotency key, unique per tenant. Amounts are signed minor units;
// only refunds and offsetting corrections go negative.
type RevenueEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	EventID        string            `gorm:"not null;uniqueIndex:ux_revenue_events_tenant_event,priority:2" json:"event_id"`
	TenantID       snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_revenue_events_tenant_event,priority:1" json:"tenant_id"`
	Type           EventType         `gorm:"type:text;not null;index" json:"type"`
	Stream         RevenueStream     `gorm:"type:text;not null;default:api" json:"stream"`
	Source         EventSource       `gorm:"type:text;not null;default:internal" json:"source"`
	AmountCents    int64             `gorm:"not null" json:"amount_cents"`
	Currency       string            `gorm:"type:text;not null" json:"currency"`
	OccurredAt     time.Time         `gorm:"not null;index" json:"occurred_at"`
	SubscriptionID *snowflake.ID     `gorm:"index" json:"subscription_id,omitempty"`
	CustomerID     *snowflake.ID     `gorm:"index" json:"customer_id,omitempty"`
	InvoiceID      *snowflake.ID     `gorm:"index" json:"invoice_id,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (RevenueEvent) TableName() string { return "revenue_events" }

// SameContent reports whether two events describe the same fact. A replay
// with identical content is a no-op; identical EventID with different
// content is a caller bug.
func (e RevenueEvent) SameContent(other RevenueEvent) bool {
	return e.Type == other.Type &&
		e.AmountCents == other.AmountCents &&
		e.Currency == other.Currency &&
		e.Stream == other.Stream &&
		e.OccurredAt.Equal(other.OccurredAt)
}

// PeriodMetrics is a pure reduction over the events of one period.
type PeriodMetrics struct {
	TotalRevenueCents     int64 `json:"total_revenue_cents"`
	RecurringRevenueCents int64 `json:"recurring_revenue_cents"`
	CustomerCount         int64 `json:"customer_count"`
	ARPUCents             int64 `json:"arpu_cents"`
}
