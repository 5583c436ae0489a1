package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusSent    Status = "SENT"
	StatusPaid    Status = "PAID"
	StatusOverdue Status = "OVERDUE"
)

// Invoice rolls one or more charges into a single payable document.
// TotalCents always equals the sum of its lines; every mutation
// recomputes it.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID  `gorm:"not null;index" json:"tenant_id"`
	CustomerID     snowflake.ID  `gorm:"not null;index" json:"customer_id"`
	SubscriptionID *snowflake.ID `gorm:"index" json:"subscription_id,omitempty"`
	Number         string        `gorm:"not null;uniqueIndex" json:"number"`
	Status         Status        `gorm:"type:text;not null;index" json:"status"`
	Currency       string        `gorm:"type:text;not null" json:"currency"`
	TotalCents     int64         `gorm:"not null;default:0" json:"total_cents"`
	DueAt          time.Time     `gorm:"not null" json:"due_at"`
	SentAt         *time.Time    `json:"sent_at,omitempty"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	Lines          []InvoiceLine `gorm:"-" json:"lines,omitempty"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

type InvoiceLine struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID      `gorm:"not null;index" json:"invoice_id"`
	Description string            `gorm:"not null" json:"description"`
	Quantity    int64             `gorm:"not null;default:1" json:"quantity"`
	AmountCents int64             `gorm:"not null" json:"amount_cents"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (InvoiceLine) TableName() string { return "invoice_lines" }

// SumLines is the only source of truth for TotalCents.
func SumLines(lines []InvoiceLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.AmountCents
	}
	return total
}

// InvalidStatusTransition reports a move the forward-only invoice state
// machine rejects.
type InvalidStatusTransition struct {
	Current   Status
	Attempted Status
}

func (e *InvalidStatusTransition) Error() string {
	return fmt.Sprintf("invalid_invoice_transition: %s -> %s", e.Current, e.Attempted)
}
