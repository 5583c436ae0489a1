package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
	"gorm.io/gorm"
)

// RecordRequest appends one revenue event.
type RecordRequest struct {
	EventID        string
	TenantID       snowflake.ID
	Type           EventType
	Stream         RevenueStream
	Source         EventSource
	AmountCents    int64
	Currency       string
	OccurredAt     time.Time
	SubscriptionID *snowflake.ID
	CustomerID     *snowflake.ID
	InvoiceID      *snowflake.ID
	Metadata       map[string]any
}

type QueryRequest struct {
	pagination.Pagination
	Type    EventType
	Stream  RevenueStream
	StartAt *time.Time
	EndAt   *time.Time
}

type QueryResponse struct {
	pagination.PageInfo
	Events []RevenueEvent `json:"events"`
}

// Period bounds a metrics reduction. End is exclusive.
type Period struct {
	Start time.Time
	End   time.Time
}

type Service interface {
	// Record appends the event, or returns the stored event unchanged when
	// the same (tenant, event_id) was already recorded with the same
	// content. RecordTx is the same operation inside a caller transaction.
	Record(ctx context.Context, req RecordRequest) (RevenueEvent, error)
	RecordTx(ctx context.Context, tx *gorm.DB, req RecordRequest) (RevenueEvent, error)
	Query(ctx context.Context, req QueryRequest) (QueryResponse, error)
	Metrics(ctx context.Context, tenantID snowflake.ID, period Period) (PeriodMetrics, error)
}

type ListFilter struct {
	TenantID snowflake.ID
	Type     EventType
	Stream   RevenueStream
	StartAt  *time.Time
	EndAt    *time.Time
}

type Repository interface {
	// Insert appends the event and reports whether a row was written.
	// false means the (tenant_id, event_id) pair already existed.
	Insert(ctx context.Context, db *gorm.DB, event *RevenueEvent) (bool, error)
	FindByEventID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, eventID string) (*RevenueEvent, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*RevenueEvent, error)
	Reduce(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period Period) (PeriodMetrics, error)
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidEventID    = errors.New("invalid_event_id")
	ErrInvalidEventType  = errors.New("invalid_event_type")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidOccurredAt = errors.New("invalid_occurred_at")
	ErrInvalidPeriod     = errors.New("invalid_period")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrDuplicateEvent    = errors.New("duplicate_event")
)
