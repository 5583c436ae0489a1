package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	"gorm.io/gorm"
)

type ReportRequest struct {
	Start time.Time
	End   time.Time // exclusive
}

type Service interface {
	// Report reduces the tenant's ledger into the period's revenue report.
	Report(ctx context.Context, req ReportRequest) (Report, error)
}

// Repository reads the raw material for reductions. Analytics never
// writes.
type Repository interface {
	ListEvents(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, from, to time.Time) ([]ledgerdomain.RevenueEvent, error)
	ListSubscriptions(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]subscriptiondomain.Subscription, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidPeriod = errors.New("invalid_period")
)
