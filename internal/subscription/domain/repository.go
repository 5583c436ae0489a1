package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	TenantID   snowflake.ID
	CustomerID snowflake.ID
	Status     Status
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Subscription, error)
	// FindByIDForUpdate locks the row for the duration of the enclosing
	// transaction so lifecycle transitions serialize per subscription.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Subscription, error)
	FindActive(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID, family tierdomain.TierFamily) (*Subscription, error)
	// Update persists the row guarded by the optimistic version column.
	Update(ctx context.Context, db *gorm.DB, sub *Subscription, expectedVersion int64) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Subscription, error)
	// ListDueForRenewal claims a batch of renewable subscriptions using
	// FOR UPDATE SKIP LOCKED so concurrent billing runs never double-claim.
	ListDueForRenewal(ctx context.Context, db *gorm.DB, dueBefore time.Time, limit int) ([]*Subscription, error)
	ListExpiredPauses(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Subscription, error)
	CountActiveByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error)
}
