package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Tenant, error)
	ListByParent(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]Tenant, error)
	// Update persists the tenant iff the stored version still matches
	// expectedVersion, returning gorm.ErrRecordNotFound on a lost race.
	Update(ctx context.Context, db *gorm.DB, tenant *Tenant, expectedVersion int64) error
}
