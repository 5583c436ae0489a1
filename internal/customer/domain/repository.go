package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Customer, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, externalID string) (*Customer, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, filter ListCustomerFilter, page pagination.Pagination) ([]*Customer, error)
}
