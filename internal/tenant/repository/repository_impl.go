package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/tenant/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tenant *domain.Tenant) error {
	return db.WithContext(ctx).Create(tenant).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	stmt := db.WithContext(ctx)
	if stmt.Dialector.Name() == "postgres" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.Where("id = ?", id).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := db.WithContext(ctx).Where("slug = ?", slug).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) ListByParent(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]domain.Tenant, error) {
	var tenants []domain.Tenant
	err := db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("created_at asc, id asc").
		Find(&tenants).Error
	return tenants, err
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, tenant *domain.Tenant, expectedVersion int64) error {
	tenant.Version = expectedVersion + 1
	result := db.WithContext(ctx).
		Model(&domain.Tenant{}).
		Where("id = ? AND version = ?", tenant.ID, expectedVersion).
		Updates(map[string]any{
			"name":                    tenant.Name,
			"status":                  tenant.Status,
			"branding":                tenant.Branding,
			"features":                tenant.Features,
			"max_users":               tenant.Limits.MaxUsers,
			"max_storage_gb":          tenant.Limits.MaxStorageGB,
			"max_api_calls_per_month": tenant.Limits.MaxAPICallsPerMonth,
			"max_custom_domains":      tenant.Limits.MaxCustomDomains,
			"version":                 tenant.Version,
			"updated_at":              tenant.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
