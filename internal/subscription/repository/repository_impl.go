package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/subscription/domain"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	"github.com/fairwaylabs/fairway/pkg/db/option"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Subscription, error) {
	stmt := db.WithContext(ctx)
	// sqlite has no row locks; serialization falls back to the version
	// column there.
	if stmt.Dialector.Name() == "postgres" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var sub domain.Subscription
	err := stmt.
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID, family tierdomain.TierFamily) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id = ? AND tier_family = ? AND status = ?",
			tenantID, customerID, family, domain.StatusActive).
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *domain.Subscription, expectedVersion int64) error {
	sub.Version = expectedVersion + 1
	result := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, expectedVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(sub)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Subscription, error) {
	var subs []*domain.Subscription
	stmt := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("tenant_id = ?", filter.TenantID)
	if filter.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) ListDueForRenewal(ctx context.Context, db *gorm.DB, dueBefore time.Time, limit int) ([]*domain.Subscription, error) {
	stmt := db.WithContext(ctx)
	if stmt.Dialector.Name() == "postgres" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var subs []*domain.Subscription
	err := stmt.
		Where("status = ? AND next_renewal_at IS NOT NULL AND next_renewal_at <= ?",
			domain.StatusActive, dueBefore.UTC()).
		Order("next_renewal_at asc").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) ListExpiredPauses(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.Subscription, error) {
	stmt := db.WithContext(ctx)
	if stmt.Dialector.Name() == "postgres" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var subs []*domain.Subscription
	err := stmt.
		Where("status = ? AND pause_ends_at IS NOT NULL AND pause_ends_at <= ?",
			domain.StatusPaused, now.UTC()).
		Order("pause_ends_at asc").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) CountActiveByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("tenant_id = ? AND status = ?", tenantID, domain.StatusActive).
		Count(&count).Error
	return count, err
}
