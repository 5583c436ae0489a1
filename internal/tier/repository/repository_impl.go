package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/tier/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tier *domain.Tier) error {
	return db.WithContext(ctx).Create(tier).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, tier *domain.Tier) error {
	return db.WithContext(ctx).Save(tier).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Tier, error) {
	var tier domain.Tier
	err := db.WithContext(ctx).Where("id = ?", id).First(&tier).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &tier, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Tier, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	var tier domain.Tier
	err := db.WithContext(ctx).Where("code = ?", code).First(&tier).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &tier, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListTierRequest) ([]*domain.Tier, error) {
	var tiers []*domain.Tier
	stmt := db.WithContext(ctx).Model(&domain.Tier{})
	if filter.Family != "" {
		stmt = stmt.Where("family = ?", filter.Family)
	}
	if filter.ActiveOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("family asc, monthly_price_cents asc").Find(&tiers).Error; err != nil {
		return nil, err
	}
	return tiers, nil
}
