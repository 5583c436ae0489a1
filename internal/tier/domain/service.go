package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateTierRequest struct {
	Code              string
	Family            TierFamily
	Name              string
	Currency          string
	MonthlyPriceCents int64
	AnnualPriceCents  int64
	SetupFeeCents     int64
	IncludedAPICalls  int64
	IncludedStorageGB int64
	IncludedBandwidth int64
	OverageRates      map[string]any
}

type UpdateTierRequest struct {
	ID                string
	Name              *string
	MonthlyPriceCents *int64
	AnnualPriceCents  *int64
	SetupFeeCents     *int64
	Active            *bool
	OverageRates      map[string]any
}

type ListTierRequest struct {
	Family     TierFamily
	ActiveOnly bool
}

type Service interface {
	Create(ctx context.Context, req CreateTierRequest) (Tier, error)
	Update(ctx context.Context, req UpdateTierRequest) (Tier, error)
	List(ctx context.Context, req ListTierRequest) ([]Tier, error)
	GetByID(ctx context.Context, id string) (*Tier, error)
	GetByCode(ctx context.Context, code string) (*Tier, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tier *Tier) error
	Update(ctx context.Context, db *gorm.DB, tier *Tier) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tier, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Tier, error)
	List(ctx context.Context, db *gorm.DB, filter ListTierRequest) ([]*Tier, error)
}

var (
	ErrInvalidCode   = errors.New("invalid_code")
	ErrInvalidFamily = errors.New("invalid_family")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidPrice  = errors.New("invalid_price")
	ErrInvalidID     = errors.New("invalid_id")
	ErrDuplicateCode = errors.New("duplicate_code")
	ErrTierNotFound  = errors.New("tier_not_found")
)
