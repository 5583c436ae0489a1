package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/clock"
	"github.com/fairwaylabs/fairway/internal/tier/domain"
	"github.com/fairwaylabs/fairway/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tier.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateTierRequest) (domain.Tier, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return domain.Tier{}, domain.ErrInvalidCode
	}
	if !validFamily(req.Family) {
		return domain.Tier{}, domain.ErrInvalidFamily
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Tier{}, domain.ErrInvalidName
	}
	if req.MonthlyPriceCents < 0 || req.AnnualPriceCents < 0 || req.SetupFeeCents < 0 {
		return domain.Tier{}, domain.ErrInvalidPrice
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	rates := datatypes.JSONMap{}
	for key, value := range req.OverageRates {
		if strings.TrimSpace(key) == "" {
			continue
		}
		rates[key] = value
	}

	now := s.clock.Now().UTC()
	tier := domain.Tier{
		ID:                s.genID.Generate(),
		Code:              code,
		Family:            req.Family,
		Name:              name,
		Currency:          currency,
		MonthlyPriceCents: req.MonthlyPriceCents,
		AnnualPriceCents:  req.AnnualPriceCents,
		SetupFeeCents:     req.SetupFeeCents,
		IncludedAPICalls:  req.IncludedAPICalls,
		IncludedStorageGB: req.IncludedStorageGB,
		IncludedBandwidth: req.IncludedBandwidth,
		OverageRates:      rates,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Insert(ctx, s.db, &tier); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Tier{}, domain.ErrDuplicateCode
		}
		return domain.Tier{}, err
	}
	return tier, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateTierRequest) (domain.Tier, error) {
	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.Tier{}, err
	}

	var updated domain.Tier
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tier, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if tier == nil {
			return domain.ErrTierNotFound
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return domain.ErrInvalidName
			}
			tier.Name = name
		}
		if req.MonthlyPriceCents != nil {
			if *req.MonthlyPriceCents < 0 {
				return domain.ErrInvalidPrice
			}
			tier.MonthlyPriceCents = *req.MonthlyPriceCents
		}
		if req.AnnualPriceCents != nil {
			if *req.AnnualPriceCents < 0 {
				return domain.ErrInvalidPrice
			}
			tier.AnnualPriceCents = *req.AnnualPriceCents
		}
		if req.SetupFeeCents != nil {
			if *req.SetupFeeCents < 0 {
				return domain.ErrInvalidPrice
			}
			tier.SetupFeeCents = *req.SetupFeeCents
		}
		if req.Active != nil {
			tier.Active = *req.Active
		}
		if req.OverageRates != nil {
			rates := datatypes.JSONMap{}
			for key, value := range req.OverageRates {
				if strings.TrimSpace(key) == "" {
					continue
				}
				rates[key] = value
			}
			tier.OverageRates = rates
		}

		tier.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Update(ctx, tx, tier); err != nil {
			return err
		}
		updated = *tier
		return nil
	})
	if err != nil {
		return domain.Tier{}, err
	}
	return updated, nil
}

func (s *Service) List(ctx context.Context, req domain.ListTierRequest) ([]domain.Tier, error) {
	items, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return nil, err
	}
	tiers := make([]domain.Tier, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		tiers = append(tiers, *item)
	}
	return tiers, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.Tier, error) {
	parsed, err := s.parseID(id)
	if err != nil {
		return nil, err
	}
	tier, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, domain.ErrTierNotFound
	}
	return tier, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*domain.Tier, error) {
	tier, err := s.repo.FindByCode(ctx, s.db, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, domain.ErrTierNotFound
	}
	return tier, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func validFamily(family domain.TierFamily) bool {
	switch family {
	case domain.FamilyConsumer, domain.FamilyCourse, domain.FamilyChain,
		domain.FamilyAnalytics, domain.FamilyWhiteLabel:
		return true
	default:
		return false
	}
}
