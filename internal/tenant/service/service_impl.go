package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/clock"
	"github.com/fairwaylabs/fairway/internal/tenant/domain"
	"github.com/fairwaylabs/fairway/pkg/db"
	slugify "github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("tenant.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateTenantRequest) (*domain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if !isValidType(req.Type) {
		return nil, domain.ErrInvalidType
	}

	tenantSlug := strings.TrimSpace(req.Slug)
	if tenantSlug == "" {
		tenantSlug = name
	}
	tenantSlug = slugify.Make(tenantSlug)
	if tenantSlug == "" {
		return nil, domain.ErrInvalidName
	}

	var parentID *snowflake.ID
	if strings.TrimSpace(req.ParentID) != "" {
		parsed, err := snowflake.ParseString(strings.TrimSpace(req.ParentID))
		if err != nil || parsed == 0 {
			return nil, domain.ErrParentNotFound
		}
		parent, err := s.repo.FindByID(ctx, s.db, parsed)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, domain.ErrParentNotFound
		}
		if parent.Type != domain.TenantTypeEnterpriseChain {
			return nil, domain.ErrParentNotChain
		}
		if req.Limits.Exceeds(parent.Limits) {
			return nil, domain.ErrLimitsExceedParent
		}
		parentID = &parsed
	}

	now := s.clock.Now()
	tenant := &domain.Tenant{
		ID:        s.genID.Generate(),
		Slug:      tenantSlug,
		Name:      name,
		Type:      req.Type,
		ParentID:  parentID,
		Status:    domain.TenantStatusProvisioning,
		Limits:    req.Limits,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Branding != nil {
		tenant.Branding = datatypes.JSONMap(req.Branding)
	}
	if req.Features != nil {
		tenant.Features = datatypes.JSONMap(req.Features)
	}

	if err := s.repo.Insert(ctx, s.db, tenant); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateSlug
		}
		return nil, err
	}

	return tenant, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	tenantID, err := parseID(id)
	if err != nil {
		return nil, domain.ErrInvalidTenant
	}
	tenant, err := s.repo.FindByID(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, domain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, domain.ErrInvalidTenant
	}
	tenant, err := s.repo.FindBySlug(ctx, s.db, slug)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, domain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateTenantRequest) (*domain.Tenant, error) {
	tenantID, err := parseID(req.ID)
	if err != nil {
		return nil, domain.ErrInvalidTenant
	}

	var updated *domain.Tenant
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return domain.ErrTenantNotFound
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return domain.ErrInvalidName
			}
			tenant.Name = name
		}
		if req.Slug != nil {
			if tenant.Status != domain.TenantStatusProvisioning {
				return domain.ErrSlugImmutable
			}
			newSlug := slugify.Make(strings.TrimSpace(*req.Slug))
			if newSlug == "" {
				return domain.ErrInvalidName
			}
			tenant.Slug = newSlug
		}
		if req.Branding != nil {
			tenant.Branding = datatypes.JSONMap(req.Branding)
		}
		if req.Features != nil {
			tenant.Features = datatypes.JSONMap(req.Features)
		}
		if req.Limits != nil {
			if err := s.validateLimits(ctx, tx, tenant, *req.Limits); err != nil {
				return err
			}
			tenant.Limits = *req.Limits
		}

		tenant.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, tenant, tenant.Version); err != nil {
			return err
		}
		updated = tenant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Transition(ctx context.Context, id string, target domain.TenantStatus) error {
	tenantID, err := parseID(id)
	if err != nil {
		return domain.ErrInvalidTenant
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return domain.ErrTenantNotFound
		}
		if tenant.Status == target {
			return nil
		}
		if !isTransitionAllowed(tenant.Status, target) {
			return domain.ErrInvalidTransition
		}

		tenant.Status = target
		tenant.UpdatedAt = s.clock.Now()
		return s.repo.Update(ctx, tx, tenant, tenant.Version)
	})
}

func (s *Service) ListChildren(ctx context.Context, parentID string) ([]domain.Tenant, error) {
	id, err := parseID(parentID)
	if err != nil {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListByParent(ctx, s.db, id)
}

func (s *Service) IsDescendant(ctx context.Context, ancestorID, tenantID snowflake.ID) (bool, error) {
	if ancestorID == 0 || tenantID == 0 || ancestorID == tenantID {
		return false, nil
	}

	// Walk the parent chain upward. Chains are shallow (course -> region ->
	// enterprise), so the bounded loop is plenty.
	current := tenantID
	for depth := 0; depth < 8; depth++ {
		tenant, err := s.repo.FindByID(ctx, s.db, current)
		if err != nil {
			return false, err
		}
		if tenant == nil || tenant.ParentID == nil {
			return false, nil
		}
		if *tenant.ParentID == ancestorID {
			return true, nil
		}
		current = *tenant.ParentID
	}
	return false, nil
}

func (s *Service) validateLimits(ctx context.Context, tx *gorm.DB, tenant *domain.Tenant, limits domain.ResourceLimits) error {
	if tenant.ParentID != nil {
		parent, err := s.repo.FindByID(ctx, tx, *tenant.ParentID)
		if err != nil {
			return err
		}
		if parent != nil && limits.Exceeds(parent.Limits) {
			return domain.ErrLimitsExceedParent
		}
	}

	children, err := s.repo.ListByParent(ctx, tx, tenant.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.Limits.Exceeds(limits) {
			return domain.ErrChildLimitsExceed
		}
	}
	return nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidTenant
	}
	return id, nil
}

func isValidType(t domain.TenantType) bool {
	switch t {
	case domain.TenantTypeIndividual, domain.TenantTypeGolfCourse, domain.TenantTypeEnterpriseChain:
		return true
	default:
		return false
	}
}

func isTransitionAllowed(current, target domain.TenantStatus) bool {
	switch current {
	case domain.TenantStatusProvisioning:
		return target == domain.TenantStatusActive || target == domain.TenantStatusArchived
	case domain.TenantStatusActive:
		return target == domain.TenantStatusSuspended || target == domain.TenantStatusArchived
	case domain.TenantStatusSuspended:
		return target == domain.TenantStatusActive || target == domain.TenantStatusArchived
	default:
		return false
	}
}
