package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateTenantRequest struct {
	Name     string         `json:"name"`
	Slug     string         `json:"slug,omitempty"`
	Type     TenantType     `json:"type"`
	ParentID string         `json:"parent_id,omitempty"`
	Branding map[string]any `json:"branding,omitempty"`
	Features map[string]any `json:"features,omitempty"`
	Limits   ResourceLimits `json:"limits"`
}

type UpdateTenantRequest struct {
	ID       string          `json:"id"`
	Name     *string         `json:"name,omitempty"`
	Slug     *string         `json:"slug,omitempty"`
	Branding map[string]any  `json:"branding,omitempty"`
	Features map[string]any  `json:"features,omitempty"`
	Limits   *ResourceLimits `json:"limits,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateTenantRequest) (*Tenant, error)
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	Update(ctx context.Context, req UpdateTenantRequest) (*Tenant, error)
	Transition(ctx context.Context, id string, target TenantStatus) error
	ListChildren(ctx context.Context, parentID string) ([]Tenant, error)
	// IsDescendant reports whether tenantID sits anywhere below ancestorID
	// in the parent chain.
	IsDescendant(ctx context.Context, ancestorID, tenantID snowflake.ID) (bool, error)
}

var (
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidType        = errors.New("invalid_type")
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrTenantNotFound     = errors.New("tenant_not_found")
	ErrDuplicateSlug      = errors.New("duplicate_slug")
	ErrSlugImmutable      = errors.New("slug_immutable")
	ErrParentNotFound     = errors.New("parent_not_found")
	ErrParentNotChain     = errors.New("parent_not_chain")
	ErrLimitsExceedParent = errors.New("limits_exceed_parent")
	ErrChildLimitsExceed  = errors.New("child_limits_exceed")
	ErrInvalidTransition  = errors.New("invalid_transition")
)
