// Package domain contains persistence models for the tenant registry.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TenantType classifies the kind of organization behind a tenant.
type TenantType string

const (
	TenantTypeIndividual      TenantType = "INDIVIDUAL"
	TenantTypeGolfCourse      TenantType = "GOLF_COURSE"
	TenantTypeEnterpriseChain TenantType = "ENTERPRISE_CHAIN"
)

// TenantStatus represents lifecycle states for a tenant.
type TenantStatus string

const (
	TenantStatusProvisioning TenantStatus = "PROVISIONING"
	TenantStatusActive       TenantStatus = "ACTIVE"
	TenantStatusSuspended    TenantStatus = "SUSPENDED"
	TenantStatusArchived     TenantStatus = "ARCHIVED"
)

// ResourceLimits caps a tenant's consumption. A child tenant's limits may
// never exceed its parent's.
type ResourceLimits struct {
	MaxUsers            int64 `gorm:"column:max_users;not null;default:0" json:"max_users"`
	MaxStorageGB        int64 `gorm:"column:max_storage_gb;not null;default:0" json:"max_storage_gb"`
	MaxAPICallsPerMonth int64 `gorm:"column:max_api_calls_per_month;not null;default:0" json:"max_api_calls_per_month"`
	MaxCustomDomains    int64 `gorm:"column:max_custom_domains;not null;default:0" json:"max_custom_domains"`
}

// Exceeds reports whether any limit is higher than the corresponding cap.
// A cap of zero means unlimited.
func (l ResourceLimits) Exceeds(cap ResourceLimits) bool {
	over := func(value, limit int64) bool { return limit > 0 && value > limit }
	return over(l.MaxUsers, cap.MaxUsers) ||
		over(l.MaxStorageGB, cap.MaxStorageGB) ||
		over(l.MaxAPICallsPerMonth, cap.MaxAPICallsPerMonth) ||
		over(l.MaxCustomDomains, cap.MaxCustomDomains)
}

// Tenant represents an isolated customer organization: a golf course, a
// chain of courses, or an individual account.
type Tenant struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Slug      string            `gorm:"type:text;not null;uniqueIndex:ux_tenants_slug" json:"slug"`
	Name      string            `gorm:"type:text;not null" json:"name"`
	Type      TenantType        `gorm:"type:text;not null" json:"type"`
	ParentID  *snowflake.ID     `gorm:"index" json:"parent_id,omitempty"`
	Status    TenantStatus      `gorm:"type:text;not null;default:'PROVISIONING'" json:"status"`
	Branding  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"branding"`
	Features  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"features"`
	Limits    ResourceLimits    `gorm:"embedded" json:"limits"`
	Version   int64             `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// TenantOperator grants a platform operator a role inside one tenant.
// The guard consults this table when resolving "operator:<id>" actors.
type TenantOperator struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID   snowflake.ID `gorm:"not null;uniqueIndex:ux_tenant_operators_member,priority:1" json:"tenant_id"`
	OperatorID string       `gorm:"not null;uniqueIndex:ux_tenant_operators_member,priority:2" json:"operator_id"`
	Role       string       `gorm:"not null" json:"role"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (TenantOperator) TableName() string { return "tenant_operators" }
