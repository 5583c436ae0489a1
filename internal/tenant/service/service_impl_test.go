package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fairwaylabs/fairway/internal/clock"
	"github.com/fairwaylabs/fairway/internal/tenant/domain"
	"github.com/fairwaylabs/fairway/internal/tenant/repository"
)

func setupTenantTest(t *testing.T) domain.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Tenant{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func createChain(t *testing.T, svc domain.Service, limits domain.ResourceLimits) *domain.Tenant {
	t.Helper()
	chain, err := svc.Create(context.Background(), domain.CreateTenantRequest{
		Name:   "Links Golf Group",
		Type:   domain.TenantTypeEnterpriseChain,
		Limits: limits,
	})
	require.NoError(t, err)
	return chain
}

func TestCreateSlugsNameAndStartsProvisioning(t *testing.T) {
	svc := setupTenantTest(t)

	tenant, err := svc.Create(context.Background(), domain.CreateTenantRequest{
		Name: "St Andrews Golf Club",
		Type: domain.TenantTypeGolfCourse,
	})
	require.NoError(t, err)
	assert.Equal(t, "st-andrews-golf-club", tenant.Slug)
	assert.Equal(t, domain.TenantStatusProvisioning, tenant.Status)
	assert.Nil(t, tenant.ParentID)
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	svc := setupTenantTest(t)

	_, err := svc.Create(context.Background(), domain.CreateTenantRequest{
		Name: "Pebble Creek",
		Type: domain.TenantTypeGolfCourse,
	})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), domain.CreateTenantRequest{
		Name: "Pebble Creek",
		Type: domain.TenantTypeGolfCourse,
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateSlug)
}

func TestCreateChildValidatesParent(t *testing.T) {
	svc := setupTenantTest(t)
	chain := createChain(t, svc, domain.ResourceLimits{MaxAPICallsPerMonth: 100000})

	course, err := svc.Create(context.Background(), domain.CreateTenantRequest{
		Name:     "Links East Course",
		Type:     domain.TenantTypeGolfCourse,
		ParentID: chain.ID.String(),
		Limits:   domain.ResourceLimits{MaxAPICallsPerMonth: 50000},
	})
	require.NoError(t, err)
	require.NotNil(t, course.ParentID)
	assert.Equal(t, chain.ID, *course.ParentID)

	// A child may not out-provision its parent.
	_, err = svc.Create(context.Background(), domain.CreateTenantRequest{
		Name:     "Links West Course",
		Type:     domain.TenantTypeGolfCourse,
		ParentID: chain.ID.String(),
		Limits:   domain.ResourceLimits{MaxAPICallsPerMonth: 200000},
	})
	assert.ErrorIs(t, err, domain.ErrLimitsExceedParent)

	// Only enterprise chains may hold children.
	_, err = svc.Create(context.Background(), domain.CreateTenantRequest{
		Name:     "Nested Course",
		Type:     domain.TenantTypeGolfCourse,
		ParentID: course.ID.String(),
	})
	assert.ErrorIs(t, err, domain.ErrParentNotChain)
}

func TestSlugImmutableOnceActive(t *testing.T) {
	svc := setupTenantTest(t)

	tenant, err := svc.Create(context.Background(), domain.CreateTenantRequest{
		Name: "Royal Dunes",
		Type: domain.TenantTypeGolfCourse,
	})
	require.NoError(t, err)

	// While provisioning the slug may still change.
	renamed := "royal-dunes-resort"
	updated, err := svc.Update(context.Background(), domain.UpdateTenantRequest{
		ID:   tenant.ID.String(),
		Slug: &renamed,
	})
	require.NoError(t, err)
	assert.Equal(t, renamed, updated.Slug)

	require.NoError(t, svc.Transition(context.Background(), tenant.ID.String(), domain.TenantStatusActive))

	_, err = svc.Update(context.Background(), domain.UpdateTenantRequest{
		ID:   tenant.ID.String(),
		Slug: &renamed,
	})
	assert.ErrorIs(t, err, domain.ErrSlugImmutable)
}

func TestStatusTransitions(t *testing.T) {
	svc := setupTenantTest(t)

	tenant, err := svc.Create(context.Background(), domain.CreateTenantRequest{
		Name: "Fox Hollow",
		Type: domain.TenantTypeGolfCourse,
	})
	require.NoError(t, err)
	id := tenant.ID.String()

	// PROVISIONING cannot be suspended.
	assert.ErrorIs(t, svc.Transition(context.Background(), id, domain.TenantStatusSuspended), domain.ErrInvalidTransition)

	require.NoError(t, svc.Transition(context.Background(), id, domain.TenantStatusActive))
	require.NoError(t, svc.Transition(context.Background(), id, domain.TenantStatusSuspended))
	require.NoError(t, svc.Transition(context.Background(), id, domain.TenantStatusActive))
	require.NoError(t, svc.Transition(context.Background(), id, domain.TenantStatusArchived))

	// ARCHIVED is terminal.
	assert.ErrorIs(t, svc.Transition(context.Background(), id, domain.TenantStatusActive), domain.ErrInvalidTransition)

	// Transition to the current status is a no-op, not an error.
	assert.NoError(t, svc.Transition(context.Background(), id, domain.TenantStatusArchived))
}

func TestUpdateLimitsGuardsBothDirections(t *testing.T) {
	svc := setupTenantTest(t)
	chain := createChain(t, svc, domain.ResourceLimits{MaxAPICallsPerMonth: 100000})

	course, err := svc.Create(context.Background(), domain.CreateTenantRequest{
		Name:     "Links South Course",
		Type:     domain.TenantTypeGolfCourse,
		ParentID: chain.ID.String(),
		Limits:   domain.ResourceLimits{MaxAPICallsPerMonth: 50000},
	})
	require.NoError(t, err)

	// Raising a child past its parent fails.
	over := domain.ResourceLimits{MaxAPICallsPerMonth: 150000}
	_, err = svc.Update(context.Background(), domain.UpdateTenantRequest{
		ID:     course.ID.String(),
		Limits: &over,
	})
	assert.ErrorIs(t, err, domain.ErrLimitsExceedParent)

	// Shrinking a parent below an existing child fails.
	tight := domain.ResourceLimits{MaxAPICallsPerMonth: 10000}
	_, err = svc.Update(context.Background(), domain.UpdateTenantRequest{
		ID:     chain.ID.String(),
		Limits: &tight,
	})
	assert.ErrorIs(t, err, domain.ErrChildLimitsExceed)
}

func TestIsDescendantWalksChain(t *testing.T) {
	svc := setupTenantTest(t)
	chain := createChain(t, svc, domain.ResourceLimits{})

	course, err := svc.Create(context.Background(), domain.CreateTenantRequest{
		Name:     "Links North Course",
		Type:     domain.TenantTypeGolfCourse,
		ParentID: chain.ID.String(),
	})
	require.NoError(t, err)

	descendant, err := svc.IsDescendant(context.Background(), chain.ID, course.ID)
	require.NoError(t, err)
	assert.True(t, descendant)

	// Not symmetric, and never true for self.
	descendant, err = svc.IsDescendant(context.Background(), course.ID, chain.ID)
	require.NoError(t, err)
	assert.False(t, descendant)

	descendant, err = svc.IsDescendant(context.Background(), chain.ID, chain.ID)
	require.NoError(t, err)
	assert.False(t, descendant)
}

func TestGetBySlug(t *testing.T) {
	svc := setupTenantTest(t)

	created, err := svc.Create(context.Background(), domain.CreateTenantRequest{
		Name: "Cedar Ridge",
		Type: domain.TenantTypeGolfCourse,
	})
	require.NoError(t, err)

	found, err := svc.GetBySlug(context.Background(), "cedar-ridge")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = svc.GetBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}
