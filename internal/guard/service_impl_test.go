package guard

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	tenantdomain "github.com/fairwaylabs/fairway/internal/tenant/domain"
)

// tenantSvcStub answers IsDescendant from a flat parent map.
type tenantSvcStub struct {
	parents map[snowflake.ID]snowflake.ID
}

func (s *tenantSvcStub) Create(ctx context.Context, req tenantdomain.CreateTenantRequest) (*tenantdomain.Tenant, error) {
	return nil, nil
}

func (s *tenantSvcStub) GetByID(ctx context.Context, id string) (*tenantdomain.Tenant, error) {
	return nil, tenantdomain.ErrTenantNotFound
}

func (s *tenantSvcStub) GetBySlug(ctx context.Context, slug string) (*tenantdomain.Tenant, error) {
	return nil, tenantdomain.ErrTenantNotFound
}

func (s *tenantSvcStub) Update(ctx context.Context, req tenantdomain.UpdateTenantRequest) (*tenantdomain.Tenant, error) {
	return nil, nil
}

func (s *tenantSvcStub) Transition(ctx context.Context, id string, target tenantdomain.TenantStatus) error {
	return nil
}

func (s *tenantSvcStub) ListChildren(ctx context.Context, parentID string) ([]tenantdomain.Tenant, error) {
	return nil, nil
}

func (s *tenantSvcStub) IsDescendant(ctx context.Context, ancestorID, tenantID snowflake.ID) (bool, error) {
	for current := tenantID; ; {
		parent, ok := s.parents[current]
		if !ok {
			return false, nil
		}
		if parent == ancestorID {
			return true, nil
		}
		current = parent
	}
}

func setupGuardTest(t *testing.T) (*ServiceImpl, *gorm.DB, *snowflake.Node, *tenantSvcStub) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tenantdomain.TenantOperator{}))

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	tenants := &tenantSvcStub{parents: make(map[snowflake.ID]snowflake.ID)}

	svc := &ServiceImpl{
		db:        db,
		log:       zap.NewNop(),
		enforcer:  enforcer,
		tenantSvc: tenants,
	}
	return svc, db, node, tenants
}

func grantOperator(t *testing.T, db *gorm.DB, node *snowflake.Node, tenantID, operatorID snowflake.ID, role string) {
	t.Helper()
	require.NoError(t, db.Create(&tenantdomain.TenantOperator{
		ID:         node.Generate(),
		TenantID:   tenantID,
		OperatorID: operatorID.String(),
		Role:       role,
	}).Error)
}

func TestAuthorizeSystemActor(t *testing.T) {
	svc, _, node, _ := setupGuardTest(t)
	tenantID := node.Generate().String()

	assert.NoError(t, svc.Authorize(context.Background(), "system", tenantID, ObjectTenant, ActionTenantCreate))
	assert.NoError(t, svc.Authorize(context.Background(), "system", tenantID, ObjectLedger, ActionLedgerAppend))
}

func TestAuthorizeOperatorByRole(t *testing.T) {
	svc, db, node, _ := setupGuardTest(t)
	tenantID := node.Generate()
	member := node.Generate()
	owner := node.Generate()
	grantOperator(t, db, node, tenantID, member, "member")
	grantOperator(t, db, node, tenantID, owner, "owner")

	memberActor := "operator:" + member.String()
	ownerActor := "operator:" + owner.String()

	assert.NoError(t, svc.Authorize(context.Background(), memberActor, tenantID.String(), ObjectInvoice, ActionInvoiceView))
	assert.ErrorIs(t, svc.Authorize(context.Background(), memberActor, tenantID.String(), ObjectSubscription, ActionSubscriptionCancel), ErrForbidden)

	assert.NoError(t, svc.Authorize(context.Background(), ownerActor, tenantID.String(), ObjectSubscription, ActionSubscriptionCancel))
	assert.NoError(t, svc.Authorize(context.Background(), ownerActor, tenantID.String(), ObjectExport, ActionExportRun))

	// No role in the catalog is allowed to mint tenants except the system.
	assert.ErrorIs(t, svc.Authorize(context.Background(), ownerActor, tenantID.String(), ObjectTenant, ActionTenantCreate), ErrForbidden)
}

func TestAuthorizeRoleIsPerTenant(t *testing.T) {
	svc, db, node, _ := setupGuardTest(t)
	home := node.Generate()
	away := node.Generate()
	operator := node.Generate()
	grantOperator(t, db, node, home, operator, "admin")

	actor := "operator:" + operator.String()
	assert.NoError(t, svc.Authorize(context.Background(), actor, home.String(), ObjectCustomer, ActionCustomerCreate))
	// The same operator holds no role in the other tenant.
	assert.ErrorIs(t, svc.Authorize(context.Background(), actor, away.String(), ObjectCustomer, ActionCustomerCreate), ErrForbidden)
}

func TestAuthorizeRejectsMalformedActors(t *testing.T) {
	svc, _, node, _ := setupGuardTest(t)
	tenantID := node.Generate().String()

	assert.ErrorIs(t, svc.Authorize(context.Background(), "", tenantID, ObjectTenant, ActionTenantView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(context.Background(), "operator:not-a-number", tenantID, ObjectTenant, ActionTenantView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(context.Background(), "intruder", tenantID, ObjectTenant, ActionTenantView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(context.Background(), "system", "", ObjectTenant, ActionTenantView), ErrInvalidTenant)
}

func TestValidateBoundarySameTenant(t *testing.T) {
	svc, _, node, _ := setupGuardTest(t)
	tenantID := node.Generate()

	assert.NoError(t, svc.ValidateBoundary(context.Background(), tenantID, tenantID, "customer.view"))
}

func TestValidateBoundaryEnterpriseChainDescendant(t *testing.T) {
	svc, _, node, tenants := setupGuardTest(t)
	chain := node.Generate()
	course := node.Generate()
	tenants.parents[course] = chain

	assert.NoError(t, svc.ValidateBoundary(context.Background(), chain, course, "subscription.view"))

	// The child may never reach up to its parent.
	var violation *CrossTenantViolation
	err := svc.ValidateBoundary(context.Background(), course, chain, "subscription.view")
	require.ErrorAs(t, err, &violation)
}

func TestValidateBoundaryCrossTenantViolation(t *testing.T) {
	svc, _, node, _ := setupGuardTest(t)
	requesting := node.Generate()
	target := node.Generate()

	err := svc.ValidateBoundary(context.Background(), requesting, target, "/v1/admin/customers")
	var violation *CrossTenantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, requesting, violation.RequestingTenant)
	assert.Equal(t, target, violation.TargetTenant)
	assert.Equal(t, "/v1/admin/customers", violation.Action)
	assert.Contains(t, violation.Error(), "cross_tenant_violation")
}

func TestValidateBoundaryRejectsZeroTenants(t *testing.T) {
	svc, _, node, _ := setupGuardTest(t)
	assert.ErrorIs(t, svc.ValidateBoundary(context.Background(), 0, node.Generate(), "x"), ErrInvalidTenant)
	assert.ErrorIs(t, svc.ValidateBoundary(context.Background(), node.Generate(), 0, "x"), ErrInvalidTenant)
}
