package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fairwaylabs/fairway/internal/guard"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	tenantdomain "github.com/fairwaylabs/fairway/internal/tenant/domain"
	tenantrepository "github.com/fairwaylabs/fairway/internal/tenant/repository"
	tenantservice "github.com/fairwaylabs/fairway/internal/tenant/service"
	"github.com/fairwaylabs/fairway/internal/tenantctx"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
)

// One club's life from onboarding through its first renewal: two
// revenue events at signup, a renewal charge one cycle later, and a
// hard boundary against the club next door.
func TestClubOnboardingThroughFirstRenewal(t *testing.T) {
	f := newBillingFixture(t)
	require.NoError(t, f.db.AutoMigrate(&tenantdomain.Tenant{}))

	tenantSvc := tenantservice.NewService(tenantservice.ServiceParam{
		DB:    f.db,
		Log:   zap.NewNop(),
		GenID: f.node,
		Clock: f.clk,
		Repo:  tenantrepository.Provide(),
	})
	guardSvc := guard.NewService(guard.Params{
		DB:        f.db,
		Log:       zap.NewNop(),
		TenantSvc: tenantSvc,
	})

	club, err := tenantSvc.Create(context.Background(), tenantdomain.CreateTenantRequest{
		Name: "Golf Club 42",
		Type: tenantdomain.TenantTypeGolfCourse,
	})
	require.NoError(t, err)
	assert.Equal(t, "golf-club-42", club.Slug)
	require.NoError(t, tenantSvc.Transition(context.Background(), club.ID.String(), tenantdomain.TenantStatusActive))

	neighbor, err := tenantSvc.Create(context.Background(), tenantdomain.CreateTenantRequest{
		Name: "Golf Club 43",
		Type: tenantdomain.TenantTypeGolfCourse,
	})
	require.NoError(t, err)
	assert.Equal(t, "golf-club-43", neighbor.Slug)

	// Everything below runs as the freshly onboarded club.
	f.tenantID = club.ID
	f.ctx = tenantctx.WithTenantID(context.Background(), club.ID)

	customer := f.seedCustomer("tok-visa")
	tier := tierdomain.Tier{
		ID:                f.node.Generate(),
		Code:              "COURSE_PREMIER",
		Family:            tierdomain.FamilyCourse,
		Name:              "Course Premier",
		Currency:          "USD",
		MonthlyPriceCents: 150000,
		SetupFeeCents:     100000,
		Active:            true,
	}
	f.tiers.add(tier)

	_, err = f.subSvc.Create(f.ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID:   customer.ID.String(),
		TierCode:     tier.Code,
		BillingCycle: subscriptiondomain.CycleMonthly,
	})
	require.NoError(t, err)

	// Signup lands as two separate events: the subscription and its
	// setup fee.
	assert.Equal(t, []ledgerdomain.EventType{
		ledgerdomain.EventSubscriptionCreated,
		ledgerdomain.EventSetupFee,
	}, f.ledgerEventTypes(t))

	f.clk.Advance(32 * 24 * time.Hour)
	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{Processed: 1}, report)

	metrics, err := f.svc.(*service).ledgerSvc.Metrics(context.Background(), club.ID, ledgerdomain.Period{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	// Created + renewed recur; the setup fee only adds to the total.
	assert.Equal(t, int64(300000), metrics.RecurringRevenueCents)
	assert.Equal(t, int64(400000), metrics.TotalRevenueCents)
	assert.Equal(t, int64(1), metrics.CustomerCount)

	// The club may see itself, never its neighbor.
	require.NoError(t, guardSvc.ValidateBoundary(context.Background(), club.ID, club.ID, "ledger.view"))

	var violation *guard.CrossTenantViolation
	err = guardSvc.ValidateBoundary(context.Background(), club.ID, neighbor.ID, "ledger.view")
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, club.ID, violation.RequestingTenant)
	assert.Equal(t, neighbor.ID, violation.TargetTenant)
}
