package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fairwaylabs/fairway/internal/clock"
	"github.com/fairwaylabs/fairway/internal/config"
	customerdomain "github.com/fairwaylabs/fairway/internal/customer/domain"
	invoicedomain "github.com/fairwaylabs/fairway/internal/invoice/domain"
	invoicerepository "github.com/fairwaylabs/fairway/internal/invoice/repository"
	invoiceservice "github.com/fairwaylabs/fairway/internal/invoice/service"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	ledgerrepository "github.com/fairwaylabs/fairway/internal/ledger/repository"
	ledgerservice "github.com/fairwaylabs/fairway/internal/ledger/service"
	"github.com/fairwaylabs/fairway/internal/payment"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	subscriptionrepository "github.com/fairwaylabs/fairway/internal/subscription/repository"
	subscriptionservice "github.com/fairwaylabs/fairway/internal/subscription/service"
	"github.com/fairwaylabs/fairway/internal/tenantctx"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	usagedomain "github.com/fairwaylabs/fairway/internal/usage/domain"
)

type tierStub struct {
	byCode map[string]tierdomain.Tier
	byID   map[snowflake.ID]tierdomain.Tier
}

func (s *tierStub) add(tier tierdomain.Tier) {
	s.byCode[tier.Code] = tier
	s.byID[tier.ID] = tier
}

func (s *tierStub) Create(ctx context.Context, req tierdomain.CreateTierRequest) (tierdomain.Tier, error) {
	return tierdomain.Tier{}, nil
}

func (s *tierStub) Update(ctx context.Context, req tierdomain.UpdateTierRequest) (tierdomain.Tier, error) {
	return tierdomain.Tier{}, nil
}

func (s *tierStub) List(ctx context.Context, req tierdomain.ListTierRequest) ([]tierdomain.Tier, error) {
	return nil, nil
}

func (s *tierStub) GetByID(ctx context.Context, id string) (*tierdomain.Tier, error) {
	parsed, err := snowflake.ParseString(id)
	if err != nil {
		return nil, tierdomain.ErrInvalidID
	}
	tier, ok := s.byID[parsed]
	if !ok {
		return nil, tierdomain.ErrTierNotFound
	}
	return &tier, nil
}

func (s *tierStub) GetByCode(ctx context.Context, code string) (*tierdomain.Tier, error) {
	tier, ok := s.byCode[code]
	if !ok {
		return nil, tierdomain.ErrTierNotFound
	}
	return &tier, nil
}

type customerStub struct {
	customers map[snowflake.ID]customerdomain.Customer
}

func (s *customerStub) Create(ctx context.Context, req customerdomain.CreateCustomerRequest) (customerdomain.Customer, error) {
	return customerdomain.Customer{}, nil
}

func (s *customerStub) List(ctx context.Context, req customerdomain.ListCustomerRequest) (customerdomain.ListCustomerResponse, error) {
	return customerdomain.ListCustomerResponse{}, nil
}

func (s *customerStub) GetByID(ctx context.Context, req customerdomain.GetCustomerRequest) (customerdomain.Customer, error) {
	parsed, err := snowflake.ParseString(req.ID)
	if err != nil {
		return customerdomain.Customer{}, customerdomain.ErrInvalidID
	}
	customer, ok := s.customers[parsed]
	if !ok {
		return customerdomain.Customer{}, customerdomain.ErrNotFound
	}
	return customer, nil
}

func (s *customerStub) GetByExternalID(ctx context.Context, externalID string) (customerdomain.Customer, error) {
	return customerdomain.Customer{}, customerdomain.ErrNotFound
}

// usageStub hands back preconfigured overages and records MarkBilled
// calls.
type usageStub struct {
	overages     []usagedomain.OverageCharge
	billedPeriod *usagedomain.Period
}

func (s *usageStub) RecordCall(tenantID snowflake.ID, endpoint string, statusCode int, latencyMS, bytes int64) {
}

func (s *usageStub) CurrentUsage(ctx context.Context, tenantID snowflake.ID) (usagedomain.Usage, error) {
	return usagedomain.Usage{}, nil
}

func (s *usageStub) CheckQuota(ctx context.Context, tenantID snowflake.ID, quota tierdomain.QuotaType) (usagedomain.QuotaStatus, error) {
	return usagedomain.QuotaStatus{WithinLimit: true}, nil
}

func (s *usageStub) CheckRateLimit(ctx context.Context, tenantID snowflake.ID, endpoint string) (usagedomain.RateLimitDecision, error) {
	return usagedomain.RateLimitDecision{Allowed: true}, nil
}

func (s *usageStub) OverageForPeriod(ctx context.Context, tenantID snowflake.ID, period usagedomain.Period, tier tierdomain.Tier) ([]usagedomain.OverageCharge, error) {
	return s.overages, nil
}

func (s *usageStub) MarkBilled(ctx context.Context, tenantID snowflake.ID, period usagedomain.Period, billedAt time.Time) error {
	s.billedPeriod = &period
	return nil
}

func (s *usageStub) Rollups(ctx context.Context, tenantID snowflake.ID) ([]usagedomain.Rollup, error) {
	return nil, nil
}

func (s *usageStub) Flush(ctx context.Context) error { return nil }

func (s *usageStub) Compact(ctx context.Context, now time.Time) error { return nil }

// countingAdapter wraps the fake processor and counts charge attempts.
type countingAdapter struct {
	*payment.FakeAdapter
	mu      sync.Mutex
	charges int
}

func (a *countingAdapter) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	a.mu.Lock()
	a.charges++
	a.mu.Unlock()
	return a.FakeAdapter.Charge(ctx, req)
}

func (a *countingAdapter) chargeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.charges
}

type billingFixture struct {
	svc       Service
	db        *gorm.DB
	node      *snowflake.Node
	clk       *clock.FakeClock
	tiers     *tierStub
	customers *customerStub
	usage     *usageStub
	adapter   *countingAdapter
	subSvc    subscriptiondomain.Service
	tenantID  snowflake.ID
	ctx       context.Context
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()
	return newBillingFixtureWithConfig(t, config.BillingRunConfig{})
}

func newBillingFixtureWithConfig(t *testing.T, run config.BillingRunConfig) *billingFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&ledgerdomain.RevenueEvent{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	tiers := &tierStub{byCode: make(map[string]tierdomain.Tier), byID: make(map[snowflake.ID]tierdomain.Tier)}
	customers := &customerStub{customers: make(map[snowflake.ID]customerdomain.Customer)}
	usage := &usageStub{}

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: ledgerrepository.Provide(),
	})
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: invoicerepository.Provide(), CustomerSvc: customers,
	})
	subSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: subscriptionrepository.Provide(),
		TierSvc: tiers, CustomerSvc: customers, LedgerSvc: ledgerSvc,
	})

	adapter := &countingAdapter{FakeAdapter: payment.NewFakeAdapter()}
	registry := payment.NewRegistry()
	registry.Register(adapter)

	svc := NewService(Params{
		DB:          db,
		Log:         log,
		Clock:       clk,
		Config:      config.Config{Billing: run},
		Processors:  registry,
		CustomerSvc: customers,
		TierSvc:     tiers,
		SubSvc:      subSvc,
		SubRepo:     subscriptionrepository.Provide(),
		InvoiceSvc:  invoiceSvc,
		LedgerSvc:   ledgerSvc,
		UsageSvc:    usage,
	})

	tenantID := node.Generate()
	return &billingFixture{
		svc:       svc,
		db:        db,
		node:      node,
		clk:       clk,
		tiers:     tiers,
		customers: customers,
		usage:     usage,
		adapter:   adapter,
		subSvc:    subSvc,
		tenantID:  tenantID,
		ctx:       tenantctx.WithTenantID(context.Background(), tenantID),
	}
}

func (f *billingFixture) seedCustomer(token string) customerdomain.Customer {
	customer := customerdomain.Customer{
		ID:                 f.node.Generate(),
		TenantID:           f.tenantID,
		Name:               "Cypress Bend GC",
		Email:              "billing@cypressbend.test",
		Currency:           "USD",
		PaymentMethodToken: token,
	}
	f.customers.customers[customer.ID] = customer
	return customer
}

func (f *billingFixture) seedDueSubscription(t *testing.T, token string) subscriptiondomain.Subscription {
	t.Helper()
	customer := f.seedCustomer(token)
	tier := tierdomain.Tier{
		ID:                f.node.Generate(),
		Code:              "COURSE_STANDARD",
		Family:            tierdomain.FamilyCourse,
		Name:              "Course Standard",
		Currency:          "USD",
		MonthlyPriceCents: 19900,
		Active:            true,
	}
	f.tiers.add(tier)

	sub, err := f.subSvc.Create(f.ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID:   customer.ID.String(),
		TierCode:     tier.Code,
		BillingCycle: subscriptiondomain.CycleMonthly,
	})
	require.NoError(t, err)

	// Move past the period end so the renewal is due.
	f.clk.Advance(32 * 24 * time.Hour)
	return sub
}

func (f *billingFixture) reload(t *testing.T, id snowflake.ID) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.subSvc.GetByID(f.ctx, id.String())
	require.NoError(t, err)
	return sub
}

func (f *billingFixture) invoices(t *testing.T) []invoicedomain.Invoice {
	t.Helper()
	var invoices []invoicedomain.Invoice
	require.NoError(t, f.db.Order("id asc").Find(&invoices).Error)
	return invoices
}

func (f *billingFixture) ledgerEventTypes(t *testing.T) []ledgerdomain.EventType {
	t.Helper()
	var events []ledgerdomain.RevenueEvent
	require.NoError(t, f.db.Order("id asc").Find(&events).Error)
	types := make([]ledgerdomain.EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

func TestRunCycleRenewsDueSubscription(t *testing.T) {
	f := newBillingFixture(t)
	sub := f.seedDueSubscription(t, "tok-visa")

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{Processed: 1}, report)

	renewed := f.reload(t, sub.ID)
	assert.True(t, renewed.CurrentPeriodStart.Equal(sub.CurrentPeriodEnd))
	assert.Equal(t, 0, renewed.DunningAttempts)

	invoices := f.invoices(t)
	require.Len(t, invoices, 1)
	assert.Equal(t, invoicedomain.StatusPaid, invoices[0].Status)
	assert.Equal(t, int64(19900), invoices[0].TotalCents)

	assert.Contains(t, f.ledgerEventTypes(t), ledgerdomain.EventSubscriptionRenewed)
}

func TestRunCycleIsIdempotentAcrossRuns(t *testing.T) {
	f := newBillingFixture(t)
	f.seedDueSubscription(t, "tok-visa")

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	// The period advanced, so nothing is due anymore.
	report, err = f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{}, report)
	assert.Len(t, f.invoices(t), 1)
}

func TestRunCycleBillsOverages(t *testing.T) {
	f := newBillingFixture(t)
	sub := f.seedDueSubscription(t, "tok-visa")
	f.usage.overages = []usagedomain.OverageCharge{{
		Quota:        tierdomain.QuotaAPICalls,
		Actual:       1500,
		Included:     1000,
		RateCents:    1,
		OverageCents: 500,
	}}

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	invoices := f.invoices(t)
	require.Len(t, invoices, 1)
	assert.Equal(t, int64(19900+500), invoices[0].TotalCents)

	assert.Contains(t, f.ledgerEventTypes(t), ledgerdomain.EventUsageCharge)

	require.NotNil(t, f.usage.billedPeriod)
	assert.True(t, f.usage.billedPeriod.Start.Equal(sub.CurrentPeriodStart))
	assert.True(t, f.usage.billedPeriod.End.Equal(sub.CurrentPeriodEnd))
}

func TestRunCycleDeclineSchedulesRetry(t *testing.T) {
	f := newBillingFixture(t)
	sub := f.seedDueSubscription(t, "declined-card")

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{Failed: 1}, report)

	flagged := f.reload(t, sub.ID)
	assert.Equal(t, subscriptiondomain.StatusActive, flagged.Status)
	assert.Equal(t, 1, flagged.DunningAttempts)
	assert.Nil(t, flagged.DunningFlaggedAt)

	// First retry follows the first backoff step.
	require.NotNil(t, flagged.NextRenewalAt)
	expected := f.clk.Now().UTC().Add(time.Hour)
	assert.True(t, flagged.NextRenewalAt.Equal(expected))

	// Declines leave no paid invoice behind.
	assert.Empty(t, f.invoices(t))
}

func TestRunCycleFinalDeclineParksSubscription(t *testing.T) {
	f := newBillingFixture(t)
	sub := f.seedDueSubscription(t, "declined-card")

	// Three failed attempts already on record; this decline is the last.
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", sub.ID).
		Update("dunning_attempts", 3).Error)

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{Failed: 1}, report)

	parked := f.reload(t, sub.ID)
	assert.Equal(t, subscriptiondomain.StatusActive, parked.Status)
	assert.Equal(t, 4, parked.DunningAttempts)
	assert.Nil(t, parked.NextRenewalAt)
	assert.NotNil(t, parked.DunningFlaggedAt)

	// The unpaid renewal leaves an OVERDUE invoice for manual follow-up.
	invoices := f.invoices(t)
	require.Len(t, invoices, 1)
	assert.Equal(t, invoicedomain.StatusOverdue, invoices[0].Status)
	assert.Equal(t, int64(19900), invoices[0].TotalCents)
}

func TestRunCycleProcessorErrorLeavesSubscriptionDue(t *testing.T) {
	f := newBillingFixture(t)
	sub := f.seedDueSubscription(t, "error-gateway")

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{Failed: 1}, report)

	// Ambiguous outcome: no dunning, no period advance. The next run
	// replays the charge under the same idempotency key.
	unchanged := f.reload(t, sub.ID)
	assert.Equal(t, 0, unchanged.DunningAttempts)
	require.NotNil(t, unchanged.NextRenewalAt)
	assert.True(t, unchanged.NextRenewalAt.Equal(sub.CurrentPeriodEnd))
}

func TestRunCycleProcessorErrorNotRetriedWithinRun(t *testing.T) {
	// Batch size 1 forces the claim loop to refetch; the still-due
	// subscription must not be picked up again by the same run.
	f := newBillingFixtureWithConfig(t, config.BillingRunConfig{BatchSize: 1})
	sub := f.seedDueSubscription(t, "error-gateway")

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{Failed: 1}, report)

	// Exactly one attempt; the replay belongs to the next cycle run.
	assert.Equal(t, 1, f.adapter.chargeCount())

	unchanged := f.reload(t, sub.ID)
	assert.Equal(t, 0, unchanged.DunningAttempts)
	require.NotNil(t, unchanged.NextRenewalAt)
	assert.True(t, unchanged.NextRenewalAt.Equal(sub.CurrentPeriodEnd))
}

func TestRunCycleHonorsCancellation(t *testing.T) {
	f := newBillingFixture(t)
	f.seedDueSubscription(t, "tok-visa")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCycleNothingDue(t *testing.T) {
	f := newBillingFixture(t)

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{}, report)
}

func TestProcessPaymentSettlesAddOn(t *testing.T) {
	f := newBillingFixture(t)
	customer := f.seedCustomer("tok-visa")

	result, err := f.svc.ProcessPayment(f.ctx, ProcessPaymentRequest{
		CustomerID:  customer.ID.String(),
		AmountCents: 7500,
		Description: "Tournament entry",
	})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSucceeded, result.Status)
	assert.NotEmpty(t, result.ProcessorReference)

	invoices := f.invoices(t)
	require.Len(t, invoices, 1)
	assert.Equal(t, invoicedomain.StatusPaid, invoices[0].Status)
	assert.Equal(t, int64(7500), invoices[0].TotalCents)

	assert.Contains(t, f.ledgerEventTypes(t), ledgerdomain.EventAddOnPurchase)
}

func TestProcessPaymentDeclined(t *testing.T) {
	f := newBillingFixture(t)
	customer := f.seedCustomer("declined-card")

	result, err := f.svc.ProcessPayment(f.ctx, ProcessPaymentRequest{
		CustomerID:  customer.ID.String(),
		AmountCents: 7500,
	})
	assert.ErrorIs(t, err, payment.ErrDeclined)

	// The invoice stays open and no revenue is recorded.
	invoice, getErr := f.svc.(*service).invoiceSvc.GetByID(f.ctx, result.InvoiceID.String())
	require.NoError(t, getErr)
	assert.Equal(t, invoicedomain.StatusSent, invoice.Status)
	assert.Empty(t, f.ledgerEventTypes(t))
}

func TestProcessPaymentRequiresVaultedToken(t *testing.T) {
	f := newBillingFixture(t)
	customer := f.seedCustomer("")

	_, err := f.svc.ProcessPayment(f.ctx, ProcessPaymentRequest{
		CustomerID:  customer.ID.String(),
		AmountCents: 7500,
	})
	assert.ErrorIs(t, err, payment.ErrInvalidToken)
}

func TestPayInvoiceSettlesOpenInvoice(t *testing.T) {
	f := newBillingFixture(t)
	customer := f.seedCustomer("tok-visa")

	invoice, err := f.svc.CreateInvoice(f.ctx, invoicedomain.CreateInvoiceRequest{
		TenantID:   f.tenantID,
		CustomerID: customer.ID,
		Currency:   "USD",
		DueAt:      f.clk.Now().AddDate(0, 0, 14),
		Lines:      []invoicedomain.LineInput{{Description: "Pro-shop order", AmountCents: 12000}},
	})
	require.NoError(t, err)

	// Drafts cannot be paid.
	_, err = f.svc.PayInvoice(f.ctx, invoice.ID.String())
	var transition *invoicedomain.InvalidStatusTransition
	assert.ErrorAs(t, err, &transition)

	_, err = f.svc.(*service).invoiceSvc.Send(f.ctx, f.tenantID, invoice.ID)
	require.NoError(t, err)

	paid, err := f.svc.PayInvoice(f.ctx, invoice.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
}
