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
	"github.com/fairwaylabs/fairway/internal/ledger/domain"
	"github.com/fairwaylabs/fairway/internal/ledger/repository"
	"github.com/fairwaylabs/fairway/internal/tenantctx"
)

func setupLedgerTest(t *testing.T) (domain.Service, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.RevenueEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, node, clk
}

func chargeRequest(tenantID snowflake.ID, eventID string, occurredAt time.Time) domain.RecordRequest {
	return domain.RecordRequest{
		EventID:     eventID,
		TenantID:    tenantID,
		Type:        domain.EventSubscriptionRenewed,
		AmountCents: 19900,
		Currency:    "usd",
		OccurredAt:  occurredAt,
	}
}

func TestRecordNormalizesDefaults(t *testing.T) {
	svc, node, clk := setupLedgerTest(t)
	tenantID := node.Generate()

	event, err := svc.Record(context.Background(), chargeRequest(tenantID, "renewal:1:1", clk.Now()))
	require.NoError(t, err)

	assert.Equal(t, domain.StreamAPI, event.Stream)
	assert.Equal(t, domain.SourceInternal, event.Source)
	assert.Equal(t, "USD", event.Currency)
	assert.NotZero(t, event.ID)
}

func TestRecordReplaySameContentReturnsStoredEvent(t *testing.T) {
	svc, node, clk := setupLedgerTest(t)
	tenantID := node.Generate()
	req := chargeRequest(tenantID, "renewal:1:1", clk.Now())

	first, err := svc.Record(context.Background(), req)
	require.NoError(t, err)

	replay, err := svc.Record(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, first.AmountCents, replay.AmountCents)
}

func TestRecordReplayDifferentContentRejected(t *testing.T) {
	svc, node, clk := setupLedgerTest(t)
	tenantID := node.Generate()
	req := chargeRequest(tenantID, "renewal:1:1", clk.Now())

	_, err := svc.Record(context.Background(), req)
	require.NoError(t, err)

	req.AmountCents = 29900
	_, err = svc.Record(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrDuplicateEvent)
}

func TestRecordSameEventIDDifferentTenants(t *testing.T) {
	svc, node, clk := setupLedgerTest(t)

	first, err := svc.Record(context.Background(), chargeRequest(node.Generate(), "renewal:1:1", clk.Now()))
	require.NoError(t, err)
	second, err := svc.Record(context.Background(), chargeRequest(node.Generate(), "renewal:1:1", clk.Now()))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRecordNegativeAmountOnlyForRefundsAndMigrations(t *testing.T) {
	svc, node, clk := setupLedgerTest(t)
	tenantID := node.Generate()

	req := chargeRequest(tenantID, "charge:1", clk.Now())
	req.AmountCents = -500
	_, err := svc.Record(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	req.EventID = "refund:1"
	req.Type = domain.EventRefund
	_, err = svc.Record(context.Background(), req)
	assert.NoError(t, err)

	req.EventID = "migration:1"
	req.Type = domain.EventMigration
	_, err = svc.Record(context.Background(), req)
	assert.NoError(t, err)
}

func TestRecordValidation(t *testing.T) {
	svc, node, clk := setupLedgerTest(t)
	tenantID := node.Generate()

	tests := []struct {
		name    string
		mutate  func(*domain.RecordRequest)
		wantErr error
	}{
		{"missing tenant", func(r *domain.RecordRequest) { r.TenantID = 0 }, domain.ErrInvalidTenant},
		{"blank event id", func(r *domain.RecordRequest) { r.EventID = "  " }, domain.ErrInvalidEventID},
		{"unknown type", func(r *domain.RecordRequest) { r.Type = "coupon" }, domain.ErrInvalidEventType},
		{"blank currency", func(r *domain.RecordRequest) { r.Currency = "" }, domain.ErrInvalidCurrency},
		{"zero occurred at", func(r *domain.RecordRequest) { r.OccurredAt = time.Time{} }, domain.ErrInvalidOccurredAt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := chargeRequest(tenantID, "charge:1", clk.Now())
			tt.mutate(&req)
			_, err := svc.Record(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestQueryIsTenantScoped(t *testing.T) {
	svc, node, clk := setupLedgerTest(t)
	mine := node.Generate()
	theirs := node.Generate()

	_, err := svc.Record(context.Background(), chargeRequest(mine, "renewal:1:1", clk.Now()))
	require.NoError(t, err)
	_, err = svc.Record(context.Background(), chargeRequest(theirs, "renewal:2:1", clk.Now()))
	require.NoError(t, err)

	ctx := tenantctx.WithTenantID(context.Background(), mine)
	resp, err := svc.Query(ctx, domain.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, mine, resp.Events[0].TenantID)

	_, err = svc.Query(context.Background(), domain.QueryRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidTenant)
}

func TestQueryFiltersByTypeAndWindow(t *testing.T) {
	svc, node, clk := setupLedgerTest(t)
	tenantID := node.Generate()
	base := clk.Now()

	renewal := chargeRequest(tenantID, "renewal:1:1", base)
	_, err := svc.Record(context.Background(), renewal)
	require.NoError(t, err)

	refund := chargeRequest(tenantID, "refund:1", base.Add(48*time.Hour))
	refund.Type = domain.EventRefund
	refund.AmountCents = -19900
	_, err = svc.Record(context.Background(), refund)
	require.NoError(t, err)

	ctx := tenantctx.WithTenantID(context.Background(), tenantID)

	resp, err := svc.Query(ctx, domain.QueryRequest{Type: domain.EventRefund})
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, domain.EventRefund, resp.Events[0].Type)

	end := base.Add(time.Hour)
	resp, err = svc.Query(ctx, domain.QueryRequest{EndAt: &end})
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, domain.EventSubscriptionRenewed, resp.Events[0].Type)
}

func TestMetricsReducesPeriod(t *testing.T) {
	svc, node, clk := setupLedgerTest(t)
	tenantID := node.Generate()
	base := clk.Now()
	customerA := node.Generate()
	customerB := node.Generate()

	created := chargeRequest(tenantID, "created:1", base)
	created.Type = domain.EventSubscriptionCreated
	created.CustomerID = &customerA
	_, err := svc.Record(context.Background(), created)
	require.NoError(t, err)

	renewed := chargeRequest(tenantID, "renewal:2:1", base.Add(time.Hour))
	renewed.CustomerID = &customerB
	_, err = svc.Record(context.Background(), renewed)
	require.NoError(t, err)

	addon := chargeRequest(tenantID, "addon:1", base.Add(2*time.Hour))
	addon.Type = domain.EventAddOnPurchase
	addon.AmountCents = 5000
	addon.CustomerID = &customerA
	_, err = svc.Record(context.Background(), addon)
	require.NoError(t, err)

	// Outside the period, must not count.
	late := chargeRequest(tenantID, "renewal:2:2", base.Add(40*24*time.Hour))
	late.CustomerID = &customerB
	_, err = svc.Record(context.Background(), late)
	require.NoError(t, err)

	metrics, err := svc.Metrics(context.Background(), tenantID, domain.Period{
		Start: base,
		End:   base.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(19900+19900+5000), metrics.TotalRevenueCents)
	assert.Equal(t, int64(19900+19900), metrics.RecurringRevenueCents)
	assert.Equal(t, int64(2), metrics.CustomerCount)
	assert.Equal(t, int64((19900+19900+5000)/2), metrics.ARPUCents)
}
