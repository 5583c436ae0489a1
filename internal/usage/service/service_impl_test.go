package service

import (
	"context"
	"errors"
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
	"github.com/fairwaylabs/fairway/internal/ratelimit"
	tenantdomain "github.com/fairwaylabs/fairway/internal/tenant/domain"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	"github.com/fairwaylabs/fairway/internal/usage/domain"
	"github.com/fairwaylabs/fairway/internal/usage/repository"
)

type tenantSvcStub struct {
	tenants map[snowflake.ID]*tenantdomain.Tenant
}

func (s *tenantSvcStub) Create(ctx context.Context, req tenantdomain.CreateTenantRequest) (*tenantdomain.Tenant, error) {
	return nil, nil
}

func (s *tenantSvcStub) GetByID(ctx context.Context, id string) (*tenantdomain.Tenant, error) {
	parsed, err := snowflake.ParseString(id)
	if err != nil {
		return nil, tenantdomain.ErrInvalidTenant
	}
	tenant, ok := s.tenants[parsed]
	if !ok {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return tenant, nil
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
	return false, nil
}

type limiterStub struct {
	result *ratelimit.Result
	err    error
}

func (l *limiterStub) Allow(ctx context.Context, key string, rate float64, burst int) (*ratelimit.Result, error) {
	return l.result, l.err
}

type usageFixture struct {
	svc     *Service
	db      *gorm.DB
	node    *snowflake.Node
	clk     *clock.FakeClock
	tenants *tenantSvcStub
	limiter *limiterStub
}

func newUsageFixture(t *testing.T) *usageFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Rollup{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 6, 10, 14, 30, 0, 0, time.UTC))
	tenants := &tenantSvcStub{tenants: make(map[snowflake.ID]*tenantdomain.Tenant)}
	limiter := &limiterStub{result: &ratelimit.Result{Allowed: true}}

	svc := &Service{
		cfg:       config.Config{},
		db:        db,
		log:       zap.NewNop(),
		genID:     node,
		clock:     clk,
		repo:      repository.Provide(),
		tenantSvc: tenants,
		limiter:   limiter,
		recorder:  newRecorder(),
		queue:     make(chan domain.Sample, 16),
		done:      make(chan struct{}),
	}
	return &usageFixture{svc: svc, db: db, node: node, clk: clk, tenants: tenants, limiter: limiter}
}

func (f *usageFixture) seedTenant(limits tenantdomain.ResourceLimits) snowflake.ID {
	id := f.node.Generate()
	f.tenants.tenants[id] = &tenantdomain.Tenant{
		ID:     id,
		Slug:   "pinehurst",
		Name:   "Pinehurst",
		Type:   tenantdomain.TenantTypeGolfCourse,
		Status: tenantdomain.TenantStatusActive,
		Limits: limits,
	}
	return id
}

func (f *usageFixture) seedRollup(t *testing.T, tenantID snowflake.ID, bucket time.Time, calls, bytes int64) {
	t.Helper()
	require.NoError(t, f.svc.repo.UpsertAdd(context.Background(), f.db, &domain.Rollup{
		ID:          f.node.Generate(),
		TenantID:    tenantID,
		Endpoint:    "/v1/tee-times",
		BucketStart: bucket,
		Granularity: domain.GranularityMinute,
		Calls:       calls,
		Bytes:       bytes,
		CreatedAt:   f.clk.Now(),
		UpdatedAt:   f.clk.Now(),
	}))
}

func TestCurrentUsageSumsPersistedAndPending(t *testing.T) {
	f := newUsageFixture(t)
	tenantID := f.node.Generate()

	f.seedRollup(t, tenantID, f.clk.Now().Add(-2*time.Hour), 100, 4096)

	// Two samples still sitting in the in-memory recorder.
	for range 2 {
		f.svc.recorder.add(domain.Sample{
			TenantID: tenantID,
			Endpoint: "/v1/tee-times",
			Bytes:    512,
			At:       f.clk.Now(),
		})
	}

	usage, err := f.svc.CurrentUsage(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(102), usage.Calls)
	assert.Equal(t, int64(4096+1024), usage.Bytes)
}

func TestCheckQuotaFlipsPastLimit(t *testing.T) {
	f := newUsageFixture(t)
	tenantID := f.seedTenant(tenantdomain.ResourceLimits{MaxAPICallsPerMonth: 1000})

	f.seedRollup(t, tenantID, f.clk.Now().Add(-time.Hour), 1000, 0)

	status, err := f.svc.CheckQuota(context.Background(), tenantID, tierdomain.QuotaAPICalls)
	require.NoError(t, err)
	assert.True(t, status.WithinLimit)
	assert.Equal(t, int64(1000), status.Used)

	// The 1001st call is the first one over.
	f.svc.recorder.add(domain.Sample{TenantID: tenantID, Endpoint: "/v1/tee-times", At: f.clk.Now()})

	status, err = f.svc.CheckQuota(context.Background(), tenantID, tierdomain.QuotaAPICalls)
	require.NoError(t, err)
	assert.False(t, status.WithinLimit)
	assert.Equal(t, int64(1001), status.Used)
}

func TestCheckQuotaZeroLimitIsUnlimited(t *testing.T) {
	f := newUsageFixture(t)
	tenantID := f.seedTenant(tenantdomain.ResourceLimits{})

	f.seedRollup(t, tenantID, f.clk.Now().Add(-time.Hour), 1_000_000, 0)

	status, err := f.svc.CheckQuota(context.Background(), tenantID, tierdomain.QuotaAPICalls)
	require.NoError(t, err)
	assert.True(t, status.WithinLimit)
}

func TestCheckQuotaOnlyAPICallsEnforced(t *testing.T) {
	f := newUsageFixture(t)
	_, err := f.svc.CheckQuota(context.Background(), f.node.Generate(), tierdomain.QuotaStorageGB)
	assert.ErrorIs(t, err, domain.ErrInvalidQuota)
}

func TestRecordCallDropsWhenQueueFull(t *testing.T) {
	f := newUsageFixture(t)
	f.svc.queue = make(chan domain.Sample, 1)
	tenantID := f.node.Generate()

	f.svc.RecordCall(tenantID, "/v1/tee-times", 200, 12, 256)
	f.svc.RecordCall(tenantID, "/v1/tee-times", 200, 12, 256)

	// One queued, one dropped, nothing blocked.
	assert.Equal(t, 1, len(f.svc.queue))
}

func TestFlushWritesClosedMinuteBuckets(t *testing.T) {
	f := newUsageFixture(t)
	tenantID := f.node.Generate()

	past := f.clk.Now().Add(-5 * time.Minute)
	f.svc.recorder.add(domain.Sample{TenantID: tenantID, Endpoint: "/v1/tee-times", StatusCode: 200, LatencyMS: 20, Bytes: 100, At: past})
	f.svc.recorder.add(domain.Sample{TenantID: tenantID, Endpoint: "/v1/tee-times", StatusCode: 502, LatencyMS: 80, Bytes: 50, At: past})
	// Open bucket, must survive the flush.
	f.svc.recorder.add(domain.Sample{TenantID: tenantID, Endpoint: "/v1/scores", StatusCode: 200, LatencyMS: 5, Bytes: 10, At: f.clk.Now()})

	require.NoError(t, f.svc.Flush(context.Background()))

	var rollups []domain.Rollup
	require.NoError(t, f.db.Find(&rollups).Error)
	require.Len(t, rollups, 1)
	assert.Equal(t, "/v1/tee-times", rollups[0].Endpoint)
	assert.Equal(t, int64(2), rollups[0].Calls)
	assert.Equal(t, int64(150), rollups[0].Bytes)
	assert.Equal(t, int64(1), rollups[0].Errors)
	assert.Equal(t, int64(100), rollups[0].LatencyMSSum)
	assert.Equal(t, int64(80), rollups[0].LatencyMSMax)

	pending := f.svc.recorder.pending(tenantID)
	assert.Equal(t, int64(1), pending.Calls)
}

func TestOverageForPeriodPricesExcess(t *testing.T) {
	f := newUsageFixture(t)
	tenantID := f.node.Generate()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	// 1500 calls and 2.5 GB of transfer inside the period.
	f.seedRollup(t, tenantID, start.Add(time.Hour), 1500, 2_500_000_000)

	tier := tierdomain.Tier{
		IncludedAPICalls:  1000,
		IncludedBandwidth: 1,
		OverageRates: map[string]any{
			string(tierdomain.QuotaAPICalls):    float64(1),
			string(tierdomain.QuotaBandwidthGB): float64(100),
		},
	}

	charges, err := f.svc.OverageForPeriod(context.Background(), tenantID, domain.Period{Start: start, End: end}, tier)
	require.NoError(t, err)
	require.Len(t, charges, 2)

	assert.Equal(t, tierdomain.QuotaAPICalls, charges[0].Quota)
	assert.Equal(t, int64(1500), charges[0].Actual)
	assert.Equal(t, int64(500), charges[0].OverageCents)

	// Partial gigabytes round up before pricing.
	assert.Equal(t, tierdomain.QuotaBandwidthGB, charges[1].Quota)
	assert.Equal(t, int64(3), charges[1].Actual)
	assert.Equal(t, int64(200), charges[1].OverageCents)
}

func TestOverageForPeriodUnderAllowanceIsZero(t *testing.T) {
	f := newUsageFixture(t)
	tenantID := f.node.Generate()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	f.seedRollup(t, tenantID, start.Add(time.Hour), 400, 0)

	tier := tierdomain.Tier{
		IncludedAPICalls: 1000,
		OverageRates:     map[string]any{string(tierdomain.QuotaAPICalls): float64(1)},
	}

	charges, err := f.svc.OverageForPeriod(context.Background(), tenantID, domain.Period{Start: start, End: end}, tier)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, int64(0), charges[0].OverageCents)
}

func TestOverageForPeriodRejectsInvalidPeriod(t *testing.T) {
	f := newUsageFixture(t)
	now := f.clk.Now()
	_, err := f.svc.OverageForPeriod(context.Background(), f.node.Generate(), domain.Period{Start: now, End: now}, tierdomain.Tier{})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestCheckRateLimitFailsOpen(t *testing.T) {
	f := newUsageFixture(t)
	f.limiter.err = errors.New("redis gone")

	decision, err := f.svc.CheckRateLimit(context.Background(), f.node.Generate(), "/v1/tee-times")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckRateLimitDenialCarriesRetryAfter(t *testing.T) {
	f := newUsageFixture(t)
	f.limiter.result = &ratelimit.Result{Allowed: false, RetryAfter: 30 * time.Second}

	decision, err := f.svc.CheckRateLimit(context.Background(), f.node.Generate(), "/v1/tee-times")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 30*time.Second, decision.RetryAfter)
}

func TestRollupsReturnsOnlyOwnTenant(t *testing.T) {
	f := newUsageFixture(t)
	owner := f.node.Generate()
	other := f.node.Generate()

	f.seedRollup(t, owner, f.clk.Now().Add(-2*time.Hour), 100, 4096)
	f.seedRollup(t, owner, f.clk.Now().Add(-time.Hour), 50, 1024)
	f.seedRollup(t, other, f.clk.Now().Add(-time.Hour), 999, 8192)

	rollups, err := f.svc.Rollups(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	for _, rollup := range rollups {
		assert.Equal(t, owner, rollup.TenantID)
	}
	// Oldest bucket first.
	assert.True(t, rollups[0].BucketStart.Before(rollups[1].BucketStart))

	_, err = f.svc.Rollups(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTenant)
}

func TestCompactMergesMinuteIntoHour(t *testing.T) {
	f := newUsageFixture(t)
	tenantID := f.node.Generate()

	// Two minute buckets in the same hour, three hours old.
	hour := f.clk.Now().Add(-3 * time.Hour).Truncate(time.Hour)
	f.seedRollup(t, tenantID, hour.Add(5*time.Minute), 10, 1000)
	f.seedRollup(t, tenantID, hour.Add(20*time.Minute), 15, 2000)

	require.NoError(t, f.svc.Compact(context.Background(), f.clk.Now()))

	var minutes []domain.Rollup
	require.NoError(t, f.db.Where("granularity = ?", domain.GranularityMinute).Find(&minutes).Error)
	assert.Empty(t, minutes)

	var hours []domain.Rollup
	require.NoError(t, f.db.Where("granularity = ?", domain.GranularityHour).Find(&hours).Error)
	require.Len(t, hours, 1)
	assert.Equal(t, int64(25), hours[0].Calls)
	assert.Equal(t, int64(3000), hours[0].Bytes)
	assert.True(t, hours[0].BucketStart.Equal(hour))
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, int64(0), ceilDiv(0, 1_000_000_000))
	assert.Equal(t, int64(1), ceilDiv(1, 1_000_000_000))
	assert.Equal(t, int64(1), ceilDiv(1_000_000_000, 1_000_000_000))
	assert.Equal(t, int64(2), ceilDiv(1_000_000_001, 1_000_000_000))
}
