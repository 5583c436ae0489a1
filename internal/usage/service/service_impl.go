package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/clock"
	"github.com/fairwaylabs/fairway/internal/config"
	obsmetrics "github.com/fairwaylabs/fairway/internal/observability/metrics"
	"github.com/fairwaylabs/fairway/internal/ratelimit"
	tenantdomain "github.com/fairwaylabs/fairway/internal/tenant/domain"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	"github.com/fairwaylabs/fairway/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Lc         fx.Lifecycle
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	TenantSvc  tenantdomain.Service
	Limiter    ratelimit.Limiter
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	tenantSvc  tenantdomain.Service
	limiter    ratelimit.Limiter
	obsMetrics *obsmetrics.Metrics

	recorder *recorder
	queue    chan domain.Sample
	done     chan struct{}
}

func NewService(p Params) domain.Service {
	queueSize := p.Cfg.Usage.QueueSize
	if queueSize <= 0 {
		queueSize = 65536
	}

	s := &Service{
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		tenantSvc:  p.TenantSvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
		recorder:   newRecorder(),
		queue:      make(chan domain.Sample, queueSize),
		done:       make(chan struct{}),
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.ingestLoop()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(s.queue)
			<-s.done
			return s.Flush(ctx)
		},
	})

	return s
}

func (s *Service) ingestLoop() {
	defer close(s.done)
	for sample := range s.queue {
		s.recorder.add(sample)
	}
}

func (s *Service) RecordCall(tenantID snowflake.ID, endpoint string, statusCode int, latencyMS, bytes int64) {
	if tenantID == 0 {
		return
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = "unknown"
	}

	sample := domain.Sample{
		TenantID:   tenantID,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		LatencyMS:  latencyMS,
		Bytes:      bytes,
		At:         s.clock.Now(),
	}

	select {
	case s.queue <- sample:
		if s.obsMetrics != nil {
			s.obsMetrics.IncMeterCall(tenantID.String())
		}
	default:
		// Queue full. Metering must never slow a tenant request, so the
		// sample is dropped and the loss is counted.
		if s.obsMetrics != nil {
			s.obsMetrics.IncMeterDropped()
		}
		s.log.Warn("usage sample dropped", zap.String("tenant_id", tenantID.String()))
	}
}

func (s *Service) CurrentUsage(ctx context.Context, tenantID snowflake.ID) (domain.Usage, error) {
	if tenantID == 0 {
		return domain.Usage{}, domain.ErrInvalidTenant
	}

	now := s.clock.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	persisted, err := s.repo.SumPeriod(ctx, s.db, tenantID, domain.Period{Start: monthStart, End: now.Add(time.Minute)})
	if err != nil {
		return domain.Usage{}, err
	}

	pending := s.recorder.pending(tenantID)
	return domain.Usage{
		Calls: persisted.Calls + pending.Calls,
		Bytes: persisted.Bytes + pending.Bytes,
	}, nil
}

func (s *Service) CheckQuota(ctx context.Context, tenantID snowflake.ID, quota tierdomain.QuotaType) (domain.QuotaStatus, error) {
	if tenantID == 0 {
		return domain.QuotaStatus{}, domain.ErrInvalidTenant
	}
	if quota != tierdomain.QuotaAPICalls {
		return domain.QuotaStatus{}, domain.ErrInvalidQuota
	}

	tenant, err := s.tenantSvc.GetByID(ctx, tenantID.String())
	if err != nil {
		return domain.QuotaStatus{}, err
	}

	usage, err := s.CurrentUsage(ctx, tenantID)
	if err != nil {
		return domain.QuotaStatus{}, err
	}

	limit := tenant.Limits.MaxAPICallsPerMonth
	status := domain.QuotaStatus{
		Used:        usage.Calls,
		Limit:       limit,
		WithinLimit: true,
	}
	// Zero means unlimited.
	if limit > 0 && usage.Calls > limit {
		status.WithinLimit = false
	}
	return status, nil
}

func (s *Service) CheckRateLimit(ctx context.Context, tenantID snowflake.ID, endpoint string) (domain.RateLimitDecision, error) {
	if tenantID == 0 {
		return domain.RateLimitDecision{}, domain.ErrInvalidTenant
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = "unknown"
	}

	ceiling := s.cfg.RateLimit.DefaultCeiling
	windowSeconds := s.cfg.RateLimit.DefaultWindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	if ceiling <= 0 {
		ceiling = 600
	}

	if tenant, err := s.tenantSvc.GetByID(ctx, tenantID.String()); err == nil {
		if raw, ok := tenant.Features["rate_ceiling_per_window"]; ok {
			if v, ok := raw.(float64); ok && v > 0 {
				ceiling = int(v)
			}
		}
	}

	key := fmt.Sprintf("rl:%s:%s", tenantID, endpoint)
	rate := float64(ceiling) / float64(windowSeconds)
	result, err := s.limiter.Allow(ctx, key, rate, ceiling)
	if err != nil {
		// Fail open: a broken limiter backend must not take tenant
		// traffic down with it.
		s.log.Warn("rate limiter unavailable", zap.Error(err))
		return domain.RateLimitDecision{Allowed: true}, nil
	}

	decision := domain.RateLimitDecision{
		Allowed:    result.Allowed,
		RetryAfter: result.RetryAfter,
	}
	if !decision.Allowed && s.obsMetrics != nil {
		s.obsMetrics.IncRateLimitDenied(tenantID.String())
	}
	return decision, nil
}

func (s *Service) OverageForPeriod(ctx context.Context, tenantID snowflake.ID, period domain.Period, tier tierdomain.Tier) ([]domain.OverageCharge, error) {
	if tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}
	if period.Start.IsZero() || !period.Start.Before(period.End) {
		return nil, domain.ErrInvalidPeriod
	}

	usage, err := s.repo.SumPeriod(ctx, s.db, tenantID, period)
	if err != nil {
		return nil, err
	}

	actuals := map[tierdomain.QuotaType]int64{
		tierdomain.QuotaAPICalls:    usage.Calls,
		tierdomain.QuotaBandwidthGB: ceilDiv(usage.Bytes, 1_000_000_000),
	}

	var charges []domain.OverageCharge
	for _, quota := range []tierdomain.QuotaType{tierdomain.QuotaAPICalls, tierdomain.QuotaBandwidthGB} {
		included := tier.IncludedFor(quota)
		rate := tier.OverageRateFor(quota)
		if included == 0 && rate == 0 {
			continue
		}
		actual := actuals[quota]
		excess := actual - included
		if excess < 0 {
			excess = 0
		}
		charges = append(charges, domain.OverageCharge{
			Quota:        quota,
			Actual:       actual,
			Included:     included,
			RateCents:    rate,
			OverageCents: excess * rate,
		})
	}
	return charges, nil
}

func (s *Service) MarkBilled(ctx context.Context, tenantID snowflake.ID, period domain.Period, billedAt time.Time) error {
	if tenantID == 0 {
		return domain.ErrInvalidTenant
	}
	return s.repo.MarkBilled(ctx, s.db, tenantID, period, billedAt)
}

func (s *Service) Rollups(ctx context.Context, tenantID snowflake.ID) ([]domain.Rollup, error) {
	if tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListByTenant(ctx, s.db, tenantID)
}

func (s *Service) Flush(ctx context.Context) error {
	now := s.clock.Now().UTC()
	buckets := s.recorder.drain(now)
	if len(buckets) == 0 {
		return nil
	}

	for key, agg := range buckets {
		rollup := domain.Rollup{
			ID:           s.genID.Generate(),
			TenantID:     key.tenantID,
			Endpoint:     key.endpoint,
			BucketStart:  time.Unix(key.minute, 0).UTC(),
			Granularity:  domain.GranularityMinute,
			Calls:        agg.calls,
			Bytes:        agg.bytes,
			Errors:       agg.errors,
			LatencyMSSum: agg.latencyMSSum,
			LatencyMSMax: agg.latencyMSMax,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.UpsertAdd(ctx, s.db, &rollup); err != nil {
			s.log.Error("usage flush failed",
				zap.String("tenant_id", key.tenantID.String()),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

func (s *Service) Compact(ctx context.Context, now time.Time) error {
	if err := s.compactLevel(ctx, domain.GranularityMinute, domain.GranularityHour,
		now.Add(-2*time.Hour), time.Hour); err != nil {
		return err
	}
	if err := s.compactLevel(ctx, domain.GranularityHour, domain.GranularityDay,
		now.Add(-48*time.Hour), 24*time.Hour); err != nil {
		return err
	}

	retentionDays := s.cfg.Usage.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 45
	}
	purged, err := s.repo.PurgeBilled(ctx, s.db, now.AddDate(0, 0, -retentionDays))
	if err != nil {
		return err
	}
	if purged > 0 {
		s.log.Info("purged billed usage rollups", zap.Int64("rows", purged))
	}
	return nil
}

func (s *Service) compactLevel(ctx context.Context, from, to domain.Granularity, olderThan time.Time, width time.Duration) error {
	const batch = 2000

	for {
		rows, err := s.repo.ListCompactable(ctx, s.db, from, olderThan, batch)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		type target struct {
			tenantID snowflake.ID
			endpoint string
			start    time.Time
		}
		merged := make(map[target]*domain.Rollup)
		ids := make([]snowflake.ID, 0, len(rows))
		now := s.clock.Now().UTC()

		for _, row := range rows {
			key := target{
				tenantID: row.TenantID,
				endpoint: row.Endpoint,
				start:    row.BucketStart.UTC().Truncate(width),
			}
			agg, ok := merged[key]
			if !ok {
				agg = &domain.Rollup{
					ID:          s.genID.Generate(),
					TenantID:    key.tenantID,
					Endpoint:    key.endpoint,
					BucketStart: key.start,
					Granularity: to,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				merged[key] = agg
			}
			agg.Calls += row.Calls
			agg.Bytes += row.Bytes
			agg.Errors += row.Errors
			agg.LatencyMSSum += row.LatencyMSSum
			if row.LatencyMSMax > agg.LatencyMSMax {
				agg.LatencyMSMax = row.LatencyMSMax
			}
			ids = append(ids, row.ID)
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, rollup := range merged {
				if err := s.repo.UpsertAdd(ctx, tx, rollup); err != nil {
					return err
				}
			}
			return s.repo.DeleteBuckets(ctx, tx, ids)
		})
		if err != nil {
			return err
		}
		if len(rows) < batch {
			return nil
		}
	}
}

func ceilDiv(value, unit int64) int64 {
	if unit <= 0 || value <= 0 {
		return 0
	}
	return (value + unit - 1) / unit
}
