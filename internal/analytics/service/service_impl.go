package service

import (
	"context"
	"time"

	"github.com/fairwaylabs/fairway/internal/analytics/domain"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	"github.com/fairwaylabs/fairway/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("analytics.service"),
		repo: p.Repo,
	}
}

func (s *Service) Report(ctx context.Context, req domain.ReportRequest) (domain.Report, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Report{}, domain.ErrInvalidTenant
	}
	if req.Start.IsZero() || req.End.IsZero() || !req.Start.Before(req.End) {
		return domain.Report{}, domain.ErrInvalidPeriod
	}

	start := req.Start.UTC()
	end := req.End.UTC()

	// Full history feeds tenure and MRR; the period itself bounds the
	// totals and breakdown.
	events, err := s.repo.ListEvents(ctx, s.db, tenantID, time.Time{}, end)
	if err != nil {
		return domain.Report{}, err
	}
	subs, err := s.repo.ListSubscriptions(ctx, s.db, tenantID)
	if err != nil {
		return domain.Report{}, err
	}

	return buildReport(start, end, events, subs), nil
}

// buildReport is the full reduction, separated out so tests can feed it
// event slices directly.
func buildReport(
	start, end time.Time,
	events []ledgerdomain.RevenueEvent,
	subs []subscriptiondomain.Subscription,
) domain.Report {
	total, breakdown, customers := periodTotals(events, start, end)

	mrr := mrrCents(events, subs)
	periodLen := end.Sub(start)
	currentRecurring := recurringInWindow(events, start, end)
	previousRecurring := recurringInWindow(events, start.Add(-periodLen), start)
	forecast, growthBps := forecastMRR(mrr, currentRecurring, previousRecurring)

	report := domain.Report{
		PeriodStart:       start,
		PeriodEnd:         end,
		MRRCents:          mrr,
		TotalRevenueCents: total,
		CustomerCount:     customers,
		ChurnRiskBps:      churnRiskBps(end, events, subs),
		CLVCents:          clvCents(end, events),
		Breakdown:         breakdown,
		ForecastMRRCents:  forecast,
		GrowthBps:         growthBps,
	}
	if customers > 0 {
		report.ARPUCents = total / customers
	}
	return report
}
