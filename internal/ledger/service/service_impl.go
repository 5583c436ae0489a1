package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fairwaylabs/fairway/internal/audit/domain"
	"github.com/fairwaylabs/fairway/internal/clock"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	obsmetrics "github.com/fairwaylabs/fairway/internal/observability/metrics"
	"github.com/fairwaylabs/fairway/internal/tenantctx"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       ledgerdomain.Repository
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Record(ctx context.Context, req ledgerdomain.RecordRequest) (ledgerdomain.RevenueEvent, error) {
	return s.RecordTx(ctx, s.db, req)
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.RecordRequest) (ledgerdomain.RevenueEvent, error) {
	if tx == nil {
		tx = s.db
	}
	if req.TenantID == 0 {
		return ledgerdomain.RevenueEvent{}, ledgerdomain.ErrInvalidTenant
	}
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		return ledgerdomain.RevenueEvent{}, ledgerdomain.ErrInvalidEventID
	}
	if !validEventType(req.Type) {
		return ledgerdomain.RevenueEvent{}, ledgerdomain.ErrInvalidEventType
	}
	// Charges are non-negative; only refunds and migration corrections
	// may carry a negative amount.
	if req.AmountCents < 0 && req.Type != ledgerdomain.EventRefund && req.Type != ledgerdomain.EventMigration {
		return ledgerdomain.RevenueEvent{}, ledgerdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return ledgerdomain.RevenueEvent{}, ledgerdomain.ErrInvalidCurrency
	}
	if req.OccurredAt.IsZero() {
		return ledgerdomain.RevenueEvent{}, ledgerdomain.ErrInvalidOccurredAt
	}

	stream := req.Stream
	if stream == "" {
		stream = ledgerdomain.StreamAPI
	}
	source := req.Source
	if source == "" {
		source = ledgerdomain.SourceInternal
	}

	metadata := datatypes.JSONMap{}
	for key, value := range req.Metadata {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	event := ledgerdomain.RevenueEvent{
		ID:             s.genID.Generate(),
		EventID:        eventID,
		TenantID:       req.TenantID,
		Type:           req.Type,
		Stream:         stream,
		Source:         source,
		AmountCents:    req.AmountCents,
		Currency:       currency,
		OccurredAt:     req.OccurredAt.UTC(),
		SubscriptionID: req.SubscriptionID,
		CustomerID:     req.CustomerID,
		InvoiceID:      req.InvoiceID,
		Metadata:       metadata,
		CreatedAt:      s.clock.Now().UTC(),
	}

	inserted, err := s.repo.Insert(ctx, tx, &event)
	if err != nil {
		return ledgerdomain.RevenueEvent{}, err
	}
	if !inserted {
		stored, err := s.repo.FindByEventID(ctx, tx, req.TenantID, eventID)
		if err != nil {
			return ledgerdomain.RevenueEvent{}, err
		}
		if stored == nil {
			// Conflict row vanished between insert and read. Treat as a
			// duplicate rather than retry inside the caller's transaction.
			return ledgerdomain.RevenueEvent{}, ledgerdomain.ErrDuplicateEvent
		}
		if !stored.SameContent(event) {
			s.log.Warn("event id reused with different content",
				zap.String("tenant_id", req.TenantID.String()),
				zap.String("event_id", eventID),
			)
			return ledgerdomain.RevenueEvent{}, ledgerdomain.ErrDuplicateEvent
		}
		if s.obsMetrics != nil {
			s.obsMetrics.IncLedgerDuplicate()
		}
		return *stored, nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.IncLedgerEvent(string(event.Type))
	}
	if s.auditSvc != nil && source == ledgerdomain.SourceManual {
		eventIDStr := event.ID.String()
		tenantID := event.TenantID
		if err := s.auditSvc.AuditLog(ctx, &tenantID, string(auditdomain.ActorTypeOperator), nil, "ledger.manual_event", "revenue_event", &eventIDStr, map[string]any{
			"type":         string(event.Type),
			"amount_cents": event.AmountCents,
		}); err != nil {
			s.log.Warn("failed to audit manual ledger event", zap.Error(err))
		}
	}
	return event, nil
}

func (s *Service) Query(ctx context.Context, req ledgerdomain.QueryRequest) (ledgerdomain.QueryResponse, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return ledgerdomain.QueryResponse{}, ledgerdomain.ErrInvalidTenant
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, ledgerdomain.ListFilter{
		TenantID: tenantID,
		Type:     req.Type,
		Stream:   req.Stream,
		StartAt:  req.StartAt,
		EndAt:    req.EndAt,
	}, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return ledgerdomain.QueryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(event *ledgerdomain.RevenueEvent) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        event.ID.String(),
			CreatedAt: event.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	events := make([]ledgerdomain.RevenueEvent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, *item)
	}

	resp := ledgerdomain.QueryResponse{Events: events}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Metrics(ctx context.Context, tenantID snowflake.ID, period ledgerdomain.Period) (ledgerdomain.PeriodMetrics, error) {
	if tenantID == 0 {
		return ledgerdomain.PeriodMetrics{}, ledgerdomain.ErrInvalidTenant
	}
	if period.Start.IsZero() || period.End.IsZero() || !period.Start.Before(period.End) {
		return ledgerdomain.PeriodMetrics{}, ledgerdomain.ErrInvalidPeriod
	}
	return s.repo.Reduce(ctx, s.db, tenantID, period)
}

func validEventType(eventType ledgerdomain.EventType) bool {
	switch eventType {
	case ledgerdomain.EventSubscriptionCreated,
		ledgerdomain.EventSubscriptionRenewed,
		ledgerdomain.EventSubscriptionProrated,
		ledgerdomain.EventSetupFee,
		ledgerdomain.EventUsageCharge,
		ledgerdomain.EventAddOnPurchase,
		ledgerdomain.EventRefund,
		ledgerdomain.EventMigration:
		return true
	default:
		return false
	}
}
