package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/ledger/domain"
	"github.com/fairwaylabs/fairway/pkg/db/option"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends one revenue event. The conflict target is the per-tenant
// idempotency key; a replay affects zero rows. The raw ON CONFLICT form
// works on both postgres and sqlite.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.RevenueEvent) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO revenue_events (
			id, event_id, tenant_id, type, stream, source, amount_cents, currency,
			occurred_at, subscription_id, customer_id, invoice_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, event_id) DO NOTHING`,
		event.ID,
		event.EventID,
		event.TenantID,
		event.Type,
		event.Stream,
		event.Source,
		event.AmountCents,
		event.Currency,
		event.OccurredAt,
		event.SubscriptionID,
		event.CustomerID,
		event.InvoiceID,
		event.Metadata,
		event.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByEventID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, eventID string) (*domain.RevenueEvent, error) {
	var event domain.RevenueEvent
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND event_id = ?", tenantID, eventID).
		First(&event).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.RevenueEvent, error) {
	var events []*domain.RevenueEvent
	stmt := db.WithContext(ctx).
		Model(&domain.RevenueEvent{}).
		Where("tenant_id = ?", filter.TenantID)
	if eventType := strings.TrimSpace(string(filter.Type)); eventType != "" {
		stmt = stmt.Where("type = ?", eventType)
	}
	if stream := strings.TrimSpace(string(filter.Stream)); stream != "" {
		stmt = stmt.Where("stream = ?", stream)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("occurred_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("occurred_at < ?", filter.EndAt.UTC())
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) Reduce(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period domain.Period) (domain.PeriodMetrics, error) {
	var row struct {
		Total     int64 `gorm:"column:total"`
		Recurring int64 `gorm:"column:recurring"`
		Customers int64 `gorm:"column:customers"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(amount_cents), 0) AS total,
			COALESCE(SUM(CASE WHEN type IN (?, ?) THEN amount_cents ELSE 0 END), 0) AS recurring,
			COUNT(DISTINCT customer_id) AS customers
		 FROM revenue_events
		 WHERE tenant_id = ? AND occurred_at >= ? AND occurred_at < ?`,
		domain.EventSubscriptionCreated, domain.EventSubscriptionRenewed,
		tenantID, period.Start.UTC(), period.End.UTC(),
	).Scan(&row).Error
	if err != nil {
		return domain.PeriodMetrics{}, err
	}

	metrics := domain.PeriodMetrics{
		TotalRevenueCents:     row.Total,
		RecurringRevenueCents: row.Recurring,
		CustomerCount:         row.Customers,
	}
	if metrics.CustomerCount > 0 {
		metrics.ARPUCents = metrics.TotalRevenueCents / metrics.CustomerCount
	}
	return metrics, nil
}
