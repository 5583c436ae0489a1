package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	"gorm.io/gorm"
)

type Service interface {
	// RecordCall never blocks the request path and never returns an
	// error: when the ingest queue is full the sample is dropped and
	// counted.
	RecordCall(tenantID snowflake.ID, endpoint string, statusCode int, latencyMS, bytes int64)

	CurrentUsage(ctx context.Context, tenantID snowflake.ID) (Usage, error)
	CheckQuota(ctx context.Context, tenantID snowflake.ID, quota tierdomain.QuotaType) (QuotaStatus, error)
	CheckRateLimit(ctx context.Context, tenantID snowflake.ID, endpoint string) (RateLimitDecision, error)

	// OverageForPeriod prices usage beyond the tier's included allowances.
	OverageForPeriod(ctx context.Context, tenantID snowflake.ID, period Period, tier tierdomain.Tier) ([]OverageCharge, error)
	// MarkBilled stamps every rollup inside the period so retention may
	// reclaim it later.
	MarkBilled(ctx context.Context, tenantID snowflake.ID, period Period, billedAt time.Time) error

	// Rollups returns every persisted rollup the tenant owns, for the
	// tenant export.
	Rollups(ctx context.Context, tenantID snowflake.ID) ([]Rollup, error)

	// Flush persists closed in-memory minute buckets. Compact folds
	// minute rows into hours and hours into days, then purges billed
	// rows past retention. Both are driven by the scheduler.
	Flush(ctx context.Context) error
	Compact(ctx context.Context, now time.Time) error
}

type Repository interface {
	// UpsertAdd merges a bucket into usage_rollups, adding counters on
	// conflict.
	UpsertAdd(ctx context.Context, db *gorm.DB, rollup *Rollup) error
	SumPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period Period) (Usage, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Rollup, error)
	ListCompactable(ctx context.Context, db *gorm.DB, granularity Granularity, olderThan time.Time, limit int) ([]*Rollup, error)
	DeleteBuckets(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error
	MarkBilled(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period Period, billedAt time.Time) error
	PurgeBilled(ctx context.Context, db *gorm.DB, olderThan time.Time) (int64, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidPeriod = errors.New("invalid_period")
	ErrInvalidQuota  = errors.New("invalid_quota")
)
