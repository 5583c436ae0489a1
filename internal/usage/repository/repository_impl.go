package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// UpsertAdd merges counters into an existing bucket. The additive
// ON CONFLICT form runs unchanged on postgres and sqlite.
func (r *repo) UpsertAdd(ctx context.Context, db *gorm.DB, rollup *domain.Rollup) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_rollups (
			id, tenant_id, endpoint, bucket_start, granularity,
			calls, bytes, errors, latency_ms_sum, latency_ms_max,
			billed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT (tenant_id, endpoint, bucket_start, granularity) DO UPDATE SET
			calls = usage_rollups.calls + excluded.calls,
			bytes = usage_rollups.bytes + excluded.bytes,
			errors = usage_rollups.errors + excluded.errors,
			latency_ms_sum = usage_rollups.latency_ms_sum + excluded.latency_ms_sum,
			latency_ms_max = CASE WHEN usage_rollups.latency_ms_max > excluded.latency_ms_max
				THEN usage_rollups.latency_ms_max ELSE excluded.latency_ms_max END,
			updated_at = excluded.updated_at`,
		rollup.ID,
		rollup.TenantID,
		rollup.Endpoint,
		rollup.BucketStart.UTC(),
		rollup.Granularity,
		rollup.Calls,
		rollup.Bytes,
		rollup.Errors,
		rollup.LatencyMSSum,
		rollup.LatencyMSMax,
		rollup.CreatedAt,
		rollup.UpdatedAt,
	).Error
}

func (r *repo) SumPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period domain.Period) (domain.Usage, error) {
	var row struct {
		Calls int64 `gorm:"column:calls"`
		Bytes int64 `gorm:"column:bytes"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(calls), 0) AS calls, COALESCE(SUM(bytes), 0) AS bytes
		 FROM usage_rollups
		 WHERE tenant_id = ? AND bucket_start >= ? AND bucket_start < ?`,
		tenantID, period.Start.UTC(), period.End.UTC(),
	).Scan(&row).Error
	if err != nil {
		return domain.Usage{}, err
	}
	return domain.Usage{Calls: row.Calls, Bytes: row.Bytes}, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.Rollup, error) {
	var rollups []domain.Rollup
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("bucket_start asc, endpoint asc, granularity asc").
		Find(&rollups).Error
	if err != nil {
		return nil, err
	}
	return rollups, nil
}

func (r *repo) ListCompactable(ctx context.Context, db *gorm.DB, granularity domain.Granularity, olderThan time.Time, limit int) ([]*domain.Rollup, error) {
	var rollups []*domain.Rollup
	err := db.WithContext(ctx).
		Where("granularity = ? AND bucket_start < ? AND billed_at IS NULL", granularity, olderThan.UTC()).
		Order("tenant_id asc, endpoint asc, bucket_start asc").
		Limit(limit).
		Find(&rollups).Error
	if err != nil {
		return nil, err
	}
	return rollups, nil
}

func (r *repo) DeleteBuckets(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&domain.Rollup{}).Error
}

func (r *repo) MarkBilled(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period domain.Period, billedAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Rollup{}).
		Where("tenant_id = ? AND bucket_start >= ? AND bucket_start < ? AND billed_at IS NULL",
			tenantID, period.Start.UTC(), period.End.UTC()).
		Update("billed_at", billedAt.UTC()).Error
}

// PurgeBilled removes rows past retention. The billed_at guard keeps
// unbilled usage alive no matter how old it is.
func (r *repo) PurgeBilled(ctx context.Context, db *gorm.DB, olderThan time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Where("bucket_start < ? AND billed_at IS NOT NULL", olderThan.UTC()).
		Delete(&domain.Rollup{})
	return result.RowsAffected, result.Error
}
