package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
)

// Granularity is the bucket width of a persisted rollup. Minute rows are
// compacted into hour rows and hour rows into day rows.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// Sample is one metered API call as handed to the recorder.
type Sample struct {
	TenantID   snowflake.ID
	Endpoint   string
	StatusCode int
	LatencyMS  int64
	Bytes      int64
	At         time.Time
}

// Rollup is an aggregated usage bucket. BilledAt guards retention: a row
// is never purged while its billing period is still open.
type Rollup struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID     snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_rollups_bucket,priority:1" json:"tenant_id"`
	Endpoint     string       `gorm:"not null;uniqueIndex:ux_usage_rollups_bucket,priority:2" json:"endpoint"`
	BucketStart  time.Time    `gorm:"not null;index;uniqueIndex:ux_usage_rollups_bucket,priority:3" json:"bucket_start"`
	Granularity  Granularity  `gorm:"type:text;not null;uniqueIndex:ux_usage_rollups_bucket,priority:4" json:"granularity"`
	Calls        int64        `gorm:"not null;default:0" json:"calls"`
	Bytes        int64        `gorm:"not null;default:0" json:"bytes"`
	Errors       int64        `gorm:"not null;default:0" json:"errors"`
	LatencyMSSum int64        `gorm:"not null;default:0" json:"latency_ms_sum"`
	LatencyMSMax int64        `gorm:"not null;default:0" json:"latency_ms_max"`
	BilledAt     *time.Time   `gorm:"index" json:"billed_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Rollup) TableName() string { return "usage_rollups" }

// Usage totals for a window.
type Usage struct {
	Calls int64 `json:"calls"`
	Bytes int64 `json:"bytes"`
}

// QuotaStatus answers a quota check. WithinLimit flips to false on the
// first call past the included allowance.
type QuotaStatus struct {
	WithinLimit bool  `json:"within_limit"`
	Used        int64 `json:"used"`
	Limit       int64 `json:"limit"`
}

// RateLimitDecision is a per (tenant, endpoint) admission answer.
type RateLimitDecision struct {
	Allowed    bool          `json:"allowed"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Period bounds an aggregation. End is exclusive.
type Period struct {
	Start time.Time
	End   time.Time
}

// OverageCharge is the priced excess for one quota type.
type OverageCharge struct {
	Quota        tierdomain.QuotaType `json:"quota"`
	Actual       int64                `json:"actual"`
	Included     int64                `json:"included"`
	RateCents    int64                `json:"rate_cents"`
	OverageCents int64                `json:"overage_cents"`
}
