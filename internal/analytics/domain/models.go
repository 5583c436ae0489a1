package domain

import (
	"time"
)

// StreamBreakdown is revenue per product surface for one period. Typed
// fields, one per stream tag; unknown tags land in Other so totals still
// reconcile.
type StreamBreakdown struct {
	ConsumerCents   int64 `json:"consumer_cents"`
	WhiteLabelCents int64 `json:"white_label_cents"`
	AnalyticsCents  int64 `json:"analytics_cents"`
	APICents        int64 `json:"api_cents"`
	OtherCents      int64 `json:"other_cents"`
}

func (b StreamBreakdown) TotalCents() int64 {
	return b.ConsumerCents + b.WhiteLabelCents + b.AnalyticsCents + b.APICents + b.OtherCents
}

// Report is one tenant's revenue picture for a period. Every figure is a
// deterministic reduction: same inputs, same bytes out. Ratios are basis
// points so the report stays integer end to end.
type Report struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	MRRCents          int64           `json:"mrr_cents"`
	ARPUCents         int64           `json:"arpu_cents"`
	TotalRevenueCents int64           `json:"total_revenue_cents"`
	CustomerCount     int64           `json:"customer_count"`
	ChurnRiskBps      int64           `json:"churn_risk_bps"`
	CLVCents          int64           `json:"clv_cents"`
	Breakdown         StreamBreakdown `json:"breakdown"`
	ForecastMRRCents  int64           `json:"forecast_mrr_cents"`
	GrowthBps         int64           `json:"growth_bps"`
}
