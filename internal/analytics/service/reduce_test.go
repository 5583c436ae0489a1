package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
)

var reportStart = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
var reportEnd = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type reduceBuilder struct {
	node   *snowflake.Node
	events []ledgerdomain.RevenueEvent
	subs   []subscriptiondomain.Subscription
}

func newReduceBuilder(t *testing.T) *reduceBuilder {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return &reduceBuilder{node: node}
}

func (b *reduceBuilder) sub(cycle subscriptiondomain.BillingCycle, status subscriptiondomain.Status, periodStart, periodEnd time.Time) (snowflake.ID, snowflake.ID) {
	subID := b.node.Generate()
	customerID := b.node.Generate()
	b.subs = append(b.subs, subscriptiondomain.Subscription{
		ID:                 subID,
		CustomerID:         customerID,
		BillingCycle:       cycle,
		Status:             status,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
	})
	return subID, customerID
}

func (b *reduceBuilder) event(eventType ledgerdomain.EventType, stream ledgerdomain.RevenueStream, amount int64, occurredAt time.Time, subID, customerID snowflake.ID) {
	evt := ledgerdomain.RevenueEvent{
		ID:          b.node.Generate(),
		Type:        eventType,
		Stream:      stream,
		AmountCents: amount,
		Currency:    "USD",
		OccurredAt:  occurredAt,
	}
	if subID != 0 {
		evt.SubscriptionID = &subID
	}
	if customerID != 0 {
		evt.CustomerID = &customerID
	}
	b.events = append(b.events, evt)
}

func TestBuildReportPermutationInvariant(t *testing.T) {
	b := newReduceBuilder(t)
	subA, custA := b.sub(subscriptiondomain.CycleMonthly, subscriptiondomain.StatusActive, reportStart, reportEnd)
	subB, custB := b.sub(subscriptiondomain.CycleAnnual, subscriptiondomain.StatusActive, reportStart, reportStart.AddDate(1, 0, 0))

	b.event(ledgerdomain.EventSubscriptionCreated, ledgerdomain.StreamAPI, 19900, reportStart.Add(time.Hour), subA, custA)
	b.event(ledgerdomain.EventSubscriptionRenewed, ledgerdomain.StreamAPI, 19900, reportStart.Add(48*time.Hour), subA, custA)
	b.event(ledgerdomain.EventSubscriptionCreated, ledgerdomain.StreamAnalytics, 120000, reportStart.Add(2*time.Hour), subB, custB)
	b.event(ledgerdomain.EventAddOnPurchase, ledgerdomain.StreamConsumer, 5000, reportStart.Add(72*time.Hour), 0, custA)
	b.event(ledgerdomain.EventRefund, ledgerdomain.StreamConsumer, -1000, reportStart.Add(96*time.Hour), 0, custA)

	forward := buildReport(reportStart, reportEnd, b.events, b.subs)

	reversed := make([]ledgerdomain.RevenueEvent, len(b.events))
	for i, evt := range b.events {
		reversed[len(b.events)-1-i] = evt
	}
	subsReversed := []subscriptiondomain.Subscription{b.subs[1], b.subs[0]}

	assert.Equal(t, forward, buildReport(reportStart, reportEnd, reversed, subsReversed))
}

func TestMRRNormalizesAnnualAndSkipsInactive(t *testing.T) {
	b := newReduceBuilder(t)
	monthly, custA := b.sub(subscriptiondomain.CycleMonthly, subscriptiondomain.StatusActive, reportStart, reportEnd)
	annual, custB := b.sub(subscriptiondomain.CycleAnnual, subscriptiondomain.StatusActive, reportStart, reportStart.AddDate(1, 0, 0))
	canceled, custC := b.sub(subscriptiondomain.CycleMonthly, subscriptiondomain.StatusCanceled, reportStart, reportEnd)

	b.event(ledgerdomain.EventSubscriptionRenewed, ledgerdomain.StreamAPI, 19900, reportStart.Add(time.Hour), monthly, custA)
	b.event(ledgerdomain.EventSubscriptionCreated, ledgerdomain.StreamAnalytics, 120000, reportStart.Add(time.Hour), annual, custB)
	b.event(ledgerdomain.EventSubscriptionRenewed, ledgerdomain.StreamAPI, 29900, reportStart.Add(time.Hour), canceled, custC)

	assert.Equal(t, int64(19900+10000), mrrCents(b.events, b.subs))
}

func TestMRRUsesLatestRecurringCharge(t *testing.T) {
	b := newReduceBuilder(t)
	subID, custID := b.sub(subscriptiondomain.CycleMonthly, subscriptiondomain.StatusActive, reportStart, reportEnd)

	b.event(ledgerdomain.EventSubscriptionCreated, ledgerdomain.StreamAPI, 19900, reportStart, subID, custID)
	b.event(ledgerdomain.EventSubscriptionRenewed, ledgerdomain.StreamAPI, 29900, reportStart.Add(time.Hour), subID, custID)
	// Non-recurring charges never feed MRR.
	b.event(ledgerdomain.EventAddOnPurchase, ledgerdomain.StreamAPI, 99999, reportStart.Add(2*time.Hour), subID, custID)

	assert.Equal(t, int64(29900), mrrCents(b.events, b.subs))
}

func TestPeriodTotalsAndBreakdownReconcile(t *testing.T) {
	b := newReduceBuilder(t)
	cust := b.node.Generate()

	b.event(ledgerdomain.EventSubscriptionRenewed, ledgerdomain.StreamAPI, 10000, reportStart.Add(time.Hour), 0, cust)
	b.event(ledgerdomain.EventAddOnPurchase, ledgerdomain.StreamConsumer, 2000, reportStart.Add(time.Hour), 0, cust)
	b.event(ledgerdomain.EventUsageCharge, "membership", 500, reportStart.Add(time.Hour), 0, cust)
	// Outside the period, must not count.
	b.event(ledgerdomain.EventSubscriptionRenewed, ledgerdomain.StreamAPI, 77777, reportEnd, 0, cust)
	b.event(ledgerdomain.EventSubscriptionRenewed, ledgerdomain.StreamAPI, 77777, reportStart.Add(-time.Hour), 0, cust)

	total, breakdown, customers := periodTotals(b.events, reportStart, reportEnd)
	assert.Equal(t, int64(12500), total)
	assert.Equal(t, total, breakdown.TotalCents())
	assert.Equal(t, int64(10000), breakdown.APICents)
	assert.Equal(t, int64(2000), breakdown.ConsumerCents)
	assert.Equal(t, int64(500), breakdown.OtherCents)
	assert.Equal(t, int64(1), customers)
}

func TestForecastGrowthClamped(t *testing.T) {
	// 100x growth clamps to +50%.
	forecast, growth := forecastMRR(10000, 10000, 100)
	assert.Equal(t, int64(5000), growth)
	assert.Equal(t, int64(15000), forecast)

	// Collapse clamps to -50%.
	forecast, growth = forecastMRR(10000, 100, 10000)
	assert.Equal(t, int64(-5000), growth)
	assert.Equal(t, int64(5000), forecast)

	// No prior period means no growth assumption.
	forecast, growth = forecastMRR(10000, 5000, 0)
	assert.Equal(t, int64(0), growth)
	assert.Equal(t, int64(10000), forecast)
}

func TestChurnRiskScoresLapsedWithoutRenewal(t *testing.T) {
	b := newReduceBuilder(t)
	now := reportEnd

	// Both subscriptions lapsed a week ago.
	lapsedStart := now.AddDate(0, -1, -7)
	lapsedEnd := now.AddDate(0, 0, -7)
	renewedSub, renewedCust := b.sub(subscriptiondomain.CycleMonthly, subscriptiondomain.StatusActive, lapsedStart, lapsedEnd)
	_, _ = b.sub(subscriptiondomain.CycleMonthly, subscriptiondomain.StatusActive, lapsedStart, lapsedEnd)

	// One of the two renewed recently.
	b.event(ledgerdomain.EventSubscriptionRenewed, ledgerdomain.StreamAPI, 19900, now.AddDate(0, 0, -3), renewedSub, renewedCust)

	assert.Equal(t, int64(5000), churnRiskBps(now, b.events, b.subs))
}

func TestChurnRiskIgnoresCurrentSubscriptions(t *testing.T) {
	b := newReduceBuilder(t)
	now := reportEnd
	b.sub(subscriptiondomain.CycleMonthly, subscriptiondomain.StatusActive, now.AddDate(0, 0, -10), now.AddDate(0, 0, 20))

	assert.Equal(t, int64(0), churnRiskBps(now, b.events, b.subs))
}

func TestCLVCapsProjectionHorizon(t *testing.T) {
	b := newReduceBuilder(t)
	now := reportEnd
	cust := b.node.Generate()

	// 24 months of history at 10000/month doubles to a 48 month horizon,
	// capped at 36.
	first := now.AddDate(-2, 0, 0)
	b.event(ledgerdomain.EventSubscriptionCreated, ledgerdomain.StreamAPI, 120000, first, 0, cust)
	b.event(ledgerdomain.EventSubscriptionRenewed, ledgerdomain.StreamAPI, 120000, first.AddDate(1, 0, 0), 0, cust)

	total := int64(240000)
	tenure := int64(now.Sub(first).Hours() / (24 * 30))
	expected := total / tenure * 36
	assert.Equal(t, expected, clvCents(now, b.events))
}

func TestCLVEmptyHistory(t *testing.T) {
	assert.Equal(t, int64(0), clvCents(reportEnd, nil))
}

func TestBuildReportARPU(t *testing.T) {
	b := newReduceBuilder(t)
	custA := b.node.Generate()
	custB := b.node.Generate()

	b.event(ledgerdomain.EventSubscriptionRenewed, ledgerdomain.StreamAPI, 30000, reportStart.Add(time.Hour), 0, custA)
	b.event(ledgerdomain.EventSubscriptionRenewed, ledgerdomain.StreamAPI, 10000, reportStart.Add(time.Hour), 0, custB)

	report := buildReport(reportStart, reportEnd, b.events, b.subs)
	assert.Equal(t, int64(2), report.CustomerCount)
	assert.Equal(t, int64(20000), report.ARPUCents)
	assert.Equal(t, int64(40000), report.TotalRevenueCents)
}
