package service

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/analytics/domain"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
)

// Pure reductions. Every function here is deterministic and
// permutation-invariant over its input slices: aggregation is either a
// commutative sum or a max with a total tie-break, so event order never
// changes the output.

const (
	growthClampBps = 5000 // forecast growth clamped to +-50%
	clvHorizonCap  = 36   // months
)

func recurring(eventType ledgerdomain.EventType) bool {
	return eventType == ledgerdomain.EventSubscriptionCreated ||
		eventType == ledgerdomain.EventSubscriptionRenewed
}

// laterEvent picks the newer of two events, breaking occurred_at ties on
// the row ID so the winner never depends on input order.
func laterEvent(a, b ledgerdomain.RevenueEvent) ledgerdomain.RevenueEvent {
	if b.OccurredAt.After(a.OccurredAt) {
		return b
	}
	if b.OccurredAt.Equal(a.OccurredAt) && b.ID > a.ID {
		return b
	}
	return a
}

// mrrCents normalizes the latest recurring charge of every ACTIVE
// subscription to a monthly figure and sums them.
func mrrCents(events []ledgerdomain.RevenueEvent, subs []subscriptiondomain.Subscription) int64 {
	cycles := make(map[snowflake.ID]subscriptiondomain.BillingCycle, len(subs))
	active := make(map[snowflake.ID]bool, len(subs))
	for _, sub := range subs {
		cycles[sub.ID] = sub.BillingCycle
		active[sub.ID] = sub.Status == subscriptiondomain.StatusActive
	}

	latest := make(map[snowflake.ID]ledgerdomain.RevenueEvent)
	for _, event := range events {
		if !recurring(event.Type) || event.SubscriptionID == nil {
			continue
		}
		subID := *event.SubscriptionID
		if prior, ok := latest[subID]; ok {
			latest[subID] = laterEvent(prior, event)
		} else {
			latest[subID] = event
		}
	}

	var total int64
	for subID, event := range latest {
		if !active[subID] {
			continue
		}
		amount := event.AmountCents
		if cycles[subID] == subscriptiondomain.CycleAnnual {
			amount /= 12
		}
		total += amount
	}
	return total
}

// periodTotals sums revenue inside [start, end) overall and per stream,
// and counts distinct charged customers.
func periodTotals(events []ledgerdomain.RevenueEvent, start, end time.Time) (int64, domain.StreamBreakdown, int64) {
	var total int64
	var breakdown domain.StreamBreakdown
	customers := make(map[snowflake.ID]struct{})

	for _, event := range events {
		if event.OccurredAt.Before(start) || !event.OccurredAt.Before(end) {
			continue
		}
		total += event.AmountCents
		switch event.Stream {
		case ledgerdomain.StreamConsumer:
			breakdown.ConsumerCents += event.AmountCents
		case ledgerdomain.StreamWhiteLabel:
			breakdown.WhiteLabelCents += event.AmountCents
		case ledgerdomain.StreamAnalytics:
			breakdown.AnalyticsCents += event.AmountCents
		case ledgerdomain.StreamAPI:
			breakdown.APICents += event.AmountCents
		default:
			breakdown.OtherCents += event.AmountCents
		}
		if event.CustomerID != nil {
			customers[*event.CustomerID] = struct{}{}
		}
	}
	return total, breakdown, int64(len(customers))
}

// recurringInWindow sums recurring revenue inside [start, end). Used for
// period-over-period growth.
func recurringInWindow(events []ledgerdomain.RevenueEvent, start, end time.Time) int64 {
	var total int64
	for _, event := range events {
		if !recurring(event.Type) {
			continue
		}
		if event.OccurredAt.Before(start) || !event.OccurredAt.Before(end) {
			continue
		}
		total += event.AmountCents
	}
	return total
}

// churnRiskBps scores renewal risk: among customers whose subscription
// period has lapsed, the share with no renewal event inside 1.25 billing
// cycles of now. Expressed in basis points.
func churnRiskBps(now time.Time, events []ledgerdomain.RevenueEvent, subs []subscriptiondomain.Subscription) int64 {
	type dueWindow struct {
		windowStart time.Time
		subs        map[snowflake.ID]struct{}
	}
	due := make(map[snowflake.ID]*dueWindow)
	for _, sub := range subs {
		if sub.Status != subscriptiondomain.StatusActive {
			continue
		}
		if sub.CurrentPeriodEnd.After(now) {
			continue
		}
		cycle := sub.CurrentPeriodEnd.Sub(sub.CurrentPeriodStart)
		windowStart := now.Add(-(cycle + cycle/4))
		entry, ok := due[sub.CustomerID]
		if !ok {
			entry = &dueWindow{windowStart: windowStart, subs: make(map[snowflake.ID]struct{})}
			due[sub.CustomerID] = entry
		}
		if windowStart.Before(entry.windowStart) {
			entry.windowStart = windowStart
		}
		entry.subs[sub.ID] = struct{}{}
	}
	if len(due) == 0 {
		return 0
	}

	renewed := make(map[snowflake.ID]struct{})
	for _, event := range events {
		if event.Type != ledgerdomain.EventSubscriptionRenewed || event.SubscriptionID == nil || event.CustomerID == nil {
			continue
		}
		entry, ok := due[*event.CustomerID]
		if !ok {
			continue
		}
		if _, owns := entry.subs[*event.SubscriptionID]; !owns {
			continue
		}
		if !event.OccurredAt.Before(entry.windowStart) {
			renewed[*event.CustomerID] = struct{}{}
		}
	}

	atRisk := int64(len(due) - len(renewed))
	return atRisk * 10000 / int64(len(due))
}

// clvCents projects customer lifetime value: observed average monthly
// revenue times a horizon of twice the observed tenure, capped. Returns
// the average projection across charged customers.
func clvCents(now time.Time, events []ledgerdomain.RevenueEvent) int64 {
	type history struct {
		total   int64
		firstAt time.Time
	}
	byCustomer := make(map[snowflake.ID]*history)
	for _, event := range events {
		if event.CustomerID == nil {
			continue
		}
		entry, ok := byCustomer[*event.CustomerID]
		if !ok {
			entry = &history{firstAt: event.OccurredAt}
			byCustomer[*event.CustomerID] = entry
		}
		entry.total += event.AmountCents
		if event.OccurredAt.Before(entry.firstAt) {
			entry.firstAt = event.OccurredAt
		}
	}
	if len(byCustomer) == 0 {
		return 0
	}

	var sum int64
	for _, entry := range byCustomer {
		tenureMonths := int64(now.Sub(entry.firstAt).Hours() / (24 * 30))
		if tenureMonths < 1 {
			tenureMonths = 1
		}
		horizon := tenureMonths * 2
		if horizon > clvHorizonCap {
			horizon = clvHorizonCap
		}
		sum += entry.total / tenureMonths * horizon
	}
	return sum / int64(len(byCustomer))
}

// forecastMRR applies clamped period-over-period growth to the current
// MRR. Returns the forecast and the growth used, in basis points.
func forecastMRR(mrr, currentRecurring, previousRecurring int64) (int64, int64) {
	var growthBps int64
	if previousRecurring > 0 {
		growthBps = (currentRecurring - previousRecurring) * 10000 / previousRecurring
		if growthBps > growthClampBps {
			growthBps = growthClampBps
		}
		if growthBps < -growthClampBps {
			growthBps = -growthClampBps
		}
	}
	return mrr + mrr*growthBps/10000, growthBps
}
