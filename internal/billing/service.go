// Package billing coordinates renewal runs: it prices the period, takes
// the money through a processor adapter and records the outcome across
// the ledger, invoices and the usage meter. It owns no tables of its own.
package billing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/clock"
	"github.com/fairwaylabs/fairway/internal/config"
	customerdomain "github.com/fairwaylabs/fairway/internal/customer/domain"
	invoicedomain "github.com/fairwaylabs/fairway/internal/invoice/domain"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	obsmetrics "github.com/fairwaylabs/fairway/internal/observability/metrics"
	"github.com/fairwaylabs/fairway/internal/payment"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	"github.com/fairwaylabs/fairway/internal/tenantctx"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	usagedomain "github.com/fairwaylabs/fairway/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CycleReport says what one billing run did. Skipped counts due
// subscriptions the run claimed but never attempted, which only happens
// when the context is canceled mid-run.
type CycleReport struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type ProcessPaymentRequest struct {
	CustomerID  string
	AmountCents int64
	Currency    string
	Description string
	Processor   string
}

type ProcessPaymentResult struct {
	Status             payment.ChargeStatus
	ProcessorReference string
	InvoiceID          snowflake.ID
}

type Service interface {
	CreateCustomer(ctx context.Context, req customerdomain.CreateCustomerRequest) (customerdomain.Customer, error)
	CreateInvoice(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error)
	// ProcessPayment charges a one-off amount against the customer's
	// vaulted payment method and records it as an add-on purchase.
	ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (ProcessPaymentResult, error)
	// PayInvoice settles an open invoice by charging its full total.
	PayInvoice(ctx context.Context, invoiceID string) (invoicedomain.Invoice, error)
	// RunCycle renews every due subscription. Safe to run concurrently
	// and safe to re-run after a crash: charges replay under the same
	// idempotency key and ledger appends deduplicate.
	RunCycle(ctx context.Context) (CycleReport, error)
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Config      config.Config
	Dunning     *config.DunningPolicyHolder
	Processors  *payment.Registry
	CustomerSvc customerdomain.Service
	TierSvc     tierdomain.Service
	SubSvc      subscriptiondomain.Service
	SubRepo     subscriptiondomain.Repository
	InvoiceSvc  invoicedomain.Service
	LedgerSvc   ledgerdomain.Service
	UsageSvc    usagedomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	cfg         config.BillingRunConfig
	dunning     *config.DunningPolicyHolder
	processors  *payment.Registry
	customerSvc customerdomain.Service
	tierSvc     tierdomain.Service
	subSvc      subscriptiondomain.Service
	subRepo     subscriptiondomain.Repository
	invoiceSvc  invoicedomain.Service
	ledgerSvc   ledgerdomain.Service
	usageSvc    usagedomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) Service {
	return &service{
		db:          p.DB,
		log:         p.Log.Named("billing.orchestrator"),
		clock:       p.Clock,
		cfg:         p.Config.Billing,
		dunning:     p.Dunning,
		processors:  p.Processors,
		customerSvc: p.CustomerSvc,
		tierSvc:     p.TierSvc,
		subSvc:      p.SubSvc,
		subRepo:     p.SubRepo,
		invoiceSvc:  p.InvoiceSvc,
		ledgerSvc:   p.LedgerSvc,
		usageSvc:    p.UsageSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *service) CreateCustomer(ctx context.Context, req customerdomain.CreateCustomerRequest) (customerdomain.Customer, error) {
	return s.customerSvc.Create(ctx, req)
}

func (s *service) CreateInvoice(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	return s.invoiceSvc.Create(ctx, req)
}

func (s *service) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (ProcessPaymentResult, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return ProcessPaymentResult{}, customerdomain.ErrInvalidTenant
	}
	if req.AmountCents <= 0 {
		return ProcessPaymentResult{}, payment.ErrInvalidAmount
	}

	customer, err := s.customerSvc.GetByID(ctx, customerdomain.GetCustomerRequest{ID: req.CustomerID})
	if err != nil {
		return ProcessPaymentResult{}, err
	}
	if customer.PaymentMethodToken == "" {
		return ProcessPaymentResult{}, payment.ErrInvalidToken
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = customer.Currency
	}

	adapter, err := s.processors.Resolve(req.Processor)
	if err != nil {
		return ProcessPaymentResult{}, err
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "One-off charge"
	}

	now := s.clock.Now().UTC()
	invoice, err := s.invoiceSvc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		TenantID:   tenantID,
		CustomerID: customer.ID,
		Currency:   currency,
		DueAt:      now,
		Lines: []invoicedomain.LineInput{{
			Description: description,
			Quantity:    1,
			AmountCents: req.AmountCents,
		}},
	})
	if err != nil {
		return ProcessPaymentResult{}, err
	}
	if _, err := s.invoiceSvc.Send(ctx, tenantID, invoice.ID); err != nil {
		return ProcessPaymentResult{}, err
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout())
	defer cancel()
	result, err := adapter.Charge(chargeCtx, payment.ChargeRequest{
		AmountCents:        req.AmountCents,
		Currency:           currency,
		PaymentMethodToken: customer.PaymentMethodToken,
		IdempotencyKey:     fmt.Sprintf("addon:%s", invoice.ID),
	})
	if err != nil {
		s.incCharge("error")
		return ProcessPaymentResult{InvoiceID: invoice.ID}, fmt.Errorf("%w: %v", payment.ErrProcessor, err)
	}
	if result.Status != payment.StatusSucceeded {
		s.incCharge("declined")
		return ProcessPaymentResult{Status: result.Status, InvoiceID: invoice.ID}, payment.ErrDeclined
	}
	s.incCharge("succeeded")

	if _, err := s.invoiceSvc.MarkPaid(ctx, tenantID, invoice.ID, now); err != nil {
		return ProcessPaymentResult{}, err
	}

	customerID := customer.ID
	invoiceID := invoice.ID
	if _, err := s.ledgerSvc.Record(ctx, ledgerdomain.RecordRequest{
		EventID:     fmt.Sprintf("addon:%s", invoice.ID),
		TenantID:    tenantID,
		Type:        ledgerdomain.EventAddOnPurchase,
		AmountCents: req.AmountCents,
		Currency:    currency,
		OccurredAt:  now,
		CustomerID:  &customerID,
		InvoiceID:   &invoiceID,
		Metadata:    map[string]any{"processor_reference": result.ProcessorReference},
	}); err != nil {
		return ProcessPaymentResult{}, err
	}

	return ProcessPaymentResult{
		Status:             result.Status,
		ProcessorReference: result.ProcessorReference,
		InvoiceID:          invoice.ID,
	}, nil
}

func (s *service) PayInvoice(ctx context.Context, invoiceID string) (invoicedomain.Invoice, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTenant
	}

	invoice, err := s.invoiceSvc.GetByID(ctx, invoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if invoice.Status != invoicedomain.StatusSent && invoice.Status != invoicedomain.StatusOverdue {
		return invoicedomain.Invoice{}, &invoicedomain.InvalidStatusTransition{
			Current:   invoice.Status,
			Attempted: invoicedomain.StatusPaid,
		}
	}

	customer, err := s.customerSvc.GetByID(ctx, customerdomain.GetCustomerRequest{ID: invoice.CustomerID.String()})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if customer.PaymentMethodToken == "" {
		return invoicedomain.Invoice{}, payment.ErrInvalidToken
	}

	adapter, err := s.processors.Resolve("")
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout())
	defer cancel()
	result, err := adapter.Charge(chargeCtx, payment.ChargeRequest{
		AmountCents:        invoice.TotalCents,
		Currency:           invoice.Currency,
		PaymentMethodToken: customer.PaymentMethodToken,
		IdempotencyKey:     fmt.Sprintf("invoice:%s", invoice.ID),
	})
	if err != nil {
		s.incCharge("error")
		return invoicedomain.Invoice{}, fmt.Errorf("%w: %v", payment.ErrProcessor, err)
	}
	if result.Status != payment.StatusSucceeded {
		s.incCharge("declined")
		return invoicedomain.Invoice{}, payment.ErrDeclined
	}
	s.incCharge("succeeded")

	return s.invoiceSvc.MarkPaid(ctx, tenantID, invoice.ID, s.clock.Now())
}

func (s *service) RunCycle(ctx context.Context) (CycleReport, error) {
	if s.obsMetrics != nil {
		s.obsMetrics.IncBillingRun()
	}
	now := s.clock.Now().UTC()
	report := CycleReport{}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	// A subscription that stays due after its attempt (ambiguous
	// processor outcome) must not be re-claimed by this run; its replay
	// belongs to the next cycle, under the same idempotency key.
	attempted := make(map[snowflake.ID]struct{})

	for {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		// Claim a batch. SKIP LOCKED keeps concurrent runs off each
		// other's rows while the snapshot is taken; after that, safety
		// under re-processing comes from the charge idempotency key and
		// the version-guarded subscription update.
		var due []*subscriptiondomain.Subscription
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			batch, err := s.subRepo.ListDueForRenewal(ctx, tx, now, batchSize)
			if err != nil {
				return err
			}
			due = batch
			return nil
		})
		if err != nil {
			return report, err
		}
		if len(due) == 0 {
			return report, nil
		}

		fresh := make([]*subscriptiondomain.Subscription, 0, len(due))
		for _, sub := range due {
			if sub == nil {
				continue
			}
			if _, seen := attempted[sub.ID]; seen {
				continue
			}
			attempted[sub.ID] = struct{}{}
			fresh = append(fresh, sub)
		}
		if len(fresh) == 0 {
			return report, nil
		}

		processed, failed, skipped := s.processBatch(ctx, fresh)
		report.Processed += processed
		report.Failed += failed
		report.Skipped += skipped
		if skipped > 0 {
			// Canceled mid-batch. Anything still due stays for the next run.
			return report, ctx.Err()
		}
		if len(due) < batchSize {
			return report, nil
		}
	}
}

// processBatch renews one claimed batch with at most MaxConcurrency
// attempts in flight. Cancellation is honored at subscription
// boundaries: started attempts finish, unstarted ones count as skipped.
func (s *service) processBatch(ctx context.Context, batch []*subscriptiondomain.Subscription) (processed, failed, skipped int) {
	concurrency := s.cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, concurrency)
	)
	for _, sub := range batch {
		if sub == nil {
			continue
		}
		select {
		case <-ctx.Done():
			skipped++
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(sub subscriptiondomain.Subscription) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.renewOne(ctx, sub)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
			} else {
				processed++
			}
		}(*sub)
	}
	wg.Wait()
	return processed, failed, skipped
}

// renewOne runs a single renewal attempt end to end.
func (s *service) renewOne(ctx context.Context, sub subscriptiondomain.Subscription) error {
	log := s.log.With(
		zap.String("tenant_id", sub.TenantID.String()),
		zap.String("subscription_id", sub.ID.String()),
	)
	tenantCtx := tenantctx.WithTenantID(ctx, sub.TenantID)

	customer, err := s.customerSvc.GetByID(tenantCtx, customerdomain.GetCustomerRequest{ID: sub.CustomerID.String()})
	if err != nil {
		log.Error("renewal: customer lookup failed", zap.Error(err))
		return err
	}
	if customer.PaymentMethodToken == "" {
		log.Warn("renewal: customer has no payment method, entering dunning")
		return s.handleDecline(ctx, sub, log)
	}

	period := usagedomain.Period{Start: sub.CurrentPeriodStart, End: sub.CurrentPeriodEnd}
	overages, overageTotal, err := s.overagesFor(tenantCtx, sub, period)
	if err != nil {
		log.Error("renewal: overage pricing failed", zap.Error(err))
		return err
	}
	total := sub.PriceCents + overageTotal

	adapter, err := s.processors.Resolve("")
	if err != nil {
		return err
	}

	// The key is derived from the renewal revenue event that a success
	// will append, so a crashed run replays the same charge instead of
	// taking the money twice.
	idempotencyKey := fmt.Sprintf("renewal:%s:%d", sub.ID, sub.CurrentPeriodEnd.Unix())

	chargeCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout())
	result, err := adapter.Charge(chargeCtx, payment.ChargeRequest{
		AmountCents:        total,
		Currency:           sub.Currency,
		PaymentMethodToken: customer.PaymentMethodToken,
		IdempotencyKey:     idempotencyKey,
	})
	cancel()
	if err != nil {
		// Ambiguous outcome. Leave the subscription due; the next run
		// replays under the same idempotency key.
		s.incCharge("error")
		log.Warn("renewal: charge outcome unknown, will replay", zap.Error(err))
		return fmt.Errorf("%w: %v", payment.ErrProcessor, err)
	}
	if result.Status != payment.StatusSucceeded {
		s.incCharge("declined")
		return s.handleDecline(ctx, sub, log)
	}
	s.incCharge("succeeded")

	return s.settle(tenantCtx, sub, customer, period, overages, overageTotal, log)
}

// settle records everything a successful charge implies.
func (s *service) settle(
	ctx context.Context,
	sub subscriptiondomain.Subscription,
	customer customerdomain.Customer,
	period usagedomain.Period,
	overages []usagedomain.OverageCharge,
	overageTotal int64,
	log *zap.Logger,
) error {
	renewed, err := s.subSvc.Renew(ctx, sub.TenantID, sub.ID)
	if err != nil {
		log.Error("renewal: period advance failed after charge", zap.Error(err))
		return err
	}
	now := s.clock.Now().UTC()

	lines := []invoicedomain.LineInput{{
		Description: fmt.Sprintf("Subscription renewal (%s)", strings.ToLower(string(sub.BillingCycle))),
		Quantity:    1,
		AmountCents: sub.PriceCents,
	}}
	for _, overage := range overages {
		if overage.OverageCents <= 0 {
			continue
		}
		lines = append(lines, invoicedomain.LineInput{
			Description: fmt.Sprintf("Usage overage: %s (%d over %d included)", overage.Quota, overage.Actual-overage.Included, overage.Included),
			Quantity:    overage.Actual - overage.Included,
			AmountCents: overage.OverageCents,
			Metadata:    map[string]any{"quota": string(overage.Quota), "rate_cents": overage.RateCents},
		})
	}

	subID := sub.ID
	invoice, err := s.invoiceSvc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		TenantID:       sub.TenantID,
		CustomerID:     customer.ID,
		SubscriptionID: &subID,
		Currency:       sub.Currency,
		DueAt:          now,
		Lines:          lines,
	})
	if err != nil {
		log.Error("renewal: invoice creation failed", zap.Error(err))
		return err
	}
	if _, err := s.invoiceSvc.Send(ctx, sub.TenantID, invoice.ID); err != nil {
		return err
	}
	if _, err := s.invoiceSvc.MarkPaid(ctx, sub.TenantID, invoice.ID, now); err != nil {
		return err
	}

	if overageTotal > 0 {
		customerID := customer.ID
		invoiceID := invoice.ID
		if _, err := s.ledgerSvc.Record(ctx, ledgerdomain.RecordRequest{
			EventID:        fmt.Sprintf("usage:%s:%d", sub.ID, sub.CurrentPeriodEnd.Unix()),
			TenantID:       sub.TenantID,
			Type:           ledgerdomain.EventUsageCharge,
			Stream:         ledgerdomain.StreamAPI,
			AmountCents:    overageTotal,
			Currency:       sub.Currency,
			OccurredAt:     now,
			SubscriptionID: &subID,
			CustomerID:     &customerID,
			InvoiceID:      &invoiceID,
		}); err != nil {
			log.Error("renewal: usage charge event failed", zap.Error(err))
			return err
		}
		if err := s.usageSvc.MarkBilled(ctx, sub.TenantID, period, now); err != nil {
			log.Error("renewal: marking usage billed failed", zap.Error(err))
			return err
		}
	}

	log.Info("subscription renewed",
		zap.String("invoice_id", invoice.ID.String()),
		zap.Int64("amount_cents", invoice.TotalCents),
		zap.Time("period_end", renewed.CurrentPeriodEnd),
	)
	return nil
}

// handleDecline applies the dunning policy after a hard decline. The
// subscription is never canceled here; running out of retries parks it
// for manual intervention.
func (s *service) handleDecline(ctx context.Context, sub subscriptiondomain.Subscription, log *zap.Logger) error {
	policy := s.dunning.Current()
	attempt := sub.DunningAttempts + 1

	var nextAttemptAt *time.Time
	if attempt < policy.MaxAttempts {
		next := s.clock.Now().UTC().Add(policy.BackoffFor(attempt))
		nextAttemptAt = &next
	}

	attempts, err := s.subSvc.MarkDunning(ctx, sub.TenantID, sub.ID, nextAttemptAt)
	if err != nil {
		log.Error("dunning update failed", zap.Error(err))
		return err
	}

	if nextAttemptAt == nil {
		log.Warn("renewal charge declined, retries exhausted",
			zap.Int("attempts", attempts),
		)
		if err := s.raiseOverdueInvoice(ctx, sub); err != nil {
			log.Error("overdue invoice failed", zap.Error(err))
		}
	} else {
		log.Info("renewal charge declined, retry scheduled",
			zap.Int("attempts", attempts),
			zap.Time("next_attempt_at", *nextAttemptAt),
		)
	}
	return payment.ErrDeclined
}

// raiseOverdueInvoice leaves a payable trace of the failed renewal once
// automatic retries stop.
func (s *service) raiseOverdueInvoice(ctx context.Context, sub subscriptiondomain.Subscription) error {
	subID := sub.ID
	invoice, err := s.invoiceSvc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		TenantID:       sub.TenantID,
		CustomerID:     sub.CustomerID,
		SubscriptionID: &subID,
		Currency:       sub.Currency,
		DueAt:          sub.CurrentPeriodEnd,
		Lines: []invoicedomain.LineInput{{
			Description: fmt.Sprintf("Subscription renewal (%s)", strings.ToLower(string(sub.BillingCycle))),
			Quantity:    1,
			AmountCents: sub.PriceCents,
		}},
	})
	if err != nil {
		return err
	}
	if _, err := s.invoiceSvc.Send(ctx, sub.TenantID, invoice.ID); err != nil {
		return err
	}
	_, err = s.invoiceSvc.MarkOverdue(ctx, sub.TenantID, invoice.ID)
	return err
}

func (s *service) overagesFor(ctx context.Context, sub subscriptiondomain.Subscription, period usagedomain.Period) ([]usagedomain.OverageCharge, int64, error) {
	tier, err := s.tierSvc.GetByID(ctx, sub.TierID.String())
	if err != nil {
		return nil, 0, err
	}

	overages, err := s.usageSvc.OverageForPeriod(ctx, sub.TenantID, period, *tier)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	for _, overage := range overages {
		total += overage.OverageCents
	}
	return overages, total, nil
}

func (s *service) attemptTimeout() time.Duration {
	seconds := s.cfg.AttemptTimeout
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

func (s *service) incCharge(outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.IncBillingCharge(outcome)
	}
}
