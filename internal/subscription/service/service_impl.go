package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/clock"
	customerdomain "github.com/fairwaylabs/fairway/internal/customer/domain"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	"github.com/fairwaylabs/fairway/internal/subscription/domain"
	"github.com/fairwaylabs/fairway/internal/tenantctx"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	TierSvc     tierdomain.Service
	CustomerSvc customerdomain.Service
	LedgerSvc   ledgerdomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	tierSvc     tierdomain.Service
	customerSvc customerdomain.Service
	ledgerSvc   ledgerdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("subscription.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		tierSvc:     p.TierSvc,
		customerSvc: p.CustomerSvc,
		ledgerSvc:   p.LedgerSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateSubscriptionRequest) (domain.Subscription, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Subscription{}, domain.ErrInvalidTenant
	}
	if req.BillingCycle != domain.CycleMonthly && req.BillingCycle != domain.CycleAnnual {
		return domain.Subscription{}, domain.ErrInvalidCycle
	}

	customer, err := s.customerSvc.GetByID(ctx, customerdomain.GetCustomerRequest{ID: req.CustomerID})
	if err != nil {
		if err == customerdomain.ErrNotFound || err == customerdomain.ErrInvalidID {
			return domain.Subscription{}, domain.ErrInvalidCustomer
		}
		return domain.Subscription{}, err
	}

	tier, err := s.tierSvc.GetByCode(ctx, req.TierCode)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !tier.Active {
		return domain.Subscription{}, tierdomain.ErrTierNotFound
	}

	metadata := datatypes.JSONMap{}
	for key, value := range req.Metadata {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	now := s.clock.Now().UTC()
	periodEnd := req.BillingCycle.PeriodLength(now)
	sub := domain.Subscription{
		ID:                 s.genID.Generate(),
		TenantID:           tenantID,
		CustomerID:         customer.ID,
		TierID:             tier.ID,
		TierFamily:         tier.Family,
		BillingCycle:       req.BillingCycle,
		PriceCents:         priceFor(*tier, req.BillingCycle),
		Currency:           tier.Currency,
		SetupFeeCents:      tier.SetupFeeCents,
		Status:             domain.StatusActive,
		TrialEndsAt:        req.TrialEndsAt,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   periodEnd,
		NextRenewalAt:      &periodEnd,
		Metadata:           metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindActive(ctx, tx, tenantID, customer.ID, tier.Family)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrDuplicateSubscription
		}
		if err := s.repo.Insert(ctx, tx, &sub); err != nil {
			return err
		}

		customerID := customer.ID
		subID := sub.ID
		if _, err := s.ledgerSvc.RecordTx(ctx, tx, ledgerdomain.RecordRequest{
			EventID:        fmt.Sprintf("subscription_created:%s", sub.ID),
			TenantID:       tenantID,
			Type:           ledgerdomain.EventSubscriptionCreated,
			Stream:         streamFor(tier.Family),
			AmountCents:    sub.PriceCents,
			Currency:       sub.Currency,
			OccurredAt:     now,
			SubscriptionID: &subID,
			CustomerID:     &customerID,
		}); err != nil {
			return err
		}
		if sub.SetupFeeCents > 0 {
			if _, err := s.ledgerSvc.RecordTx(ctx, tx, ledgerdomain.RecordRequest{
				EventID:        fmt.Sprintf("setup_fee:%s", sub.ID),
				TenantID:       tenantID,
				Type:           ledgerdomain.EventSetupFee,
				Stream:         streamFor(tier.Family),
				AmountCents:    sub.SetupFeeCents,
				Currency:       sub.Currency,
				OccurredAt:     now,
				SubscriptionID: &subID,
				CustomerID:     &customerID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return sub, nil
}

func (s *Service) ChangeTier(ctx context.Context, req domain.ChangeTierRequest) (domain.ChangeTierResult, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.ChangeTierResult{}, domain.ErrInvalidTenant
	}
	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.ChangeTierResult{}, err
	}

	newTier, err := s.tierSvc.GetByCode(ctx, req.TierCode)
	if err != nil {
		return domain.ChangeTierResult{}, err
	}
	if !newTier.Active {
		return domain.ChangeTierResult{}, tierdomain.ErrTierNotFound
	}

	var result domain.ChangeTierResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}
		if sub.Status != domain.StatusActive {
			return &domain.InvalidStateTransition{Current: sub.Status, Attempted: domain.StatusActive}
		}
		if sub.TierID == newTier.ID {
			return domain.ErrSameTier
		}
		if sub.TierFamily != newTier.Family {
			return domain.ErrTierFamilyMismatch
		}

		now := s.clock.Now().UTC()
		oldPrice := sub.PriceCents
		newPrice := priceFor(*newTier, sub.BillingCycle)
		totalDays := daysBetween(sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		remainingDays := daysBetween(now, sub.CurrentPeriodEnd)
		prorationCents := prorate(newPrice-oldPrice, remainingDays, totalDays)

		expectedVersion := sub.Version
		sub.TierID = newTier.ID
		sub.PriceCents = newPrice
		sub.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, sub, expectedVersion); err != nil {
			return err
		}

		if prorationCents != 0 {
			eventType := ledgerdomain.EventSubscriptionProrated
			if prorationCents < 0 {
				eventType = ledgerdomain.EventRefund
			}
			subID := sub.ID
			customerID := sub.CustomerID
			if _, err := s.ledgerSvc.RecordTx(ctx, tx, ledgerdomain.RecordRequest{
				EventID:        fmt.Sprintf("proration:%s:%d", sub.ID, sub.Version),
				TenantID:       tenantID,
				Type:           eventType,
				Stream:         streamFor(sub.TierFamily),
				AmountCents:    prorationCents,
				Currency:       sub.Currency,
				OccurredAt:     now,
				SubscriptionID: &subID,
				CustomerID:     &customerID,
				Metadata: map[string]any{
					"old_price_cents": oldPrice,
					"new_price_cents": newPrice,
					"remaining_days":  remainingDays,
					"total_days":      totalDays,
				},
			}); err != nil {
				return err
			}
		}

		result = domain.ChangeTierResult{Subscription: *sub, ProrationCents: prorationCents}
		return nil
	})
	if err != nil {
		return domain.ChangeTierResult{}, err
	}
	return result, nil
}

func (s *Service) Pause(ctx context.Context, req domain.PauseRequest) (domain.Subscription, error) {
	if req.Duration <= 0 {
		return domain.Subscription{}, domain.ErrInvalidDuration
	}
	return s.transition(ctx, req.ID, domain.StatusPaused, func(sub *domain.Subscription, now time.Time) {
		pauseEnds := now.Add(req.Duration)
		sub.PausedAt = &now
		sub.PauseEndsAt = &pauseEnds
		sub.NextRenewalAt = nil
	})
}

func (s *Service) Resume(ctx context.Context, id string) (domain.Subscription, error) {
	return s.transition(ctx, id, domain.StatusActive, func(sub *domain.Subscription, now time.Time) {
		sub.ResumedAt = &now
		sub.PausedAt = nil
		sub.PauseEndsAt = nil
		renewal := sub.CurrentPeriodEnd
		sub.NextRenewalAt = &renewal
	})
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelRequest) (domain.Subscription, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Subscription{}, domain.ErrReasonRequired
	}
	return s.transition(ctx, req.ID, domain.StatusCanceled, func(sub *domain.Subscription, now time.Time) {
		sub.CanceledAt = &now
		sub.CancelReason = reason
		sub.NextRenewalAt = nil
		sub.PauseEndsAt = nil
	})
}

func (s *Service) transition(ctx context.Context, rawID string, target domain.Status, apply func(*domain.Subscription, time.Time)) (domain.Subscription, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Subscription{}, domain.ErrInvalidTenant
	}
	id, err := s.parseID(rawID)
	if err != nil {
		return domain.Subscription{}, err
	}

	var updated domain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}
		if !isTransitionAllowed(sub.Status, target) {
			return &domain.InvalidStateTransition{Current: sub.Status, Attempted: target}
		}

		now := s.clock.Now().UTC()
		expectedVersion := sub.Version
		sub.Status = target
		apply(sub, now)
		sub.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, sub, expectedVersion); err != nil {
			return err
		}
		updated = *sub
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.log.Info("subscription transition",
		zap.String("subscription_id", updated.ID.String()),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Subscription, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Subscription{}, domain.ErrInvalidTenant
	}
	parsed, err := s.parseID(id)
	if err != nil {
		return domain.Subscription{}, err
	}
	sub, err := s.repo.FindByID(ctx, s.db, tenantID, parsed)
	if err != nil {
		return domain.Subscription{}, err
	}
	if sub == nil {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

func (s *Service) List(ctx context.Context, req domain.ListSubscriptionRequest) (domain.ListSubscriptionResponse, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.ListSubscriptionResponse{}, domain.ErrInvalidTenant
	}

	filter := domain.ListFilter{TenantID: tenantID, Status: req.Status}
	if customerID := strings.TrimSpace(req.CustomerID); customerID != "" {
		parsed, err := snowflake.ParseString(customerID)
		if err != nil || parsed == 0 {
			return domain.ListSubscriptionResponse{}, domain.ErrInvalidCustomer
		}
		filter.CustomerID = parsed
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListSubscriptionResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(sub *domain.Subscription) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        sub.ID.String(),
			CreatedAt: sub.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	subs := make([]domain.Subscription, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		subs = append(subs, *item)
	}

	resp := domain.ListSubscriptionResponse{Subscriptions: subs}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Renew(ctx context.Context, tenantID, id snowflake.ID) (domain.Subscription, error) {
	if tenantID == 0 {
		return domain.Subscription{}, domain.ErrInvalidTenant
	}

	var updated domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}
		if sub.Status != domain.StatusActive {
			return &domain.InvalidStateTransition{Current: sub.Status, Attempted: domain.StatusActive}
		}

		now := s.clock.Now().UTC()
		expectedVersion := sub.Version
		newStart := sub.CurrentPeriodEnd
		newEnd := sub.BillingCycle.PeriodLength(newStart)
		sub.CurrentPeriodStart = newStart
		sub.CurrentPeriodEnd = newEnd
		sub.NextRenewalAt = &newEnd
		sub.DunningAttempts = 0
		sub.DunningFlaggedAt = nil
		sub.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, sub, expectedVersion); err != nil {
			return err
		}

		subID := sub.ID
		customerID := sub.CustomerID
		if _, err := s.ledgerSvc.RecordTx(ctx, tx, ledgerdomain.RecordRequest{
			EventID:        fmt.Sprintf("renewal:%s:%d", sub.ID, newStart.Unix()),
			TenantID:       tenantID,
			Type:           ledgerdomain.EventSubscriptionRenewed,
			Stream:         streamFor(sub.TierFamily),
			AmountCents:    sub.PriceCents,
			Currency:       sub.Currency,
			OccurredAt:     now,
			SubscriptionID: &subID,
			CustomerID:     &customerID,
		}); err != nil {
			return err
		}

		updated = *sub
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return updated, nil
}

func (s *Service) MarkDunning(ctx context.Context, tenantID, id snowflake.ID, nextAttemptAt *time.Time) (int, error) {
	if tenantID == 0 {
		return 0, domain.ErrInvalidTenant
	}
	attempts := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}

		now := s.clock.Now().UTC()
		expectedVersion := sub.Version
		sub.DunningAttempts++
		if nextAttemptAt != nil {
			next := nextAttemptAt.UTC()
			sub.NextRenewalAt = &next
		} else {
			// Out of retries. Park the subscription until an operator
			// resolves the payment problem.
			sub.NextRenewalAt = nil
			if sub.DunningFlaggedAt == nil {
				sub.DunningFlaggedAt = &now
			}
		}
		sub.UpdatedAt = now
		attempts = sub.DunningAttempts
		return s.repo.Update(ctx, tx, sub, expectedVersion)
	})
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func (s *Service) ResumeExpiredPauses(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	resumed := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subs, err := s.repo.ListExpiredPauses(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if sub == nil {
				continue
			}
			expectedVersion := sub.Version
			resumedAt := now.UTC()
			sub.Status = domain.StatusActive
			sub.ResumedAt = &resumedAt
			sub.PausedAt = nil
			sub.PauseEndsAt = nil
			renewal := sub.CurrentPeriodEnd
			sub.NextRenewalAt = &renewal
			sub.UpdatedAt = resumedAt
			if err := s.repo.Update(ctx, tx, sub, expectedVersion); err != nil {
				return err
			}
			resumed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if resumed > 0 {
		s.log.Info("auto-resumed expired pauses", zap.Int("count", resumed))
	}
	return resumed, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func isTransitionAllowed(current, target domain.Status) bool {
	switch current {
	case domain.StatusActive:
		return target == domain.StatusPaused || target == domain.StatusCanceled
	case domain.StatusPaused:
		return target == domain.StatusActive || target == domain.StatusCanceled
	default:
		return false
	}
}

func priceFor(tier tierdomain.Tier, cycle domain.BillingCycle) int64 {
	if cycle == domain.CycleAnnual {
		return tier.AnnualPriceCents
	}
	return tier.MonthlyPriceCents
}

func streamFor(family tierdomain.TierFamily) ledgerdomain.RevenueStream {
	switch family {
	case tierdomain.FamilyConsumer:
		return ledgerdomain.StreamConsumer
	case tierdomain.FamilyWhiteLabel:
		return ledgerdomain.StreamWhiteLabel
	case tierdomain.FamilyAnalytics:
		return ledgerdomain.StreamAnalytics
	default:
		return ledgerdomain.StreamAPI
	}
}

func daysBetween(from, to time.Time) int64 {
	if !from.Before(to) {
		return 0
	}
	return int64(to.Sub(from) / (24 * time.Hour))
}
