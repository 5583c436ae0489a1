package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
)

type CreateSubscriptionRequest struct {
	CustomerID   string
	TierCode     string
	BillingCycle BillingCycle
	TrialEndsAt  *time.Time
	Metadata     map[string]any
}

type ChangeTierRequest struct {
	ID       string
	TierCode string
}

// ChangeTierResult carries the proration outcome alongside the updated
// subscription.
type ChangeTierResult struct {
	Subscription   Subscription
	ProrationCents int64
}

type PauseRequest struct {
	ID       string
	Duration time.Duration
}

type CancelRequest struct {
	ID     string
	Reason string
}

type ListSubscriptionRequest struct {
	pagination.Pagination
	CustomerID string
	Status     Status
}

type ListSubscriptionResponse struct {
	pagination.PageInfo
	Subscriptions []Subscription `json:"subscriptions"`
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	ChangeTier(ctx context.Context, req ChangeTierRequest) (ChangeTierResult, error)
	Pause(ctx context.Context, req PauseRequest) (Subscription, error)
	Resume(ctx context.Context, id string) (Subscription, error)
	Cancel(ctx context.Context, req CancelRequest) (Subscription, error)
	GetByID(ctx context.Context, id string) (Subscription, error)
	List(ctx context.Context, req ListSubscriptionRequest) (ListSubscriptionResponse, error)

	// Renew advances the billing period after a successful charge and
	// appends the renewal revenue event. Called by the billing
	// orchestrator, not by tenants.
	Renew(ctx context.Context, tenantID, id snowflake.ID) (Subscription, error)
	// MarkDunning records a failed renewal charge. A non-nil nextAttemptAt
	// schedules the next automatic retry; nil stops automatic retries and
	// flags the subscription for manual intervention. The subscription
	// stays ACTIVE either way. Returns the attempt count so far.
	MarkDunning(ctx context.Context, tenantID, id snowflake.ID, nextAttemptAt *time.Time) (int, error)
	ResumeExpiredPauses(ctx context.Context, now time.Time, limit int) (int, error)
}

var (
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrInvalidID             = errors.New("invalid_id")
	ErrInvalidCustomer       = errors.New("invalid_customer")
	ErrInvalidCycle          = errors.New("invalid_billing_cycle")
	ErrInvalidDuration       = errors.New("invalid_pause_duration")
	ErrReasonRequired        = errors.New("cancel_reason_required")
	ErrSameTier              = errors.New("same_tier")
	ErrTierFamilyMismatch    = errors.New("tier_family_mismatch")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrDuplicateSubscription = errors.New("duplicate_subscription")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
)
