// Package guard enforces tenant isolation and role-based authorization.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

const (
	ObjectTenant       = "tenant"
	ObjectCustomer     = "customer"
	ObjectTier         = "tier"
	ObjectSubscription = "subscription"
	ObjectInvoice      = "invoice"
	ObjectLedger       = "ledger"
	ObjectUsage        = "usage"
	ObjectAnalytics    = "analytics"
	ObjectAuditLog     = "audit_log"
	ObjectExport       = "export"
)

const (
	ActionTenantView       = "tenant.view"
	ActionTenantCreate     = "tenant.create"
	ActionTenantUpdate     = "tenant.update"
	ActionTenantTransition = "tenant.transition"

	ActionCustomerView   = "customer.view"
	ActionCustomerCreate = "customer.create"
	ActionCustomerUpdate = "customer.update"

	ActionTierView   = "tier.view"
	ActionTierManage = "tier.manage"

	ActionSubscriptionView   = "subscription.view"
	ActionSubscriptionCreate = "subscription.create"
	ActionSubscriptionChange = "subscription.change"
	ActionSubscriptionPause  = "subscription.pause"
	ActionSubscriptionResume = "subscription.resume"
	ActionSubscriptionCancel = "subscription.cancel"

	ActionInvoiceView     = "invoice.view"
	ActionInvoiceGenerate = "invoice.generate"
	ActionInvoiceSend     = "invoice.send"

	ActionLedgerView   = "ledger.view"
	ActionLedgerAppend = "ledger.append"

	ActionUsageView   = "usage.view"
	ActionUsageIngest = "usage.ingest"

	ActionAnalyticsView = "analytics.view"
	ActionAuditLogView  = "audit_log.view"
	ActionExportRun     = "export.run"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

// CrossTenantViolation reports an attempt to reach another tenant's data.
// It carries enough detail for the audit trail and for operator-facing
// error responses.
type CrossTenantViolation struct {
	RequestingTenant snowflake.ID
	TargetTenant     snowflake.ID
	Action           string
}

func (e *CrossTenantViolation) Error() string {
	return fmt.Sprintf("cross_tenant_violation: tenant %s attempted %q on tenant %s",
		e.RequestingTenant, e.Action, e.TargetTenant)
}

// Service answers two questions: may this actor perform this action at all,
// and may this tenant touch that tenant's data.
type Service interface {
	Authorize(ctx context.Context, actor string, tenantID string, object string, action string) error
	ValidateBoundary(ctx context.Context, requestingTenant, targetTenant snowflake.ID, action string) error
}
