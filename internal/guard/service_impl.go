package guard

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/fairwaylabs/fairway/internal/audit/domain"
	tenantdomain "github.com/fairwaylabs/fairway/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Enforcer  *casbin.SyncedEnforcer
	TenantSvc tenantdomain.Service
	AuditSvc  auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db        *gorm.DB
	log       *zap.Logger
	enforcer  *casbin.SyncedEnforcer
	tenantSvc tenantdomain.Service
	auditSvc  auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:        p.DB,
		log:       p.Log.Named("guard.service"),
		enforcer:  p.Enforcer,
		tenantSvc: p.TenantSvc,
		auditSvc:  p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, tenantID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ErrInvalidTenant
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := s.resolveActor(ctx, actor, tenantID)
	if err != nil {
		s.auditDenied(ctx, actorType, actorID, tenantID, object, action)
		return err
	}

	domain := fmt.Sprintf("tenant:%s", tenantID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actorID, tenantID, object, action)
		return ErrForbidden
	}
	return nil
}

// ValidateBoundary rejects any request whose target tenant differs from the
// requesting tenant. The single exception is an enterprise chain acting on
// one of its own descendants.
func (s *ServiceImpl) ValidateBoundary(ctx context.Context, requestingTenant, targetTenant snowflake.ID, action string) error {
	if requestingTenant == 0 || targetTenant == 0 {
		return ErrInvalidTenant
	}
	if requestingTenant == targetTenant {
		return nil
	}

	descendant, err := s.tenantSvc.IsDescendant(ctx, requestingTenant, targetTenant)
	if err != nil {
		return err
	}
	if descendant {
		return nil
	}

	violation := &CrossTenantViolation{
		RequestingTenant: requestingTenant,
		TargetTenant:     targetTenant,
		Action:           action,
	}
	s.log.Warn("cross-tenant access denied",
		zap.String("requesting_tenant", requestingTenant.String()),
		zap.String("target_tenant", targetTenant.String()),
		zap.String("action", action),
	)
	s.auditViolation(ctx, violation)
	return violation
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, tenantID string) (string, string, string, *string, error) {
	if actor == "system" {
		return actor, "role:system", "system", nil, nil
	}
	if strings.HasPrefix(actor, "operator:") {
		operatorIDRaw := strings.TrimPrefix(actor, "operator:")
		operatorID, err := snowflake.ParseString(operatorIDRaw)
		if err != nil || operatorID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		parsedTenantID, err := snowflake.ParseString(tenantID)
		operatorIDStr := operatorID.String()
		if err != nil || parsedTenantID == 0 {
			return actor, "", "operator", &operatorIDStr, ErrInvalidTenant
		}
		role, err := s.roleForOperator(ctx, parsedTenantID, operatorID)
		if err != nil {
			return actor, "", "operator", &operatorIDStr, err
		}
		return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), "operator", &operatorIDStr, nil
	}
	return "", "", "", nil, ErrInvalidActor
}

func (s *ServiceImpl) roleForOperator(ctx context.Context, tenantID snowflake.ID, operatorID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	// operator_id is a text column; bind the string form so postgres
	// compares like types.
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM tenant_operators
		 WHERE tenant_id = ? AND operator_id = ?
		 LIMIT 1`,
		tenantID,
		operatorID.String(),
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID *string, tenantID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	parsedTenantID, err := snowflake.ParseString(tenantID)
	if err != nil || parsedTenantID == 0 {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, &parsedTenantID, actorType, actorID, "guard.denied", "guard", &targetID, map[string]any{
		"object": object,
		"action": action,
	})
}

func (s *ServiceImpl) auditViolation(ctx context.Context, violation *CrossTenantViolation) {
	if s.auditSvc == nil {
		return
	}
	requesting := violation.RequestingTenant
	targetID := violation.TargetTenant.String()
	_ = s.auditSvc.AuditLog(ctx, &requesting, string(auditdomain.ActorTypeTenant), nil, "guard.cross_tenant_violation", "tenant", &targetID, map[string]any{
		"action": violation.Action,
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:member", ObjectSubscription, ActionSubscriptionView},
		{"role:member", ObjectInvoice, ActionInvoiceView},
		{"role:member", ObjectUsage, ActionUsageView},

		{"role:admin", ObjectTenant, ActionTenantView},
		{"role:admin", ObjectTenant, ActionTenantUpdate},
		{"role:admin", ObjectCustomer, ActionCustomerView},
		{"role:admin", ObjectCustomer, ActionCustomerCreate},
		{"role:admin", ObjectCustomer, ActionCustomerUpdate},
		{"role:admin", ObjectSubscription, ActionSubscriptionView},
		{"role:admin", ObjectSubscription, ActionSubscriptionCreate},
		{"role:admin", ObjectSubscription, ActionSubscriptionChange},
		{"role:admin", ObjectSubscription, ActionSubscriptionPause},
		{"role:admin", ObjectSubscription, ActionSubscriptionResume},
		{"role:admin", ObjectInvoice, ActionInvoiceView},
		{"role:admin", ObjectInvoice, ActionInvoiceSend},
		{"role:admin", ObjectLedger, ActionLedgerView},
		{"role:admin", ObjectUsage, ActionUsageView},
		{"role:admin", ObjectAnalytics, ActionAnalyticsView},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},

		{"role:owner", ObjectTenant, ActionTenantView},
		{"role:owner", ObjectTenant, ActionTenantUpdate},
		{"role:owner", ObjectTenant, ActionTenantTransition},
		{"role:owner", ObjectCustomer, ActionCustomerView},
		{"role:owner", ObjectCustomer, ActionCustomerCreate},
		{"role:owner", ObjectCustomer, ActionCustomerUpdate},
		{"role:owner", ObjectSubscription, ActionSubscriptionView},
		{"role:owner", ObjectSubscription, ActionSubscriptionCreate},
		{"role:owner", ObjectSubscription, ActionSubscriptionChange},
		{"role:owner", ObjectSubscription, ActionSubscriptionPause},
		{"role:owner", ObjectSubscription, ActionSubscriptionResume},
		{"role:owner", ObjectSubscription, ActionSubscriptionCancel},
		{"role:owner", ObjectInvoice, ActionInvoiceView},
		{"role:owner", ObjectInvoice, ActionInvoiceSend},
		{"role:owner", ObjectLedger, ActionLedgerView},
		{"role:owner", ObjectUsage, ActionUsageView},
		{"role:owner", ObjectAnalytics, ActionAnalyticsView},
		{"role:owner", ObjectAuditLog, ActionAuditLogView},
		{"role:owner", ObjectExport, ActionExportRun},

		{"role:system", ObjectTenant, ActionTenantView},
		{"role:system", ObjectTenant, ActionTenantCreate},
		{"role:system", ObjectTenant, ActionTenantUpdate},
		{"role:system", ObjectTenant, ActionTenantTransition},
		{"role:system", ObjectCustomer, ActionCustomerView},
		{"role:system", ObjectCustomer, ActionCustomerCreate},
		{"role:system", ObjectCustomer, ActionCustomerUpdate},
		{"role:system", ObjectTier, ActionTierView},
		{"role:system", ObjectTier, ActionTierManage},
		{"role:system", ObjectSubscription, ActionSubscriptionView},
		{"role:system", ObjectSubscription, ActionSubscriptionCreate},
		{"role:system", ObjectSubscription, ActionSubscriptionChange},
		{"role:system", ObjectSubscription, ActionSubscriptionPause},
		{"role:system", ObjectSubscription, ActionSubscriptionResume},
		{"role:system", ObjectSubscription, ActionSubscriptionCancel},
		{"role:system", ObjectInvoice, ActionInvoiceView},
		{"role:system", ObjectInvoice, ActionInvoiceGenerate},
		{"role:system", ObjectInvoice, ActionInvoiceSend},
		{"role:system", ObjectLedger, ActionLedgerView},
		{"role:system", ObjectLedger, ActionLedgerAppend},
		{"role:system", ObjectUsage, ActionUsageView},
		{"role:system", ObjectUsage, ActionUsageIngest},
		{"role:system", ObjectAnalytics, ActionAnalyticsView},
		{"role:system", ObjectAuditLog, ActionAuditLogView},
		{"role:system", ObjectExport, ActionExportRun},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
