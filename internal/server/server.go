// Package server exposes the HTTP surface: the admin API, the metering
// ingestion endpoint and operational probes.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairwaylabs/fairway/internal/analytics"
	analyticsdomain "github.com/fairwaylabs/fairway/internal/analytics/domain"
	"github.com/fairwaylabs/fairway/internal/audit"
	auditdomain "github.com/fairwaylabs/fairway/internal/audit/domain"
	"github.com/fairwaylabs/fairway/internal/billing"
	"github.com/fairwaylabs/fairway/internal/config"
	"github.com/fairwaylabs/fairway/internal/customer"
	customerdomain "github.com/fairwaylabs/fairway/internal/customer/domain"
	"github.com/fairwaylabs/fairway/internal/guard"
	"github.com/fairwaylabs/fairway/internal/identity"
	"github.com/fairwaylabs/fairway/internal/invoice"
	invoicedomain "github.com/fairwaylabs/fairway/internal/invoice/domain"
	"github.com/fairwaylabs/fairway/internal/ledger"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	"github.com/fairwaylabs/fairway/internal/observability"
	obslogger "github.com/fairwaylabs/fairway/internal/observability/logger"
	obsmetrics "github.com/fairwaylabs/fairway/internal/observability/metrics"
	obstracing "github.com/fairwaylabs/fairway/internal/observability/tracing"
	"github.com/fairwaylabs/fairway/internal/payment"
	"github.com/fairwaylabs/fairway/internal/ratelimit"
	"github.com/fairwaylabs/fairway/internal/subscription"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	"github.com/fairwaylabs/fairway/internal/tenant"
	tenantdomain "github.com/fairwaylabs/fairway/internal/tenant/domain"
	"github.com/fairwaylabs/fairway/internal/tier"
	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
	"github.com/fairwaylabs/fairway/internal/usage"
	usagedomain "github.com/fairwaylabs/fairway/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	tenant.Module,
	guard.Module,
	identity.Module,
	customer.Module,
	tier.Module,
	subscription.Module,
	ledger.Module,
	usage.Module,
	ratelimit.Module,
	payment.Module,
	invoice.Module,
	billing.Module,
	analytics.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, appMetrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(appMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, appMetrics *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(obsCfg, appMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	tenantSvc    tenantdomain.Service
	guardSvc     guard.Service
	identitySvc  identity.Resolver
	auditSvc     auditdomain.Service
	customerSvc  customerdomain.Service
	tierSvc      tierdomain.Service
	subSvc       subscriptiondomain.Service
	ledgerSvc    ledgerdomain.Service
	usageSvc     usagedomain.Service
	invoiceSvc   invoicedomain.Service
	billingSvc   billing.Service
	analyticsSvc analyticsdomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	TenantSvc    tenantdomain.Service
	GuardSvc     guard.Service
	IdentitySvc  identity.Resolver
	AuditSvc     auditdomain.Service
	CustomerSvc  customerdomain.Service
	TierSvc      tierdomain.Service
	SubSvc       subscriptiondomain.Service
	LedgerSvc    ledgerdomain.Service
	UsageSvc     usagedomain.Service
	InvoiceSvc   invoicedomain.Service
	BillingSvc   billing.Service
	AnalyticsSvc analyticsdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		tenantSvc:    p.TenantSvc,
		guardSvc:     p.GuardSvc,
		identitySvc:  p.IdentitySvc,
		auditSvc:     p.AuditSvc,
		customerSvc:  p.CustomerSvc,
		tierSvc:      p.TierSvc,
		subSvc:       p.SubSvc,
		ledgerSvc:    p.LedgerSvc,
		usageSvc:     p.UsageSvc,
		invoiceSvc:   p.InvoiceSvc,
		billingSvc:   p.BillingSvc,
		analyticsSvc: p.AnalyticsSvc,
	}

	svc.registerMeteringRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) registerMeteringRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.TenantMiddleware())

	v1.POST("/metering/calls", s.Authorized(guard.ObjectUsage, guard.ActionUsageIngest), s.RecordMeteredCall)
	v1.GET("/metering/usage", s.Authorized(guard.ObjectUsage, guard.ActionUsageView), s.CurrentUsage)
	v1.GET("/metering/quota", s.Authorized(guard.ObjectUsage, guard.ActionUsageView), s.CheckQuota)
	v1.GET("/metering/rate-limit", s.Authorized(guard.ObjectUsage, guard.ActionUsageView), s.CheckRateLimit)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin/v1")

	admin.POST("/tenants", s.CreateTenant)
	admin.GET("/tenants/:id", s.GetTenant)
	admin.PATCH("/tenants/:id", s.UpdateTenant)
	admin.POST("/tenants/:id/suspend", s.SuspendTenant)
	admin.POST("/tenants/:id/archive", s.ArchiveTenant)
	admin.GET("/tenants/:id/children", s.ListTenantChildren)
	admin.GET("/tenants/:id/export", s.ExportTenant)

	admin.POST("/tiers", s.CreateTier)
	admin.PATCH("/tiers/:id", s.UpdateTier)
	admin.GET("/tiers", s.ListTiers)
	admin.GET("/tiers/:id", s.GetTier)

	scoped := admin.Group("")
	scoped.Use(s.TenantMiddleware())

	scoped.POST("/customers", s.Authorized(guard.ObjectCustomer, guard.ActionCustomerCreate), s.CreateCustomer)
	scoped.GET("/customers", s.Authorized(guard.ObjectCustomer, guard.ActionCustomerView), s.ListCustomers)
	scoped.GET("/customers/:id", s.Authorized(guard.ObjectCustomer, guard.ActionCustomerView), s.GetCustomerByID)

	scoped.POST("/subscriptions", s.Authorized(guard.ObjectSubscription, guard.ActionSubscriptionCreate), s.CreateSubscription)
	scoped.GET("/subscriptions", s.Authorized(guard.ObjectSubscription, guard.ActionSubscriptionView), s.ListSubscriptions)
	scoped.GET("/subscriptions/:id", s.Authorized(guard.ObjectSubscription, guard.ActionSubscriptionView), s.GetSubscription)
	scoped.POST("/subscriptions/:id/change-tier", s.Authorized(guard.ObjectSubscription, guard.ActionSubscriptionChange), s.ChangeSubscriptionTier)
	scoped.POST("/subscriptions/:id/pause", s.Authorized(guard.ObjectSubscription, guard.ActionSubscriptionPause), s.PauseSubscription)
	scoped.POST("/subscriptions/:id/resume", s.Authorized(guard.ObjectSubscription, guard.ActionSubscriptionResume), s.ResumeSubscription)
	scoped.POST("/subscriptions/:id/cancel", s.Authorized(guard.ObjectSubscription, guard.ActionSubscriptionCancel), s.CancelSubscription)

	scoped.POST("/revenue-events", s.Authorized(guard.ObjectLedger, guard.ActionLedgerAppend), s.RecordRevenueEvent)
	scoped.GET("/revenue-events", s.Authorized(guard.ObjectLedger, guard.ActionLedgerView), s.QueryRevenueEvents)
	scoped.GET("/revenue-metrics", s.Authorized(guard.ObjectLedger, guard.ActionLedgerView), s.RevenueMetrics)

	scoped.GET("/invoices", s.Authorized(guard.ObjectInvoice, guard.ActionInvoiceView), s.ListInvoices)
	scoped.GET("/invoices/:id", s.Authorized(guard.ObjectInvoice, guard.ActionInvoiceView), s.GetInvoice)
	scoped.GET("/invoices/:id/pdf", s.Authorized(guard.ObjectInvoice, guard.ActionInvoiceView), s.RenderInvoicePDF)
	scoped.POST("/invoices/:id/pay", s.Authorized(guard.ObjectInvoice, guard.ActionInvoiceSend), s.PayInvoice)
	scoped.POST("/payments", s.Authorized(guard.ObjectInvoice, guard.ActionInvoiceGenerate), s.ProcessPayment)

	scoped.GET("/analytics/report", s.Authorized(guard.ObjectAnalytics, guard.ActionAnalyticsView), s.AnalyticsReport)
	scoped.GET("/audit-logs", s.Authorized(guard.ObjectAuditLog, guard.ActionAuditLogView), s.ListAuditLogs)
}
