package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	customerdomain "github.com/fairwaylabs/fairway/internal/customer/domain"
	invoicedomain "github.com/fairwaylabs/fairway/internal/invoice/domain"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	tenantdomain "github.com/fairwaylabs/fairway/internal/tenant/domain"
	"github.com/fairwaylabs/fairway/internal/tenantctx"
	usagedomain "github.com/fairwaylabs/fairway/internal/usage/domain"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
)

type createTenantRequest struct {
	Name     string                      `json:"name"`
	Slug     string                      `json:"slug"`
	Type     string                      `json:"type"`
	ParentID string                      `json:"parent_id"`
	Branding map[string]any              `json:"branding"`
	Features map[string]any              `json:"features"`
	Limits   tenantdomain.ResourceLimits `json:"limits"`
}

func (s *Server) CreateTenant(c *gin.Context) {
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.tenantSvc.Create(c.Request.Context(), tenantdomain.CreateTenantRequest{
		Name:     strings.TrimSpace(req.Name),
		Slug:     strings.TrimSpace(req.Slug),
		Type:     tenantdomain.TenantType(strings.TrimSpace(req.Type)),
		ParentID: strings.TrimSpace(req.ParentID),
		Branding: req.Branding,
		Features: req.Features,
		Limits:   req.Limits,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := resp.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), &resp.ID, "system", nil, "tenant.create", "tenant", &targetID, map[string]any{
			"slug": resp.Slug,
			"type": string(resp.Type),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetTenant(c *gin.Context) {
	resp, err := s.tenantSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateTenantRequest struct {
	Name     *string                      `json:"name"`
	Slug     *string                      `json:"slug"`
	Branding map[string]any               `json:"branding"`
	Features map[string]any               `json:"features"`
	Limits   *tenantdomain.ResourceLimits `json:"limits"`
}

func (s *Server) UpdateTenant(c *gin.Context) {
	var req updateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.tenantSvc.Update(c.Request.Context(), tenantdomain.UpdateTenantRequest{
		ID:       strings.TrimSpace(c.Param("id")),
		Name:     req.Name,
		Slug:     req.Slug,
		Branding: req.Branding,
		Features: req.Features,
		Limits:   req.Limits,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := resp.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), &resp.ID, "system", nil, "tenant.update", "tenant", &targetID, nil)
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SuspendTenant(c *gin.Context) {
	s.transitionTenant(c, tenantdomain.TenantStatusSuspended, "tenant.suspend")
}

func (s *Server) ArchiveTenant(c *gin.Context) {
	s.transitionTenant(c, tenantdomain.TenantStatusArchived, "tenant.archive")
}

func (s *Server) transitionTenant(c *gin.Context, target tenantdomain.TenantStatus, auditAction string) {
	id := strings.TrimSpace(c.Param("id"))
	if err := s.tenantSvc.Transition(c.Request.Context(), id, target); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.tenantSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := resp.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), &resp.ID, "system", nil, auditAction, "tenant", &targetID, map[string]any{
			"status": string(resp.Status),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTenantChildren(c *gin.Context) {
	resp, err := s.tenantSvc.ListChildren(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"children": resp}})
}

// tenantExport is the full portable snapshot of one tenant's revenue
// data: tenant, customers, subscriptions, invoices, revenue events and
// usage rollups.
type tenantExport struct {
	Tenant        *tenantdomain.Tenant              `json:"tenant"`
	Customers     []customerdomain.Customer         `json:"customers"`
	Subscriptions []subscriptiondomain.Subscription `json:"subscriptions"`
	Invoices      []invoicedomain.Invoice           `json:"invoices"`
	RevenueEvents []ledgerdomain.RevenueEvent       `json:"revenue_events"`
	UsageRollups  []usagedomain.Rollup              `json:"usage_rollups"`
}

const exportPageSize = 200

func (s *Server) ExportTenant(c *gin.Context) {
	tenant, err := s.tenantSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := tenantctx.WithTenantID(c.Request.Context(), tenant.ID)
	export := tenantExport{Tenant: tenant}

	for token := ""; ; {
		page, err := s.customerSvc.List(ctx, customerdomain.ListCustomerRequest{
			PageToken: token,
			PageSize:  exportPageSize,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		export.Customers = append(export.Customers, page.Customers...)
		if !page.HasMore {
			break
		}
		token = page.NextPageToken
	}

	for token := ""; ; {
		page, err := s.subSvc.List(ctx, subscriptiondomain.ListSubscriptionRequest{
			Pagination: pagination.Pagination{PageToken: token, PageSize: exportPageSize},
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		export.Subscriptions = append(export.Subscriptions, page.Subscriptions...)
		if !page.HasMore {
			break
		}
		token = page.NextPageToken
	}

	for token := ""; ; {
		page, err := s.invoiceSvc.List(ctx, invoicedomain.ListInvoiceRequest{
			Pagination: pagination.Pagination{PageToken: token, PageSize: exportPageSize},
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		export.Invoices = append(export.Invoices, page.Invoices...)
		if !page.HasMore {
			break
		}
		token = page.NextPageToken
	}

	for token := ""; ; {
		page, err := s.ledgerSvc.Query(ctx, ledgerdomain.QueryRequest{
			Pagination: pagination.Pagination{PageToken: token, PageSize: exportPageSize},
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		export.RevenueEvents = append(export.RevenueEvents, page.Events...)
		if !page.HasMore {
			break
		}
		token = page.NextPageToken
	}

	rollups, err := s.usageSvc.Rollups(ctx, tenant.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	export.UsageRollups = rollups

	if s.auditSvc != nil {
		targetID := tenant.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &tenant.ID, "system", nil, "tenant.export", "tenant", &targetID, map[string]any{
			"customers":      len(export.Customers),
			"subscriptions":  len(export.Subscriptions),
			"invoices":       len(export.Invoices),
			"revenue_events": len(export.RevenueEvents),
			"usage_rollups":  len(export.UsageRollups),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": export})
}
