package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
)

type createTierRequest struct {
	Code              string         `json:"code"`
	Family            string         `json:"family"`
	Name              string         `json:"name"`
	Currency          string         `json:"currency"`
	MonthlyPriceCents int64          `json:"monthly_price_cents"`
	AnnualPriceCents  int64          `json:"annual_price_cents"`
	SetupFeeCents     int64          `json:"setup_fee_cents"`
	IncludedAPICalls  int64          `json:"included_api_calls"`
	IncludedStorageGB int64          `json:"included_storage_gb"`
	IncludedBandwidth int64          `json:"included_bandwidth_gb"`
	OverageRates      map[string]any `json:"overage_rates"`
}

func (s *Server) CreateTier(c *gin.Context) {
	var req createTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.tierSvc.Create(c.Request.Context(), tierdomain.CreateTierRequest{
		Code:              strings.TrimSpace(req.Code),
		Family:            tierdomain.TierFamily(strings.TrimSpace(req.Family)),
		Name:              strings.TrimSpace(req.Name),
		Currency:          strings.TrimSpace(req.Currency),
		MonthlyPriceCents: req.MonthlyPriceCents,
		AnnualPriceCents:  req.AnnualPriceCents,
		SetupFeeCents:     req.SetupFeeCents,
		IncludedAPICalls:  req.IncludedAPICalls,
		IncludedStorageGB: req.IncludedStorageGB,
		IncludedBandwidth: req.IncludedBandwidth,
		OverageRates:      req.OverageRates,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := resp.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "system", nil, "tier.create", "tier", &targetID, map[string]any{
			"code":   resp.Code,
			"family": string(resp.Family),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateTierRequest struct {
	Name              *string        `json:"name"`
	MonthlyPriceCents *int64         `json:"monthly_price_cents"`
	AnnualPriceCents  *int64         `json:"annual_price_cents"`
	SetupFeeCents     *int64         `json:"setup_fee_cents"`
	Active            *bool          `json:"active"`
	OverageRates      map[string]any `json:"overage_rates"`
}

func (s *Server) UpdateTier(c *gin.Context) {
	var req updateTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.tierSvc.Update(c.Request.Context(), tierdomain.UpdateTierRequest{
		ID:                strings.TrimSpace(c.Param("id")),
		Name:              req.Name,
		MonthlyPriceCents: req.MonthlyPriceCents,
		AnnualPriceCents:  req.AnnualPriceCents,
		SetupFeeCents:     req.SetupFeeCents,
		Active:            req.Active,
		OverageRates:      req.OverageRates,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := resp.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "system", nil, "tier.update", "tier", &targetID, nil)
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTiers(c *gin.Context) {
	var query struct {
		Family     string `form:"family"`
		ActiveOnly bool   `form:"active_only"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.tierSvc.List(c.Request.Context(), tierdomain.ListTierRequest{
		Family:     tierdomain.TierFamily(strings.TrimSpace(query.Family)),
		ActiveOnly: query.ActiveOnly,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"tiers": resp}})
}

func (s *Server) GetTier(c *gin.Context) {
	resp, err := s.tierSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
