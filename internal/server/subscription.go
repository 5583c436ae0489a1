package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
)

type createSubscriptionRequest struct {
	CustomerID   string         `json:"customer_id"`
	TierCode     string         `json:"tier_code"`
	BillingCycle string         `json:"billing_cycle"`
	TrialEndsAt  string         `json:"trial_ends_at"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	trialEndsAt, err := parseOptionalTime(req.TrialEndsAt, false)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.subSvc.Create(c.Request.Context(), subscriptiondomain.CreateSubscriptionRequest{
		CustomerID:   strings.TrimSpace(req.CustomerID),
		TierCode:     strings.TrimSpace(req.TierCode),
		BillingCycle: subscriptiondomain.BillingCycle(strings.ToUpper(strings.TrimSpace(req.BillingCycle))),
		TrialEndsAt:  trialEndsAt,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSubscription(c, "subscription.create", resp, nil)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
		Status     string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.subSvc.List(c.Request.Context(), subscriptiondomain.ListSubscriptionRequest{
		Pagination: query.Pagination,
		CustomerID: strings.TrimSpace(query.CustomerID),
		Status:     subscriptiondomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSubscription(c *gin.Context) {
	resp, err := s.subSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type changeTierRequest struct {
	TierCode string `json:"tier_code"`
}

func (s *Server) ChangeSubscriptionTier(c *gin.Context) {
	var req changeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.subSvc.ChangeTier(c.Request.Context(), subscriptiondomain.ChangeTierRequest{
		ID:       strings.TrimSpace(c.Param("id")),
		TierCode: strings.TrimSpace(req.TierCode),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSubscription(c, "subscription.change_tier", result.Subscription, map[string]any{
		"tier_code":       strings.TrimSpace(req.TierCode),
		"proration_cents": result.ProrationCents,
	})
	c.JSON(http.StatusOK, gin.H{"data": result})
}

type pauseSubscriptionRequest struct {
	DurationHours int64 `json:"duration_hours"`
}

func (s *Server) PauseSubscription(c *gin.Context) {
	var req pauseSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.subSvc.Pause(c.Request.Context(), subscriptiondomain.PauseRequest{
		ID:       strings.TrimSpace(c.Param("id")),
		Duration: time.Duration(req.DurationHours) * time.Hour,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSubscription(c, "subscription.pause", resp, map[string]any{
		"duration_hours": req.DurationHours,
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	resp, err := s.subSvc.Resume(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSubscription(c, "subscription.resume", resp, nil)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type cancelSubscriptionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req cancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.subSvc.Cancel(c.Request.Context(), subscriptiondomain.CancelRequest{
		ID:     strings.TrimSpace(c.Param("id")),
		Reason: strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSubscription(c, "subscription.cancel", resp, map[string]any{
		"reason": strings.TrimSpace(req.Reason),
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) auditSubscription(c *gin.Context, action string, sub subscriptiondomain.Subscription, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	tenantID, _ := tenantIDFrom(c)
	targetID := sub.ID.String()
	_ = s.auditSvc.AuditLog(c.Request.Context(), &tenantID, "operator", nil, action, "subscription", &targetID, metadata)
}
