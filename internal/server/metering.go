package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	tierdomain "github.com/fairwaylabs/fairway/internal/tier/domain"
)

type recordMeteredCallRequest struct {
	Endpoint   string `json:"endpoint"`
	StatusCode int    `json:"status_code"`
	LatencyMS  int64  `json:"latency_ms"`
	Bytes      int64  `json:"bytes"`
}

// RecordMeteredCall ingests one API call sample. The recorder is
// fire-and-forget: the response is always 202 and a full ingest queue
// drops the sample rather than slowing the caller down.
func (s *Server) RecordMeteredCall(c *gin.Context) {
	var req recordMeteredCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	s.usageSvc.RecordCall(tenantID, strings.TrimSpace(req.Endpoint), req.StatusCode, req.LatencyMS, req.Bytes)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) CurrentUsage(c *gin.Context) {
	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	resp, err := s.usageSvc.CurrentUsage(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CheckQuota(c *gin.Context) {
	var query struct {
		Quota string `form:"quota"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	quota := tierdomain.QuotaType(strings.TrimSpace(query.Quota))
	if quota == "" {
		quota = tierdomain.QuotaAPICalls
	}

	resp, err := s.usageSvc.CheckQuota(c.Request.Context(), tenantID, quota)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CheckRateLimit(c *gin.Context) {
	var query struct {
		Endpoint string `form:"endpoint"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	decision, err := s.usageSvc.CheckRateLimit(c.Request.Context(), tenantID, strings.TrimSpace(query.Endpoint))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !decision.Allowed {
		c.Header("Retry-After", formatRetryAfter(decision.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{"data": decision})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func formatRetryAfter(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}
