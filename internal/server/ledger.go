package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
)

type recordRevenueEventRequest struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	Stream         string         `json:"stream"`
	AmountCents    int64          `json:"amount_cents"`
	Currency       string         `json:"currency"`
	OccurredAt     string         `json:"occurred_at"`
	SubscriptionID string         `json:"subscription_id"`
	CustomerID     string         `json:"customer_id"`
	InvoiceID      string         `json:"invoice_id"`
	Metadata       map[string]any `json:"metadata"`
}

// RecordRevenueEvent appends a manually entered event, typically a refund
// or a migration adjustment. Replays of the same event_id are answered
// with the stored event.
func (s *Server) RecordRevenueEvent(c *gin.Context) {
	var req recordRevenueEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tenantID, ok := tenantIDFrom(c)
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return
	}

	occurredAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.OccurredAt))
	if err != nil {
		AbortWithError(c, ledgerdomain.ErrInvalidOccurredAt)
		return
	}

	record := ledgerdomain.RecordRequest{
		EventID:     strings.TrimSpace(req.EventID),
		TenantID:    tenantID,
		Type:        ledgerdomain.EventType(strings.TrimSpace(req.Type)),
		Stream:      ledgerdomain.RevenueStream(strings.TrimSpace(req.Stream)),
		Source:      ledgerdomain.SourceManual,
		AmountCents: req.AmountCents,
		Currency:    strings.TrimSpace(req.Currency),
		OccurredAt:  occurredAt,
		Metadata:    req.Metadata,
	}

	if resolved, err := optionalID(req.SubscriptionID); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	} else {
		record.SubscriptionID = resolved
	}
	if resolved, err := optionalID(req.CustomerID); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	} else {
		record.CustomerID = resolved
	}
	if resolved, err := optionalID(req.InvoiceID); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	} else {
		record.InvoiceID = resolved
	}

	resp, err := s.ledgerSvc.Record(c.Request.Context(), record)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := resp.EventID
		_ = s.auditSvc.AuditLog(c.Request.Context(), &tenantID, "operator", nil, "ledger.record", "revenue_event", &targetID, map[string]any{
			"type":         string(resp.Type),
			"amount_cents": resp.AmountCents,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) QueryRevenueEvents(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Type    string `form:"type"`
		Stream  string `form:"stream"`
		StartAt string `form:"start_at"`
		EndAt   string `form:"end_at"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.ledgerSvc.Query(c.Request.Context(), ledgerdomain.QueryRequest{
		Pagination: query.Pagination,
		Type:       ledgerdomain.EventType(strings.TrimSpace(query.Type)),
		Stream:     ledgerdomain.RevenueStream(strings.TrimSpace(query.Stream)),
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RevenueMetrics(c *gin.Context) {
	var query struct {
		Start string `form:"start"`
		End   string `form:"end"`
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

	start, err := parseRequiredTime(query.Start)
	if err != nil {
		AbortWithError(c, ledgerdomain.ErrInvalidPeriod)
		return
	}
	end, err := parseRequiredTime(query.End)
	if err != nil {
		AbortWithError(c, ledgerdomain.ErrInvalidPeriod)
		return
	}

	resp, err := s.ledgerSvc.Metrics(c.Request.Context(), tenantID, ledgerdomain.Period{Start: start, End: end})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
