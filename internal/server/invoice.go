package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fairwaylabs/fairway/internal/billing"
	invoicedomain "github.com/fairwaylabs/fairway/internal/invoice/domain"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
)

func (s *Server) ListInvoices(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
		Status     string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		Pagination: query.Pagination,
		CustomerID: strings.TrimSpace(query.CustomerID),
		Status:     invoicedomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetInvoice(c *gin.Context) {
	resp, err := s.invoiceSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RenderInvoicePDF(c *gin.Context) {
	reader, err := s.invoiceSvc.RenderPDF(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	document, err := io.ReadAll(reader)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/pdf", document)
}

// PayInvoice charges the invoice total against the customer's vaulted
// payment method and marks the invoice PAID on success.
func (s *Server) PayInvoice(c *gin.Context) {
	resp, err := s.billingSvc.PayInvoice(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		tenantID, _ := tenantIDFrom(c)
		targetID := resp.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), &tenantID, "operator", nil, "invoice.pay", "invoice", &targetID, map[string]any{
			"total_cents": resp.TotalCents,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type processPaymentRequest struct {
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Processor   string `json:"processor"`
}

// ProcessPayment takes a one-off charge, an add-on purchase such as a
// tournament entry or a pro-shop order, outside any renewal cycle.
func (s *Server) ProcessPayment(c *gin.Context) {
	var req processPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.billingSvc.ProcessPayment(c.Request.Context(), billing.ProcessPaymentRequest{
		CustomerID:  strings.TrimSpace(req.CustomerID),
		AmountCents: req.AmountCents,
		Currency:    strings.TrimSpace(req.Currency),
		Description: strings.TrimSpace(req.Description),
		Processor:   strings.TrimSpace(req.Processor),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		tenantID, _ := tenantIDFrom(c)
		targetID := resp.InvoiceID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), &tenantID, "operator", nil, "billing.process_payment", "invoice", &targetID, map[string]any{
			"amount_cents": req.AmountCents,
			"status":       string(resp.Status),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
