package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
	"gorm.io/gorm"
)

type LineInput struct {
	Description string
	Quantity    int64
	AmountCents int64
	Metadata    map[string]any
}

type CreateInvoiceRequest struct {
	TenantID       snowflake.ID
	CustomerID     snowflake.ID
	SubscriptionID *snowflake.ID
	Currency       string
	DueAt          time.Time
	Lines          []LineInput
}

type ListInvoiceRequest struct {
	pagination.Pagination
	CustomerID string
	Status     Status
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	// Create builds a DRAFT invoice from its lines. CreateTx is the same
	// inside a caller-owned transaction, used by the billing orchestrator.
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	CreateTx(ctx context.Context, tx *gorm.DB, req CreateInvoiceRequest) (Invoice, error)
	Send(ctx context.Context, tenantID, id snowflake.ID) (Invoice, error)
	MarkPaid(ctx context.Context, tenantID, id snowflake.ID, paidAt time.Time) (Invoice, error)
	MarkPaidTx(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID, paidAt time.Time) (Invoice, error)
	MarkOverdue(ctx context.Context, tenantID, id snowflake.ID) (Invoice, error)
	MarkOverdueTx(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (Invoice, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	RenderPDF(ctx context.Context, id string) (io.Reader, error)
}

type ListFilter struct {
	TenantID   snowflake.ID
	CustomerID snowflake.ID
	Status     Status
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice, lines []InvoiceLine) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Invoice, error)
	ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceLine, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Invoice, error)
}

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidDueAt     = errors.New("invalid_due_at")
	ErrNoLines          = errors.New("invoice_requires_lines")
	ErrInvalidLine      = errors.New("invalid_invoice_line")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
