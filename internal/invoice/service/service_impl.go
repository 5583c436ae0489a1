package service

import (
	"context"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fairwaylabs/fairway/internal/audit/domain"
	"github.com/fairwaylabs/fairway/internal/clock"
	customerdomain "github.com/fairwaylabs/fairway/internal/customer/domain"
	invoicedomain "github.com/fairwaylabs/fairway/internal/invoice/domain"
	"github.com/fairwaylabs/fairway/internal/invoice/render"
	"github.com/fairwaylabs/fairway/internal/tenantctx"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        invoicedomain.Repository
	CustomerSvc customerdomain.Service
	AuditSvc    auditdomain.Service `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        invoicedomain.Repository
	customerSvc customerdomain.Service
	auditSvc    auditdomain.Service

	entropyMu sync.Mutex
	entropy   io.Reader
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		customerSvc: p.CustomerSvc,
		auditSvc:    p.AuditSvc,
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.CreateTx(ctx, tx, req)
		if err != nil {
			return err
		}
		invoice = created
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return invoice, nil
}

func (s *Service) CreateTx(ctx context.Context, tx *gorm.DB, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	if tx == nil {
		tx = s.db
	}
	if req.TenantID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTenant
	}
	if req.CustomerID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidCustomer
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidCurrency
	}
	if req.DueAt.IsZero() {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidDueAt
	}
	if len(req.Lines) == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrNoLines
	}

	now := s.clock.Now().UTC()
	invoice := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		CustomerID:     req.CustomerID,
		SubscriptionID: req.SubscriptionID,
		Number:         s.nextNumber(now),
		Status:         invoicedomain.StatusDraft,
		Currency:       currency,
		DueAt:          req.DueAt.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	lines := make([]invoicedomain.InvoiceLine, 0, len(req.Lines))
	for _, input := range req.Lines {
		description := strings.TrimSpace(input.Description)
		if description == "" {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvalidLine
		}
		quantity := input.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		metadata := datatypes.JSONMap{}
		for key, value := range input.Metadata {
			if key == "" {
				continue
			}
			metadata[key] = value
		}
		lines = append(lines, invoicedomain.InvoiceLine{
			ID:          s.genID.Generate(),
			InvoiceID:   invoice.ID,
			Description: description,
			Quantity:    quantity,
			AmountCents: input.AmountCents,
			Metadata:    metadata,
			CreatedAt:   now,
		})
	}

	// TotalCents is derived, never supplied.
	invoice.TotalCents = invoicedomain.SumLines(lines)

	if err := s.repo.Insert(ctx, tx, &invoice, lines); err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoice.Lines = lines
	return invoice, nil
}

func (s *Service) Send(ctx context.Context, tenantID, id snowflake.ID) (invoicedomain.Invoice, error) {
	return s.transition(ctx, s.db, tenantID, id, invoicedomain.StatusSent, nil)
}

func (s *Service) MarkPaid(ctx context.Context, tenantID, id snowflake.ID, paidAt time.Time) (invoicedomain.Invoice, error) {
	return s.MarkPaidTx(ctx, s.db, tenantID, id, paidAt)
}

func (s *Service) MarkPaidTx(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID, paidAt time.Time) (invoicedomain.Invoice, error) {
	if paidAt.IsZero() {
		paidAt = s.clock.Now()
	}
	at := paidAt.UTC()
	return s.transition(ctx, tx, tenantID, id, invoicedomain.StatusPaid, &at)
}

func (s *Service) MarkOverdue(ctx context.Context, tenantID, id snowflake.ID) (invoicedomain.Invoice, error) {
	return s.MarkOverdueTx(ctx, s.db, tenantID, id)
}

func (s *Service) MarkOverdueTx(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (invoicedomain.Invoice, error) {
	return s.transition(ctx, tx, tenantID, id, invoicedomain.StatusOverdue, nil)
}

// transition enforces the forward-only machine:
// DRAFT -> SENT -> PAID or OVERDUE, and OVERDUE -> PAID for late
// settlements. Nothing ever moves backwards.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID, next invoicedomain.Status, paidAt *time.Time) (invoicedomain.Invoice, error) {
	if tx == nil {
		tx = s.db
	}
	if tenantID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTenant
	}
	if id == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidID
	}

	var updated invoicedomain.Invoice
	run := func(db *gorm.DB) error {
		invoice, err := s.repo.FindByIDForUpdate(ctx, db, tenantID, id)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return invoicedomain.ErrInvoiceNotFound
			}
			return err
		}
		if !transitionAllowed(invoice.Status, next) {
			return &invoicedomain.InvalidStatusTransition{Current: invoice.Status, Attempted: next}
		}

		now := s.clock.Now().UTC()
		invoice.Status = next
		invoice.UpdatedAt = now
		switch next {
		case invoicedomain.StatusSent:
			invoice.SentAt = &now
		case invoicedomain.StatusPaid:
			invoice.PaidAt = paidAt
		}
		if err := s.repo.UpdateStatus(ctx, db, invoice); err != nil {
			return err
		}
		updated = *invoice
		return nil
	}

	var err error
	if tx != s.db {
		// Already inside the caller's transaction.
		err = run(tx)
	} else {
		err = tx.WithContext(ctx).Transaction(run)
	}
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return updated, nil
}

func transitionAllowed(current, next invoicedomain.Status) bool {
	switch current {
	case invoicedomain.StatusDraft:
		return next == invoicedomain.StatusSent
	case invoicedomain.StatusSent:
		return next == invoicedomain.StatusPaid || next == invoicedomain.StatusOverdue
	case invoicedomain.StatusOverdue:
		return next == invoicedomain.StatusPaid
	default:
		return false
	}
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTenant
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidID
	}

	invoice, err := s.repo.FindByID(ctx, s.db, tenantID, invoiceID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
		}
		return invoicedomain.Invoice{}, err
	}
	lines, err := s.repo.ListLines(ctx, s.db, invoice.ID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoice.Lines = lines
	return *invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidTenant
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	filter := invoicedomain.ListFilter{
		TenantID: tenantID,
		Status:   req.Status,
	}
	if customerID := strings.TrimSpace(req.CustomerID); customerID != "" {
		id, err := snowflake.ParseString(customerID)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidCustomer
		}
		filter.CustomerID = id
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(invoice *invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        invoice.ID.String(),
			CreatedAt: invoice.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	resp := invoicedomain.ListInvoiceResponse{Invoices: invoices}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) RenderPDF(ctx context.Context, id string) (io.Reader, error) {
	invoice, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	customerName := ""
	if customer, err := s.customerSvc.GetByID(ctx, customerdomain.GetCustomerRequest{ID: invoice.CustomerID.String()}); err == nil {
		customerName = customer.Name
	}

	return render.InvoicePDF(render.InvoiceDocument{
		Number:       invoice.Number,
		Status:       string(invoice.Status),
		CustomerName: customerName,
		Currency:     invoice.Currency,
		TotalCents:   invoice.TotalCents,
		IssuedAt:     invoice.CreatedAt,
		DueAt:        invoice.DueAt,
		Lines:        documentLines(invoice.Lines),
	})
}

func documentLines(lines []invoicedomain.InvoiceLine) []render.DocumentLine {
	out := make([]render.DocumentLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, render.DocumentLine{
			Description: line.Description,
			Quantity:    line.Quantity,
			AmountCents: line.AmountCents,
		})
	}
	return out
}

func (s *Service) nextNumber(now time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return "INV-" + ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}
