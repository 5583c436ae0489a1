package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/invoice/domain"
	"github.com/fairwaylabs/fairway/pkg/db/option"
	"github.com/fairwaylabs/fairway/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert writes the invoice and its lines in one statement batch. Caller
// owns the transaction.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice, lines []domain.InvoiceLine) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, tenant_id, customer_id, subscription_id, number, status,
			currency, total_cents, due_at, sent_at, paid_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.TenantID,
		invoice.CustomerID,
		invoice.SubscriptionID,
		invoice.Number,
		invoice.Status,
		invoice.Currency,
		invoice.TotalCents,
		invoice.DueAt,
		invoice.SentAt,
		invoice.PaidAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
	if err != nil {
		return err
	}
	for i := range lines {
		err = db.WithContext(ctx).Exec(
			`INSERT INTO invoice_lines (
				id, invoice_id, description, quantity, amount_cents, metadata, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			lines[i].ID,
			lines[i].InvoiceID,
			lines[i].Description,
			lines[i].Quantity,
			lines[i].AmountCents,
			lines[i].Metadata,
			lines[i].CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Invoice, error) {
	stmt := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id)
	if db.Dialector.Name() == "postgres" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var invoice domain.Invoice
	if err := stmt.First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoiceLine, error) {
	var lines []domain.InvoiceLine
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("id asc").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("tenant_id = ? AND id = ?", invoice.TenantID, invoice.ID).
		Updates(map[string]any{
			"status":     invoice.Status,
			"sent_at":    invoice.SentAt,
			"paid_at":    invoice.PaidAt,
			"updated_at": invoice.UpdatedAt,
		}).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("tenant_id = ?", filter.TenantID)
	if filter.CustomerID > 0 {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}
