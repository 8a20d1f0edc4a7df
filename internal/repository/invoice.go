package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianpay/recon/internal/domain"
)

type InvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, tx *sql.Tx, invoice *domain.Invoice) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO invoices (id, order_id, psp_reference, amount_value, amount_currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		invoice.ID, invoice.OrderID, invoice.PSPReference,
		invoice.AmountValue, invoice.AmountCurrency, invoice.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) CountByOrderID(ctx context.Context, orderID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE order_id = $1`, orderID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("CountByOrderID: %w", err)
	}
	return count, nil
}
