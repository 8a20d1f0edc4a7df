package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianpay/recon/internal/domain"
)

const orderColumns = `id, increment_id, customer_id, state, payment_method,
	result_code, psp_reference, authorized_amount_value, authorized_amount_currency,
	captured_amount_value, cancellation_allowed, quote_active, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (
			id, increment_id, customer_id, state, payment_method, result_code,
			psp_reference, authorized_amount_value, authorized_amount_currency,
			captured_amount_value, cancellation_allowed, quote_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.IncrementID, o.CustomerID, o.State, o.PaymentMethod, o.ResultCode,
		o.PSPReference, o.AuthorizedAmount.Value, o.AuthorizedAmount.Currency,
		o.CapturedAmount, o.CancellationAllowed, o.QuoteActive, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id,
	)
	return r.scanOne(row)
}

func (r *OrderRepository) GetByIncrementID(ctx context.Context, incrementID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE increment_id = $1`, incrementID,
	)
	return r.scanOne(row)
}

// UpdatePaymentState writes the order's reconciliation-owned fields inside
// the transition transaction.
func (r *OrderRepository) UpdatePaymentState(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET
			state = $1, result_code = $2, psp_reference = $3,
			captured_amount_value = $4, quote_active = $5, updated_at = now()
		WHERE id = $6`,
		o.State, o.ResultCode, o.PSPReference, o.CapturedAmount, o.QuoteActive, o.ID,
	)
	if err != nil {
		return fmt.Errorf("UpdatePaymentState: %w", err)
	}
	return requireRow(res, "UpdatePaymentState")
}

// SetState writes only the order state, used for the forced NEW transition
// before a REFUSED cancel.
func (r *OrderRepository) SetState(ctx context.Context, tx *sql.Tx, id uuid.UUID, state domain.OrderState) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET state = $1, updated_at = now() WHERE id = $2`,
		state, id,
	)
	if err != nil {
		return fmt.Errorf("SetState: %w", err)
	}
	return requireRow(res, "SetState")
}

func (r *OrderRepository) scanOne(row *sql.Row) (*domain.Order, error) {
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scanOne: %w", domain.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanOne: %w", err)
	}
	return o, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	err := s.Scan(
		&o.ID, &o.IncrementID, &o.CustomerID, &o.State, &o.PaymentMethod,
		&o.ResultCode, &o.PSPReference, &o.AuthorizedAmount.Value,
		&o.AuthorizedAmount.Currency, &o.CapturedAmount, &o.CancellationAllowed,
		&o.QuoteActive, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
