package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianpay/recon/internal/domain"
)

const vaultTokenColumns = `id, gateway_token, payment_method_code, customer_id,
	token_type, expires_at, details, created_at, updated_at`

type VaultTokenRepository struct {
	db *sql.DB
}

func NewVaultTokenRepository(db *sql.DB) *VaultTokenRepository {
	return &VaultTokenRepository{db: db}
}

// GetByGatewayToken looks a token up by its identity triple. Returns
// nil, nil when no token matches, so callers can distinguish "create" from
// "update" without error juggling.
func (r *VaultTokenRepository) GetByGatewayToken(ctx context.Context, gatewayToken, paymentMethodCode string, customerID uuid.UUID) (*domain.VaultToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+vaultTokenColumns+` FROM vault_tokens
		WHERE gateway_token = $1 AND payment_method_code = $2 AND customer_id = $3`,
		gatewayToken, paymentMethodCode, customerID,
	)

	t, err := scanVaultToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetByGatewayToken: %w", err)
	}
	return t, nil
}

// Save upserts on the identity triple so a repeat tokenizing response for
// the same gateway reference updates the row in place.
func (r *VaultTokenRepository) Save(ctx context.Context, token *domain.VaultToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO vault_tokens (
			id, gateway_token, payment_method_code, customer_id, token_type,
			expires_at, details, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (gateway_token, payment_method_code, customer_id) DO UPDATE SET
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			details = EXCLUDED.details,
			updated_at = EXCLUDED.updated_at`,
		token.ID, token.GatewayToken, token.PaymentMethodCode, token.CustomerID,
		token.Type, token.ExpiresAt, token.Details, token.CreatedAt, token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

func (r *VaultTokenRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.VaultToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+vaultTokenColumns+` FROM vault_tokens
		WHERE customer_id = $1 ORDER BY created_at`, customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByCustomer: %w", err)
	}
	defer rows.Close()

	var tokens []domain.VaultToken
	for rows.Next() {
		t, err := scanVaultToken(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByCustomer: scan: %w", err)
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByCustomer: rows: %w", err)
	}
	return tokens, nil
}

func scanVaultToken(s scanner) (*domain.VaultToken, error) {
	var t domain.VaultToken
	err := s.Scan(
		&t.ID, &t.GatewayToken, &t.PaymentMethodCode, &t.CustomerID,
		&t.Type, &t.ExpiresAt, &t.Details, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
