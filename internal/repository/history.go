package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianpay/recon/internal/domain"
)

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Create(ctx context.Context, tx *sql.Tx, entry *domain.HistoryEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_history (id, order_id, state, comment, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.OrderID, entry.State, entry.Comment, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *HistoryRepository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]domain.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, state, comment, created_at FROM order_history
		WHERE order_id = $1 ORDER BY created_at`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByOrderID: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.State, &e.Comment, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListByOrderID: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByOrderID: rows: %w", err)
	}
	return entries, nil
}
