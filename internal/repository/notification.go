package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianpay/recon/internal/domain"
)

const notificationColumns = `id, psp_reference, original_reference, merchant_reference,
	event_code, success, amount_value, amount_currency, payment_method, reason,
	additional_data, done, processing, created_at, updated_at`

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create stores a freshly received notification. A redelivery of the same
// (pspReference, eventCode, success, originalReference) tuple hits the
// unique index and returns ErrDuplicateNotification.
func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	additionalData, err := n.AdditionalDataJSON()
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO notifications (
			id, psp_reference, original_reference, merchant_reference, event_code,
			success, amount_value, amount_currency, payment_method, reason,
			additional_data, done, processing, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		n.ID, n.PSPReference, n.OriginalReference, n.MerchantReference, n.EventCode,
		n.Success, n.AmountValue, n.AmountCurrency, n.PaymentMethod, n.Reason,
		additionalData, n.Done, n.Processing, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateNotification)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ClaimUnprocessed atomically marks up to limit unprocessed notifications as
// processing and returns them. SKIP LOCKED keeps concurrent processors from
// claiming the same rows.
func (r *NotificationRepository) ClaimUnprocessed(ctx context.Context, limit int) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE notifications SET processing = true, updated_at = now()
		WHERE id IN (
			SELECT id FROM notifications
			WHERE done = false AND processing = false
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimUnprocessed: %w", err)
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimUnprocessed: scan: %w", err)
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimUnprocessed: rows: %w", err)
	}
	return notifications, nil
}

// MarkDone flags a notification as fully processed inside the transition
// transaction, so the processed marker commits together with the side
// effects it guards.
func (r *NotificationRepository) MarkDone(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE notifications SET done = true, processing = false, updated_at = now()
		WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("MarkDone: %w", err)
	}
	return requireRow(res, "MarkDone")
}

// Release clears the processing flag after a recoverable failure so the
// notification is retried on a later poll.
func (r *NotificationRepository) Release(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET processing = false, updated_at = now()
		WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return requireRow(res, "Release")
}

// WasProcessed reports whether another notification with the same
// (pspReference, eventCode, success) tuple already completed. This is the
// at-most-once marker the dispatcher checks before applying side effects.
func (r *NotificationRepository) WasProcessed(ctx context.Context, excludeID uuid.UUID, pspReference string, eventCode domain.EventCode, success bool) (bool, error) {
	var processed bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE psp_reference = $1 AND event_code = $2 AND success = $3
				AND done = true AND id <> $4
		)`,
		pspReference, eventCode, success, excludeID,
	).Scan(&processed)
	if err != nil {
		return false, fmt.Errorf("WasProcessed: %w", err)
	}
	return processed, nil
}

// DeleteProcessedBefore removes processed notifications older than the
// cutoff. Rows still marked processing are left alone, so the sweep cannot
// race an in-flight transition.
func (r *NotificationRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications
		WHERE done = true AND processing = false AND created_at <= $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("DeleteProcessedBefore: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteProcessedBefore: rows affected: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id,
	)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return n, nil
}

func scanNotification(s scanner) (*domain.Notification, error) {
	var n domain.Notification
	var additionalData []byte
	err := s.Scan(
		&n.ID, &n.PSPReference, &n.OriginalReference, &n.MerchantReference,
		&n.EventCode, &n.Success, &n.AmountValue, &n.AmountCurrency,
		&n.PaymentMethod, &n.Reason, &additionalData, &n.Done, &n.Processing,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(additionalData) > 0 {
		if err := json.Unmarshal(additionalData, &n.AdditionalData); err != nil {
			return nil, fmt.Errorf("decode additional_data: %w", err)
		}
	}
	return &n, nil
}

func requireRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}
