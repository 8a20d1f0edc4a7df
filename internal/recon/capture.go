package recon

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridianpay/recon/internal/domain"
	"github.com/meridianpay/recon/internal/gateway"
	"github.com/meridianpay/recon/internal/logging"
	"github.com/meridianpay/recon/internal/repository"
)

type modificationClient interface {
	Capture(ctx context.Context, req gateway.ModificationRequest, idempotencyExtra string) (*gateway.ModificationResponse, error)
	Refund(ctx context.Context, req gateway.ModificationRequest, idempotencyExtra string) (*gateway.ModificationResponse, error)
	Cancel(ctx context.Context, req gateway.ModificationRequest, idempotencyExtra string) (*gateway.ModificationResponse, error)
}

// ModificationFlow submits merchant-initiated captures, refunds and cancels
// to the gateway. Submissions only ask; the order state moves when the
// matching notification comes back through the dispatcher.
type ModificationFlow struct {
	gateway         modificationClient
	orders          orderStore
	history         historyStore
	db              *sql.DB
	logger          *slog.Logger
	merchantAccount string
}

func NewModificationFlow(
	gw modificationClient,
	orders orderStore,
	history historyStore,
	db *sql.DB,
	logger *slog.Logger,
	merchantAccount string,
) *ModificationFlow {
	return &ModificationFlow{
		gateway:         gw,
		orders:          orders,
		history:         history,
		db:              db,
		logger:          logging.WithChannel(logger, logging.ChannelDebug),
		merchantAccount: merchantAccount,
	}
}

// RequestCapture asks the gateway to capture amount minor units against the
// order's authorisation. Zero amount captures the remaining open amount.
func (f *ModificationFlow) RequestCapture(ctx context.Context, incrementID string, amount int64) (*gateway.ModificationResponse, error) {
	order, err := f.orders.GetByIncrementID(ctx, incrementID)
	if err != nil {
		return nil, fmt.Errorf("RequestCapture: %w", err)
	}

	if order.State.Terminal() {
		return nil, fmt.Errorf("RequestCapture: order %s is %s: %w", incrementID, order.State, domain.ErrInvalidRequest)
	}
	if order.PSPReference == "" {
		return nil, fmt.Errorf("RequestCapture: order %s has no authorisation yet: %w", incrementID, domain.ErrInvalidRequest)
	}

	open := order.AuthorizedAmount.Value - order.CapturedAmount
	if amount == 0 {
		amount = open
	}
	if amount <= 0 || amount > open {
		return nil, fmt.Errorf("RequestCapture: amount %d exceeds open amount %d: %w", amount, open, domain.ErrInvalidRequest)
	}

	resp, err := f.gateway.Capture(ctx, gateway.ModificationRequest{
		MerchantAccount:    f.merchantAccount,
		ModificationAmount: domain.Amount{Value: amount, Currency: order.AuthorizedAmount.Currency},
		OriginalReference:  order.PSPReference,
		Reference:          order.IncrementID,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("RequestCapture: %w", err)
	}

	comment := fmt.Sprintf("Capture of %s requested, gateway reference %s", resp.FormattedAmount, resp.PSPReference)
	if err := f.recordRequest(ctx, order, comment); err != nil {
		return nil, fmt.Errorf("RequestCapture: %w", err)
	}

	f.logger.Info("capture requested",
		"increment_id", order.IncrementID,
		"psp_reference", resp.PSPReference,
		"amount", amount,
	)
	return resp, nil
}

// RequestRefund asks the gateway to return amount minor units of captured
// funds to the shopper. Zero amount refunds everything captured so far.
func (f *ModificationFlow) RequestRefund(ctx context.Context, incrementID string, amount int64) (*gateway.ModificationResponse, error) {
	order, err := f.orders.GetByIncrementID(ctx, incrementID)
	if err != nil {
		return nil, fmt.Errorf("RequestRefund: %w", err)
	}

	if order.PSPReference == "" {
		return nil, fmt.Errorf("RequestRefund: order %s has no authorisation yet: %w", incrementID, domain.ErrInvalidRequest)
	}
	if amount == 0 {
		amount = order.CapturedAmount
	}
	if amount <= 0 || amount > order.CapturedAmount {
		return nil, fmt.Errorf("RequestRefund: amount %d exceeds captured amount %d: %w", amount, order.CapturedAmount, domain.ErrInvalidRequest)
	}

	resp, err := f.gateway.Refund(ctx, gateway.ModificationRequest{
		MerchantAccount:    f.merchantAccount,
		ModificationAmount: domain.Amount{Value: amount, Currency: order.AuthorizedAmount.Currency},
		OriginalReference:  order.PSPReference,
		Reference:          order.IncrementID,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("RequestRefund: %w", err)
	}

	comment := fmt.Sprintf("Refund of %s requested, gateway reference %s", resp.FormattedAmount, resp.PSPReference)
	if err := f.recordRequest(ctx, order, comment); err != nil {
		return nil, fmt.Errorf("RequestRefund: %w", err)
	}

	f.logger.Info("refund requested",
		"increment_id", order.IncrementID,
		"psp_reference", resp.PSPReference,
		"amount", amount,
	)
	return resp, nil
}

// RequestCancel asks the gateway to release the order's authorisation.
func (f *ModificationFlow) RequestCancel(ctx context.Context, incrementID string) (*gateway.ModificationResponse, error) {
	order, err := f.orders.GetByIncrementID(ctx, incrementID)
	if err != nil {
		return nil, fmt.Errorf("RequestCancel: %w", err)
	}

	if !order.CanCancel() {
		return nil, fmt.Errorf("RequestCancel: order %s: %w", incrementID, domain.ErrOrderNotCancellable)
	}
	if order.PSPReference == "" {
		return nil, fmt.Errorf("RequestCancel: order %s has no authorisation yet: %w", incrementID, domain.ErrInvalidRequest)
	}

	resp, err := f.gateway.Cancel(ctx, gateway.ModificationRequest{
		MerchantAccount:    f.merchantAccount,
		ModificationAmount: order.AuthorizedAmount,
		OriginalReference:  order.PSPReference,
		Reference:          order.IncrementID,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("RequestCancel: %w", err)
	}

	comment := fmt.Sprintf("Cancellation requested, gateway reference %s", resp.PSPReference)
	if err := f.recordRequest(ctx, order, comment); err != nil {
		return nil, fmt.Errorf("RequestCancel: %w", err)
	}

	f.logger.Info("cancellation requested",
		"increment_id", order.IncrementID,
		"psp_reference", resp.PSPReference,
	)
	return resp, nil
}

// recordRequest appends a history entry without changing the order state.
func (f *ModificationFlow) recordRequest(ctx context.Context, order *domain.Order, comment string) error {
	tx, err := repository.BeginTx(ctx, f.db)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	entry := &domain.HistoryEntry{
		ID:        uuid.New(),
		OrderID:   order.ID,
		State:     order.State,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.history.Create(ctx, tx, entry); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return tx.Commit()
}
