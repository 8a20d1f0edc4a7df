// Package recon applies gateway results and webhook notifications to orders:
// a per-order state machine with exactly-once side effects.
package recon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridianpay/recon/internal/domain"
	"github.com/meridianpay/recon/internal/logging"
	"github.com/meridianpay/recon/internal/repository"
)

type notificationStore interface {
	ClaimUnprocessed(ctx context.Context, limit int) ([]domain.Notification, error)
	MarkDone(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
	Release(ctx context.Context, id uuid.UUID) error
	WasProcessed(ctx context.Context, excludeID uuid.UUID, pspReference string, eventCode domain.EventCode, success bool) (bool, error)
}

type orderStore interface {
	GetByIncrementID(ctx context.Context, incrementID string) (*domain.Order, error)
	UpdatePaymentState(ctx context.Context, tx *sql.Tx, o *domain.Order) error
	SetState(ctx context.Context, tx *sql.Tx, id uuid.UUID, state domain.OrderState) error
}

type historyStore interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.HistoryEntry) error
}

type invoiceStore interface {
	Create(ctx context.Context, tx *sql.Tx, invoice *domain.Invoice) error
}

type Dispatcher struct {
	notifications notificationStore
	orders        orderStore
	history       historyStore
	invoices      invoiceStore
	db            *sql.DB
	locks         *LockRegistry
	logger        *slog.Logger
	autoCapture   bool
	interval      time.Duration
}

// NewDispatcher builds the dispatcher. locks must be the same registry the
// redirect-return flow uses, or transitions for one order stop serializing.
func NewDispatcher(
	notifications notificationStore,
	orders orderStore,
	history historyStore,
	invoices invoiceStore,
	db *sql.DB,
	locks *LockRegistry,
	logger *slog.Logger,
	autoCapture bool,
	interval time.Duration,
) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		orders:        orders,
		history:       history,
		invoices:      invoices,
		db:            db,
		locks:         locks,
		logger:        logging.WithChannel(logger, logging.ChannelNotification),
		autoCapture:   autoCapture,
		interval:      interval,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("notification dispatcher started", "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopped")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	notifications, err := d.notifications.ClaimUnprocessed(ctx, 10)
	if err != nil {
		d.logger.Error("failed to claim notifications", "error", err)
		return
	}

	for _, n := range notifications {
		if err := d.ProcessNotification(ctx, n); err != nil {
			d.logger.Error("failed to process notification",
				"notification_id", n.ID,
				"psp_reference", n.PSPReference,
				"event_code", n.EventCode,
				"error", err,
			)
			// Recoverable: let a later poll retry it.
			if relErr := d.notifications.Release(ctx, n.ID); relErr != nil {
				d.logger.Error("failed to release notification", "notification_id", n.ID, "error", relErr)
			}
		}
	}
}

// transition is the in-memory outcome of applying one notification.
type transition struct {
	changed  bool
	forceNew bool
	invoice  bool
	comment  string
}

// ProcessNotification applies a single claimed notification. Business-rule
// mismatches (no order, unknown event, already processed) never return an
// error: they are logged and the notification is marked done. Persistence
// failures propagate and leave the notification claimable again.
func (d *Dispatcher) ProcessNotification(ctx context.Context, n domain.Notification) error {
	log := d.logger.With(
		"psp_reference", n.PSPReference,
		"event_code", n.EventCode,
		"success", n.Success,
		"merchant_reference", n.MerchantReference,
	)

	// Resolve the order id before taking the lock; the fresh state is read
	// again once the lock is held.
	order, err := d.orders.GetByIncrementID(ctx, n.MerchantReference)
	if errors.Is(err, domain.ErrOrderNotFound) {
		log.Info("no order for notification, skipping")
		return d.markDoneOnly(ctx, n.ID)
	}
	if err != nil {
		return fmt.Errorf("ProcessNotification: load order: %w", err)
	}

	release := d.locks.Lock(order.ID)
	defer release()

	processed, err := d.notifications.WasProcessed(ctx, n.ID, n.PSPReference, n.EventCode, n.Success)
	if err != nil {
		return fmt.Errorf("ProcessNotification: processed lookup: %w", err)
	}
	if processed {
		log.Info("notification already processed, skipping")
		return d.markDoneOnly(ctx, n.ID)
	}

	order, err = d.orders.GetByIncrementID(ctx, n.MerchantReference)
	if err != nil {
		return fmt.Errorf("ProcessNotification: reload order: %w", err)
	}

	t := d.apply(log, order, n)

	tx, err := repository.BeginTx(ctx, d.db)
	if err != nil {
		return fmt.Errorf("ProcessNotification: %w", err)
	}
	defer tx.Rollback()

	if t.changed {
		if t.forceNew {
			// A non-cancellable order is moved through new first so the
			// cancel transition is valid.
			if err := d.orders.SetState(ctx, tx, order.ID, domain.OrderStateNew); err != nil {
				return fmt.Errorf("ProcessNotification: force state: %w", err)
			}
		}
		if err := d.orders.UpdatePaymentState(ctx, tx, order); err != nil {
			return fmt.Errorf("ProcessNotification: update order: %w", err)
		}
		entry := &domain.HistoryEntry{
			ID:        uuid.New(),
			OrderID:   order.ID,
			State:     order.State,
			Comment:   t.comment,
			CreatedAt: time.Now().UTC(),
		}
		if err := d.history.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("ProcessNotification: history: %w", err)
		}
		if t.invoice {
			invoice := &domain.Invoice{
				ID:             uuid.New(),
				OrderID:        order.ID,
				PSPReference:   n.PSPReference,
				AmountValue:    n.AmountValue,
				AmountCurrency: n.AmountCurrency,
				CreatedAt:      time.Now().UTC(),
			}
			if err := d.invoices.Create(ctx, tx, invoice); err != nil {
				return fmt.Errorf("ProcessNotification: invoice: %w", err)
			}
		}
	}

	if err := d.notifications.MarkDone(ctx, tx, n.ID); err != nil {
		return fmt.Errorf("ProcessNotification: mark done: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ProcessNotification: commit: %w", err)
	}

	if t.changed {
		log.Info("notification applied", "order_state", order.State, "comment", t.comment)
	}
	return nil
}

// apply computes the state transition for (eventCode, success) without
// touching storage. It mutates order in place and reports what to persist.
func (d *Dispatcher) apply(log *slog.Logger, order *domain.Order, n domain.Notification) transition {
	switch {
	case n.EventCode == domain.EventCodeAuthorisation && n.Success:
		return d.applyAuthorised(order, n)

	case n.EventCode == domain.EventCodeAuthorisation && !n.Success:
		return d.applyRefused(log, order, n)

	case n.EventCode == domain.EventCodeCapture && n.Success:
		return d.applyCapture(log, order, n)

	case n.EventCode == domain.EventCodeCapture && !n.Success,
		n.EventCode == domain.EventCodeCaptureFailed && n.Success,
		n.EventCode == domain.EventCodeCancellation && n.Success,
		n.EventCode == domain.EventCodeRefund && n.Success:
		return d.applyCancelOrHold(log, order, n)

	case n.EventCode == domain.EventCodeOfferClosed && n.Success:
		return d.applyOfferClosed(log, order)

	default:
		log.Info("unsupported notification, no state change")
		return transition{}
	}
}

func (d *Dispatcher) applyAuthorised(order *domain.Order, n domain.Notification) transition {
	order.PSPReference = n.PSPReference
	order.ResultCode = domain.ResultCodeAuthorised

	if !d.autoCapture {
		order.State = domain.OrderStatePendingPayment
		return transition{
			changed: true,
			comment: fmt.Sprintf("Authorised %s; waiting for capture",
				domain.FormatMinorUnits(n.AmountValue, n.AmountCurrency)),
		}
	}

	// Auto capture: the authorisation already implies the funds movement.
	order.CapturedAmount += n.AmountValue
	if order.FullyCaptured() {
		order.State = domain.OrderStatePaid
		return transition{
			changed: true,
			invoice: true,
			comment: fmt.Sprintf("Authorised and captured automatically %s; order paid",
				domain.FormatMinorUnits(n.AmountValue, n.AmountCurrency)),
		}
	}

	order.State = domain.OrderStatePendingPayment
	return transition{
		changed: true,
		invoice: true,
		comment: fmt.Sprintf("Partial capture of %s booked automatically; authorized amount is %s",
			domain.FormatMinorUnits(n.AmountValue, n.AmountCurrency),
			domain.FormatMinorUnits(order.AuthorizedAmount.Value, order.AuthorizedAmount.Currency)),
	}
}

func (d *Dispatcher) applyRefused(log *slog.Logger, order *domain.Order, n domain.Notification) transition {
	if order.State.Terminal() {
		log.Info("refusal after final state, no state change", "order_state", order.State)
		return transition{}
	}

	t := transition{changed: true}
	if !order.CanCancel() {
		t.forceNew = true
	}
	order.State = domain.OrderStateCancelled
	order.ResultCode = domain.ResultCodeRefused
	reason := n.Reason
	if reason == "" {
		reason = "authorisation refused"
	}
	t.comment = fmt.Sprintf("Order cancelled: %s", reason)
	return t
}

func (d *Dispatcher) applyCapture(log *slog.Logger, order *domain.Order, n domain.Notification) transition {
	if order.State == domain.OrderStatePaid || (d.autoCapture && order.FullyCaptured()) {
		// Auto capture already booked the funds; the webhook only confirms.
		log.Info("capture already applied, skipping")
		return transition{}
	}

	if n.AmountCurrency != order.AuthorizedAmount.Currency {
		log.Warn("capture currency does not match authorization, no state change",
			"capture_currency", n.AmountCurrency,
			"authorized_currency", order.AuthorizedAmount.Currency,
		)
		return transition{}
	}

	order.CapturedAmount += n.AmountValue

	if order.CapturedAmount < order.AuthorizedAmount.Value {
		order.State = domain.OrderStatePendingPayment
		return transition{
			changed: true,
			invoice: true,
			comment: fmt.Sprintf("Partial capture of %s booked; authorized amount is %s",
				domain.FormatMinorUnits(n.AmountValue, n.AmountCurrency),
				domain.FormatMinorUnits(order.AuthorizedAmount.Value, order.AuthorizedAmount.Currency)),
		}
	}

	order.State = domain.OrderStatePaid
	return transition{
		changed: true,
		invoice: true,
		comment: fmt.Sprintf("Captured %s; order paid",
			domain.FormatMinorUnits(n.AmountValue, n.AmountCurrency)),
	}
}

func (d *Dispatcher) applyCancelOrHold(log *slog.Logger, order *domain.Order, n domain.Notification) transition {
	if order.State == domain.OrderStateCancelled {
		log.Info("order already cancelled, no state change")
		return transition{}
	}

	if order.CanCancel() {
		order.State = domain.OrderStateCancelled
		return transition{
			changed: true,
			comment: fmt.Sprintf("Order cancelled on %s notification", n.EventCode),
		}
	}

	if order.State == domain.OrderStateHolded {
		log.Info("order already on hold, no state change")
		return transition{}
	}

	order.State = domain.OrderStateHolded
	return transition{
		changed: true,
		comment: fmt.Sprintf("Order held on %s notification: cancellation not possible", n.EventCode),
	}
}

func (d *Dispatcher) applyOfferClosed(log *slog.Logger, order *domain.Order) transition {
	if order.State.Terminal() {
		log.Info("offer closed after final state, no state change", "order_state", order.State)
		return transition{}
	}

	order.State = domain.OrderStateCancelled
	return transition{
		changed: true,
		comment: "Order cancelled: offer closed before the payment completed",
	}
}

// markDoneOnly finishes a notification that caused no state change.
func (d *Dispatcher) markDoneOnly(ctx context.Context, id uuid.UUID) error {
	tx, err := repository.BeginTx(ctx, d.db)
	if err != nil {
		return fmt.Errorf("markDoneOnly: %w", err)
	}
	defer tx.Rollback()

	if err := d.notifications.MarkDone(ctx, tx, id); err != nil {
		return fmt.Errorf("markDoneOnly: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("markDoneOnly: commit: %w", err)
	}
	return nil
}
