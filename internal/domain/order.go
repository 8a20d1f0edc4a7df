package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderState string

const (
	OrderStateNew            OrderState = "new"
	OrderStatePendingPayment OrderState = "pending_payment"
	OrderStatePaid           OrderState = "paid"
	OrderStateCancelled      OrderState = "cancelled"
	OrderStateHolded         OrderState = "holded"
)

// Terminal reports whether no further payment notifications may move the
// order to another state.
func (s OrderState) Terminal() bool {
	return s == OrderStatePaid || s == OrderStateCancelled
}

type ResultCode string

const (
	ResultCodeAuthorised ResultCode = "AUTHORISED"
	ResultCodeReceived   ResultCode = "RECEIVED"
	ResultCodePending    ResultCode = "PENDING"
	ResultCodeCancelled  ResultCode = "CANCELLED"
	ResultCodeError      ResultCode = "ERROR"
	ResultCodeRefused    ResultCode = "REFUSED"
)

// Order is the minimal order aggregate the reconciliation flow mutates. The
// payment-state fields (result code, authorized/captured amounts, psp
// reference) form the OrderPaymentState owned by the order; they are written
// only by reconciliation transitions.
type Order struct {
	ID                  uuid.UUID
	IncrementID         string
	CustomerID          uuid.UUID
	State               OrderState
	PaymentMethod       string
	ResultCode          ResultCode
	PSPReference        string
	AuthorizedAmount    Amount
	CapturedAmount      int64
	CancellationAllowed bool
	QuoteActive         bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CanCancel mirrors the order's cancellable check: a paid or already
// cancelled order cannot be cancelled, and the flag can be withdrawn per
// order (e.g. after partial shipment).
func (o *Order) CanCancel() bool {
	if o.State.Terminal() {
		return false
	}
	return o.CancellationAllowed
}

// FullyCaptured reports whether captures so far cover the authorized amount.
func (o *Order) FullyCaptured() bool {
	return o.CapturedAmount >= o.AuthorizedAmount.Value
}

type HistoryEntry struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	State     OrderState
	Comment   string
	CreatedAt time.Time
}
