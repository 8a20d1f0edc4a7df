package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridianpay/recon/internal/domain"
	"github.com/meridianpay/recon/internal/repository"
)

// SeedOrder inserts an order in pending_payment awaiting its authorisation
// notification. Overrides mutate the order before insert.
func SeedOrder(t *testing.T, orders *repository.OrderRepository, overrides ...func(*domain.Order)) *domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := &domain.Order{
		ID:                  uuid.New(),
		IncrementID:         uuid.NewString()[:13],
		CustomerID:          uuid.New(),
		State:               domain.OrderStatePendingPayment,
		PaymentMethod:       "visa",
		AuthorizedAmount:    domain.Amount{Value: 1250, Currency: "EUR"},
		CancellationAllowed: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	for _, override := range overrides {
		override(order)
	}

	if err := orders.Create(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

// SeedNotification inserts an unprocessed notification addressed at order.
func SeedNotification(t *testing.T, notifications *repository.NotificationRepository, order *domain.Order, overrides ...func(*domain.Notification)) *domain.Notification {
	t.Helper()

	now := time.Now().UTC()
	n := &domain.Notification{
		ID:                uuid.New(),
		PSPReference:      uuid.NewString(),
		MerchantReference: order.IncrementID,
		EventCode:         domain.EventCodeAuthorisation,
		Success:           true,
		AmountValue:       order.AuthorizedAmount.Value,
		AmountCurrency:    order.AuthorizedAmount.Currency,
		PaymentMethod:     order.PaymentMethod,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, override := range overrides {
		override(n)
	}

	if err := notifications.Create(context.Background(), n); err != nil {
		t.Fatalf("seed notification: %v", err)
	}
	return n
}
