package recon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianpay/recon/internal/domain"
	"github.com/meridianpay/recon/internal/gateway"
	"github.com/meridianpay/recon/internal/repository"
	"github.com/meridianpay/recon/internal/testutil"
)

func TestModificationFlow_RequestCapture(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	var got gateway.ModificationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/capture", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.NoError(t, json.NewEncoder(w).Encode(gateway.ModificationResponse{
			PSPReference: "CAP123",
			Response:     gateway.ResponseCaptureReceived,
		}))
	}))
	t.Cleanup(srv.Close)

	orders := repository.NewOrderRepository(db)
	history := repository.NewHistoryRepository(db)
	flow := NewModificationFlow(
		gateway.NewClient(srv.URL, "test-key"),
		orders, history, db, slog.Default(), "TestMerchant",
	)

	order := testutil.SeedOrder(t, orders, func(o *domain.Order) {
		o.PSPReference = "AUTH123"
	})

	resp, err := flow.RequestCapture(ctx, order.IncrementID, 0)
	require.NoError(t, err)
	assert.Equal(t, "CAP123", resp.PSPReference)

	assert.Equal(t, "TestMerchant", got.MerchantAccount)
	assert.Equal(t, "AUTH123", got.OriginalReference)
	assert.Equal(t, order.AuthorizedAmount.Value, got.ModificationAmount.Value, "zero amount captures the open amount")

	// The capture request itself does not move the order; the webhook does.
	after, err := orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatePendingPayment, after.State)
	assert.Zero(t, after.CapturedAmount)

	entries, err := history.ListByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Comment, "CAP123")
}

func TestModificationFlow_RequestCapture_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	orders := repository.NewOrderRepository(db)
	flow := NewModificationFlow(
		gateway.NewClient("http://unused", "test-key"),
		orders, repository.NewHistoryRepository(db), db, slog.Default(), "TestMerchant",
	)

	t.Run("no authorisation yet", func(t *testing.T) {
		order := testutil.SeedOrder(t, orders)
		_, err := flow.RequestCapture(ctx, order.IncrementID, 0)
		require.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("amount exceeds open amount", func(t *testing.T) {
		order := testutil.SeedOrder(t, orders, func(o *domain.Order) {
			o.PSPReference = "AUTH123"
		})
		_, err := flow.RequestCapture(ctx, order.IncrementID, order.AuthorizedAmount.Value+1)
		require.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("terminal order", func(t *testing.T) {
		order := testutil.SeedOrder(t, orders, func(o *domain.Order) {
			o.PSPReference = "AUTH123"
			o.State = domain.OrderStatePaid
		})
		_, err := flow.RequestCapture(ctx, order.IncrementID, 0)
		require.ErrorIs(t, err, domain.ErrInvalidRequest)
	})
}

func TestModificationFlow_RequestRefund(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	var got gateway.ModificationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/refund", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.NoError(t, json.NewEncoder(w).Encode(gateway.ModificationResponse{
			PSPReference: "REF123",
			Response:     gateway.ResponseRefundReceived,
		}))
	}))
	t.Cleanup(srv.Close)

	orders := repository.NewOrderRepository(db)
	history := repository.NewHistoryRepository(db)
	flow := NewModificationFlow(
		gateway.NewClient(srv.URL, "test-key"),
		orders, history, db, slog.Default(), "TestMerchant",
	)

	order := testutil.SeedOrder(t, orders, func(o *domain.Order) {
		o.PSPReference = "AUTH123"
		o.State = domain.OrderStatePaid
		o.CapturedAmount = 1250
	})

	resp, err := flow.RequestRefund(ctx, order.IncrementID, 0)
	require.NoError(t, err)
	assert.Equal(t, "REF123", resp.PSPReference)

	assert.Equal(t, "AUTH123", got.OriginalReference)
	assert.Equal(t, int64(1250), got.ModificationAmount.Value, "zero amount refunds everything captured")

	// The refund request itself does not move the order; the webhook does.
	after, err := orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatePaid, after.State)

	entries, err := history.ListByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Comment, "REF123")
}

func TestModificationFlow_RequestRefund_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	orders := repository.NewOrderRepository(db)
	flow := NewModificationFlow(
		gateway.NewClient("http://unused", "test-key"),
		orders, repository.NewHistoryRepository(db), db, slog.Default(), "TestMerchant",
	)

	t.Run("nothing captured", func(t *testing.T) {
		order := testutil.SeedOrder(t, orders, func(o *domain.Order) {
			o.PSPReference = "AUTH123"
		})
		_, err := flow.RequestRefund(ctx, order.IncrementID, 0)
		require.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("amount exceeds captured amount", func(t *testing.T) {
		order := testutil.SeedOrder(t, orders, func(o *domain.Order) {
			o.PSPReference = "AUTH123"
			o.State = domain.OrderStatePaid
			o.CapturedAmount = 500
		})
		_, err := flow.RequestRefund(ctx, order.IncrementID, 501)
		require.ErrorIs(t, err, domain.ErrInvalidRequest)
	})
}

func TestModificationFlow_RequestCancel_NotCancellable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	orders := repository.NewOrderRepository(db)
	flow := NewModificationFlow(
		gateway.NewClient("http://unused", "test-key"),
		orders, repository.NewHistoryRepository(db), db, slog.Default(), "TestMerchant",
	)

	order := testutil.SeedOrder(t, orders, func(o *domain.Order) {
		o.PSPReference = "AUTH123"
		o.CancellationAllowed = false
	})

	_, err := flow.RequestCancel(ctx, order.IncrementID)
	require.ErrorIs(t, err, domain.ErrOrderNotCancellable)
}
