package recon

import (
	"context"
	"database/sql"
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
	"github.com/meridianpay/recon/internal/vault"
)

// fakeGateway serves /payments/details with a canned response and records
// the details it was sent.
func fakeGateway(t *testing.T, response map[string]any) (*gateway.Client, *map[string]string) {
	t.Helper()

	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments/details", r.URL.Path)

		var req struct {
			Details map[string]string `json:"details"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received = req.Details

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	t.Cleanup(srv.Close)

	return gateway.NewClient(srv.URL, "test-api-key"), &received
}

func setupReturnTest(t *testing.T, db *sql.DB, gw *gateway.Client) (*ReturnFlow, testStores, *repository.VaultTokenRepository) {
	t.Helper()

	stores := testStores{
		notifications: repository.NewNotificationRepository(db),
		orders:        repository.NewOrderRepository(db),
		history:       repository.NewHistoryRepository(db),
		invoices:      repository.NewInvoiceRepository(db),
	}
	vaultTokens := repository.NewVaultTokenRepository(db)
	flow := NewReturnFlow(
		gw, stores.orders, stores.history,
		vault.NewBuilder(vaultTokens, slog.Default()),
		db, NewLockRegistry(), slog.Default(), "/checkout/success", "/checkout/cart",
	)
	return flow, stores, vaultTokens
}

func TestReturnFlow_AuthorisedReturn(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	gw, received := fakeGateway(t, map[string]any{
		"resultCode":    "Authorised",
		"pspReference":  "8514775682339934",
		"paymentMethod": map[string]string{"type": "scheme", "brand": "visa"},
	})
	flow, stores, _ := setupReturnTest(t, db, gw)

	order := testutil.SeedOrder(t, stores.orders, func(o *domain.Order) {
		o.State = domain.OrderStateNew
	})

	result, err := flow.HandleReturn(ctx, map[string]string{
		"merchantReference": order.IncrementID,
		"redirectResult":    "blob",
		"isAjax":            "true",
		"utm_source":        "mail",
	})
	require.NoError(t, err)

	assert.True(t, result.Accept)
	assert.Equal(t, "/checkout/success", result.RedirectPath)
	assert.False(t, result.RestoreCart)

	// Only the allow-listed parameter reached the gateway.
	assert.Equal(t, map[string]string{"redirectResult": "blob"}, *received)

	got := getOrder(t, stores, order.ID)
	assert.Equal(t, domain.OrderStatePendingPayment, got.State, "finalization waits for the notification")
	assert.Equal(t, domain.ResultCodeAuthorised, got.ResultCode)
	assert.Equal(t, "8514775682339934", got.PSPReference)

	entries, err := stores.history.ListByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Comment, "Authorised")
}

func TestReturnFlow_RefusedReturn_CancelsAndRestoresCart(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	gw, _ := fakeGateway(t, map[string]any{
		"resultCode":    "Refused",
		"pspReference":  "8514775682339934",
		"paymentMethod": map[string]string{"type": "scheme", "brand": "visa"},
	})
	flow, stores, _ := setupReturnTest(t, db, gw)

	order := testutil.SeedOrder(t, stores.orders)

	result, err := flow.HandleReturn(ctx, map[string]string{
		"merchantReference": order.IncrementID,
		"redirectResult":    "blob",
	})
	require.NoError(t, err)

	assert.False(t, result.Accept)
	assert.Equal(t, "/checkout/cart", result.RedirectPath)
	assert.True(t, result.RestoreCart)

	got := getOrder(t, stores, order.ID)
	assert.Equal(t, domain.OrderStateCancelled, got.State)
	assert.True(t, got.QuoteActive, "cart reactivated for retry")
}

func TestReturnFlow_MerchantReferenceMismatch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	gw, _ := fakeGateway(t, map[string]any{
		"resultCode":        "Authorised",
		"pspReference":      "8514775682339934",
		"merchantReference": "some-other-order",
	})
	flow, stores, _ := setupReturnTest(t, db, gw)

	order := testutil.SeedOrder(t, stores.orders)

	_, err := flow.HandleReturn(ctx, map[string]string{
		"merchantReference": order.IncrementID,
		"redirectResult":    "blob",
	})
	require.ErrorIs(t, err, domain.ErrMerchantReferenceMismatch)

	got := getOrder(t, stores, order.ID)
	assert.Equal(t, domain.OrderStatePendingPayment, got.State, "order untouched on mismatch")
}

func TestReturnFlow_StoresVaultToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	gw, _ := fakeGateway(t, map[string]any{
		"resultCode":    "Authorised",
		"pspReference":  "8514775682339934",
		"paymentMethod": map[string]string{"type": "scheme", "brand": "visa"},
		"additionalData": map[string]string{
			"recurring.recurringDetailReference": "8415568838266087",
			"cardSummary":                        "1111",
			"expiryDate":                         "03/30",
			"paymentMethod":                      "visa",
			"recurringProcessingModel":           "CardOnFile",
		},
	})
	flow, stores, vaultTokens := setupReturnTest(t, db, gw)

	order := testutil.SeedOrder(t, stores.orders)

	_, err := flow.HandleReturn(ctx, map[string]string{
		"merchantReference": order.IncrementID,
		"redirectResult":    "blob",
	})
	require.NoError(t, err)

	tokens, err := vaultTokens.ListByCustomer(ctx, order.CustomerID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "8415568838266087", tokens[0].GatewayToken)
	assert.Equal(t, domain.TokenTypeCreditCard, tokens[0].Type)
}

func TestReturnFlow_UnknownRecurringModelStoredAsCardOnFile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	gw, _ := fakeGateway(t, map[string]any{
		"resultCode":    "Authorised",
		"pspReference":  "8514775682339934",
		"paymentMethod": map[string]string{"type": "scheme", "brand": "visa"},
		"additionalData": map[string]string{
			"recurring.recurringDetailReference": "8415568838266087",
			"cardSummary":                        "1111",
			"expiryDate":                         "03/30",
			"paymentMethod":                      "visa",
			"recurringProcessingModel":           "SomethingTheGatewayInvented",
		},
	})
	flow, stores, vaultTokens := setupReturnTest(t, db, gw)

	order := testutil.SeedOrder(t, stores.orders)

	_, err := flow.HandleReturn(ctx, map[string]string{
		"merchantReference": order.IncrementID,
		"redirectResult":    "blob",
	})
	require.NoError(t, err)

	tokens, err := vaultTokens.ListByCustomer(ctx, order.CustomerID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, domain.TokenTypeCreditCard, tokens[0].Type)
}

func TestReturnFlow_VaultFailureDoesNotBreakCheckout(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	// Token reference present but the card fields are missing, so vaulting
	// fails while the payment itself is fine.
	gw, _ := fakeGateway(t, map[string]any{
		"resultCode":    "Authorised",
		"pspReference":  "8514775682339934",
		"paymentMethod": map[string]string{"type": "scheme", "brand": "visa"},
		"additionalData": map[string]string{
			"recurring.recurringDetailReference": "8415568838266087",
		},
	})
	flow, stores, vaultTokens := setupReturnTest(t, db, gw)

	order := testutil.SeedOrder(t, stores.orders)

	result, err := flow.HandleReturn(ctx, map[string]string{
		"merchantReference": order.IncrementID,
		"redirectResult":    "blob",
	})
	require.NoError(t, err)
	assert.True(t, result.Accept)

	tokens, err := vaultTokens.ListByCustomer(ctx, order.CustomerID)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
