package vault

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianpay/recon/internal/domain"
)

type fakeTokenStore struct {
	tokens map[string]*domain.VaultToken
	saves  int
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: map[string]*domain.VaultToken{}}
}

func (s *fakeTokenStore) key(gatewayToken, code string, customerID uuid.UUID) string {
	return gatewayToken + "|" + code + "|" + customerID.String()
}

func (s *fakeTokenStore) GetByGatewayToken(_ context.Context, gatewayToken, code string, customerID uuid.UUID) (*domain.VaultToken, error) {
	return s.tokens[s.key(gatewayToken, code, customerID)], nil
}

func (s *fakeTokenStore) Save(_ context.Context, token *domain.VaultToken) error {
	s.saves++
	s.tokens[s.key(token.GatewayToken, token.PaymentMethodCode, token.CustomerID)] = token
	return nil
}

func cardPayment(customerID uuid.UUID) PaymentInfo {
	return PaymentInfo{
		CustomerID:               customerID,
		PaymentMethodCode:        "scheme",
		TxVariant:                "visa",
		IsCard:                   true,
		RecurringProcessingModel: domain.RecurringCardOnFile,
		AdditionalData: map[string]string{
			KeyRecurringDetailReference: "8415995487234100",
			KeyCardSummary:              "1111",
			KeyExpiryDate:               "03/27",
			KeyPaymentMethod:            "visa",
		},
	}
}

func TestExpiryFromCardDate(t *testing.T) {
	tests := []struct {
		name    string
		expiry  string
		want    time.Time
		wantErr bool
	}{
		{
			name:   "standard MM/YY",
			expiry: "03/27",
			want:   time.Date(2027, time.April, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "single digit month",
			expiry: "3/27",
			want:   time.Date(2027, time.April, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "december rolls into next year",
			expiry: "12/26",
			want:   time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
		{name: "missing slash", expiry: "0327", wantErr: true},
		{name: "month out of range", expiry: "13/27", wantErr: true},
		{name: "month zero", expiry: "0/27", wantErr: true},
		{name: "non-numeric month", expiry: "ab/27", wantErr: true},
		{name: "non-numeric year", expiry: "03/xy", wantErr: true},
		{name: "empty", expiry: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExpiryFromCardDate(tc.expiry)
			if tc.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidExpiryDate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSaveRecurringDetails_CardToken(t *testing.T) {
	store := newFakeTokenStore()
	builder := NewBuilder(store, slog.Default())
	customerID := uuid.New()

	token, err := builder.SaveRecurringDetails(context.Background(), cardPayment(customerID))
	require.NoError(t, err)

	assert.Equal(t, "8415995487234100", token.GatewayToken)
	assert.Equal(t, domain.TokenTypeCreditCard, token.Type)
	assert.Equal(t, time.Date(2027, time.April, 1, 0, 0, 0, 0, time.UTC), token.ExpiresAt)

	var details domain.TokenDetails
	require.NoError(t, json.Unmarshal(token.Details, &details))
	assert.Equal(t, "visa", details.Brand)
	assert.Equal(t, "1111", details.MaskedPAN)
	assert.Equal(t, "03/27", details.ExpirationDate)
	assert.Equal(t, domain.RecurringCardOnFile, details.TokenType)
}

func TestSaveRecurringDetails_UpdatesExistingTokenInPlace(t *testing.T) {
	store := newFakeTokenStore()
	builder := NewBuilder(store, slog.Default())
	customerID := uuid.New()

	first, err := builder.SaveRecurringDetails(context.Background(), cardPayment(customerID))
	require.NoError(t, err)

	payment := cardPayment(customerID)
	payment.AdditionalData[KeyExpiryDate] = "06/28"
	second, err := builder.SaveRecurringDetails(context.Background(), payment)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same gateway token must update, not duplicate")
	assert.Len(t, store.tokens, 1)
	assert.Equal(t, time.Date(2028, time.July, 1, 0, 0, 0, 0, time.UTC), second.ExpiresAt)
}

func TestSaveRecurringDetails_WalletToken(t *testing.T) {
	store := newFakeTokenStore()
	builder := NewBuilder(store, slog.Default())

	token, err := builder.SaveRecurringDetails(context.Background(), PaymentInfo{
		CustomerID:               uuid.New(),
		PaymentMethodCode:        "applepay",
		TxVariant:                "applepay_visa",
		IsWallet:                 true,
		RecurringProcessingModel: domain.RecurringUnscheduledCardOnFile,
		AdditionalData: map[string]string{
			KeyRecurringDetailReference: "8515995487234200",
			KeyExpiryDate:               "11/27",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TokenTypeCreditCard, token.Type)

	var details domain.TokenDetails
	require.NoError(t, json.Unmarshal(token.Details, &details))
	assert.Equal(t, "visa", details.Brand)
	assert.Equal(t, "applepay", details.WalletType)
}

func TestSaveRecurringDetails_AccountToken(t *testing.T) {
	store := newFakeTokenStore()
	builder := NewBuilder(store, slog.Default())
	builder.now = func() time.Time {
		return time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC)
	}

	token, err := builder.SaveRecurringDetails(context.Background(), PaymentInfo{
		CustomerID:               uuid.New(),
		PaymentMethodCode:        "sepadirectdebit",
		TxVariant:                "sepadirectdebit",
		RecurringProcessingModel: domain.RecurringSubscription,
		AdditionalData: map[string]string{
			KeyRecurringDetailReference: "8615995487234300",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TokenTypeAccount, token.Type)
	assert.Equal(t, time.Date(2027, time.August, 29, 12, 0, 0, 0, time.UTC), token.ExpiresAt)

	var details domain.TokenDetails
	require.NoError(t, json.Unmarshal(token.Details, &details))
	assert.Contains(t, details.TokenLabel, "sepadirectdebit token created on 2026-08-29")
}

func TestSaveRecurringDetails_MissingFields(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(p *PaymentInfo)
		wantField string
	}{
		{
			name:      "missing recurring reference",
			mutate:    func(p *PaymentInfo) { delete(p.AdditionalData, KeyRecurringDetailReference) },
			wantField: KeyRecurringDetailReference,
		},
		{
			name:      "missing card summary",
			mutate:    func(p *PaymentInfo) { delete(p.AdditionalData, KeyCardSummary) },
			wantField: KeyCardSummary,
		},
		{
			name:      "missing expiry date",
			mutate:    func(p *PaymentInfo) { delete(p.AdditionalData, KeyExpiryDate) },
			wantField: KeyExpiryDate,
		},
		{
			name:      "missing payment method brand",
			mutate:    func(p *PaymentInfo) { delete(p.AdditionalData, KeyPaymentMethod) },
			wantField: KeyPaymentMethod,
		},
		{
			name:      "empty value counts as missing",
			mutate:    func(p *PaymentInfo) { p.AdditionalData[KeyCardSummary] = "" },
			wantField: KeyCardSummary,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeTokenStore()
			builder := NewBuilder(store, slog.Default())
			payment := cardPayment(uuid.New())
			tc.mutate(&payment)

			_, err := builder.SaveRecurringDetails(context.Background(), payment)
			require.Error(t, err)

			var mfe *domain.MissingFieldError
			require.ErrorAs(t, err, &mfe)
			assert.Equal(t, tc.wantField, mfe.Field)
			assert.NotEmpty(t, mfe.Remedy, "error must name the configuration screen to fix")
			assert.Zero(t, store.saves, "no token may be written on validation failure")
		})
	}
}

func TestSaveRecurringDetails_MalformedExpiryFails(t *testing.T) {
	store := newFakeTokenStore()
	builder := NewBuilder(store, slog.Default())
	payment := cardPayment(uuid.New())
	payment.AdditionalData[KeyExpiryDate] = "2027-03"

	_, err := builder.SaveRecurringDetails(context.Background(), payment)
	require.ErrorIs(t, err, domain.ErrInvalidExpiryDate)
	assert.Zero(t, store.saves)
}
