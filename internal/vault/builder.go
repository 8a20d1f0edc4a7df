// Package vault turns gateway tokenization responses into stored payment
// tokens that can be reused for recurring charges.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridianpay/recon/internal/domain"
)

// additionalData keys the gateway must be configured to return.
const (
	KeyRecurringDetailReference = "recurring.recurringDetailReference"
	KeyCardSummary              = "cardSummary"
	KeyExpiryDate               = "expiryDate"
	KeyPaymentMethod            = "paymentMethod"
)

// Remedies point the operator at the gateway configuration screen that
// enables the missing response field. Surfaced verbatim in errors.
var additionalDataRemedies = map[string]string{
	KeyRecurringDetailReference: "enable the Recurring details setting in Settings -> API URLs and Response in the gateway Customer Area",
	KeyCardSummary:              "log in to the gateway portal and go to Settings -> API URLs and Response and enable the Card summary property",
	KeyExpiryDate:               "log in to the gateway portal and go to Settings -> API URLs and Response and enable the Expiry date property",
	KeyPaymentMethod:            "log in to the gateway portal and go to Settings -> API URLs and Response and enable the Variant property",
}

// PaymentInfo is the slice of a completed payment the builder needs.
type PaymentInfo struct {
	CustomerID               uuid.UUID
	PaymentMethodCode        string
	TxVariant                string
	IsWallet                 bool
	IsCard                   bool
	RecurringProcessingModel string
	AdditionalData           map[string]string
}

type TokenStore interface {
	// GetByGatewayToken returns nil, nil when no token matches.
	GetByGatewayToken(ctx context.Context, gatewayToken, paymentMethodCode string, customerID uuid.UUID) (*domain.VaultToken, error)
	Save(ctx context.Context, token *domain.VaultToken) error
}

type Builder struct {
	tokens TokenStore
	logger *slog.Logger
	now    func() time.Time
}

func NewBuilder(tokens TokenStore, logger *slog.Logger) *Builder {
	return &Builder{tokens: tokens, logger: logger, now: time.Now}
}

// HasRecurringDetailReference reports whether a gateway response carries the
// token reference at all; callers skip vaulting entirely when it does not.
func HasRecurringDetailReference(additionalData map[string]string) bool {
	_, ok := additionalData[KeyRecurringDetailReference]
	return ok
}

// SaveRecurringDetails builds or updates the vault token for a tokenizing
// response. Lookup is by (gatewayToken, paymentMethodCode, customerID); a
// hit is updated in place so repeat recurring charges never duplicate rows.
func (b *Builder) SaveRecurringDetails(ctx context.Context, payment PaymentInfo) (*domain.VaultToken, error) {
	ref, err := requireField(payment.AdditionalData, KeyRecurringDetailReference)
	if err != nil {
		return nil, err
	}

	token, err := b.tokens.GetByGatewayToken(ctx, ref, payment.PaymentMethodCode, payment.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("SaveRecurringDetails: lookup: %w", err)
	}

	updating := token != nil
	if token == nil {
		token = &domain.VaultToken{
			ID:                uuid.New(),
			GatewayToken:      ref,
			PaymentMethodCode: payment.PaymentMethodCode,
			CustomerID:        payment.CustomerID,
			CreatedAt:         b.now().UTC(),
		}
	}

	details, err := b.populate(token, payment)
	if err != nil {
		return nil, err
	}

	details.TokenType = payment.RecurringProcessingModel

	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("SaveRecurringDetails: marshal details: %w", err)
	}
	token.Details = raw
	token.UpdatedAt = b.now().UTC()

	if err := b.tokens.Save(ctx, token); err != nil {
		return nil, fmt.Errorf("SaveRecurringDetails: save: %w", err)
	}

	b.logger.Info("vault token stored",
		"gateway_token", token.GatewayToken,
		"payment_method", token.PaymentMethodCode,
		"updated", updating,
	)
	return token, nil
}

func (b *Builder) populate(token *domain.VaultToken, payment PaymentInfo) (*domain.TokenDetails, error) {
	switch {
	case payment.IsWallet:
		expiryRaw, err := requireField(payment.AdditionalData, KeyExpiryDate)
		if err != nil {
			return nil, err
		}
		expiresAt, err := ExpiryFromCardDate(expiryRaw)
		if err != nil {
			return nil, err
		}

		variant := parseTxVariant(payment.TxVariant)
		token.Type = domain.TokenTypeCreditCard
		token.ExpiresAt = expiresAt
		return &domain.TokenDetails{
			Brand:          variant.card,
			WalletType:     variant.wallet,
			ExpirationDate: expiryRaw,
		}, nil

	case payment.IsCard:
		summary, err := requireField(payment.AdditionalData, KeyCardSummary)
		if err != nil {
			return nil, err
		}
		expiryRaw, err := requireField(payment.AdditionalData, KeyExpiryDate)
		if err != nil {
			return nil, err
		}
		brand, err := requireField(payment.AdditionalData, KeyPaymentMethod)
		if err != nil {
			return nil, err
		}
		expiresAt, err := ExpiryFromCardDate(expiryRaw)
		if err != nil {
			return nil, err
		}

		token.Type = domain.TokenTypeCreditCard
		token.ExpiresAt = expiresAt
		return &domain.TokenDetails{
			Brand:          brand,
			MaskedPAN:      summary,
			ExpirationDate: expiryRaw,
		}, nil

	default:
		// Non-card methods carry no card expiry; the token is kept for one
		// year from creation.
		now := b.now().UTC()
		token.Type = domain.TokenTypeAccount
		token.ExpiresAt = now.AddDate(1, 0, 0)
		return &domain.TokenDetails{
			Brand:      payment.TxVariant,
			TokenLabel: fmt.Sprintf("%s token created on %s", payment.PaymentMethodCode, now.Format("2006-01-02")),
		}, nil
	}
}

func requireField(additionalData map[string]string, key string) (string, error) {
	if v, ok := additionalData[key]; ok && v != "" {
		return v, nil
	}
	return "", &domain.MissingFieldError{Field: key, Remedy: additionalDataRemedies[key]}
}

type txVariant struct {
	wallet string
	card   string
}

// parseTxVariant splits a wallet tx variant like "applepay_visa" into the
// wallet method and the underlying card brand.
func parseTxVariant(variant string) txVariant {
	if i := strings.IndexByte(variant, '_'); i >= 0 {
		return txVariant{wallet: variant[:i], card: variant[i+1:]}
	}
	return txVariant{wallet: variant, card: variant}
}
