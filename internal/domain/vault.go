package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TokenType string

const (
	TokenTypeCreditCard TokenType = "card"
	TokenTypeAccount    TokenType = "account"
)

// Recurring processing models accepted by the gateway.
const (
	RecurringCardOnFile            = "CardOnFile"
	RecurringSubscription          = "Subscription"
	RecurringUnscheduledCardOnFile = "UnscheduledCardOnFile"
)

func RecurringProcessingModels() []string {
	return []string{
		RecurringCardOnFile,
		RecurringSubscription,
		RecurringUnscheduledCardOnFile,
	}
}

func ValidRecurringProcessingModel(model string) bool {
	for _, m := range RecurringProcessingModels() {
		if m == model {
			return true
		}
	}
	return false
}

// VaultToken is a stored reference to a tokenized payment instrument.
// Identity is (GatewayToken, PaymentMethodCode, CustomerID): a repeat
// tokenizing response for the same gateway reference updates the existing
// row instead of creating a duplicate.
type VaultToken struct {
	ID                uuid.UUID
	GatewayToken      string
	PaymentMethodCode string
	CustomerID        uuid.UUID
	Type              TokenType
	ExpiresAt         time.Time
	Details           json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TokenDetails is the JSON blob stored alongside a vault token.
type TokenDetails struct {
	Brand          string `json:"type,omitempty"`
	MaskedPAN      string `json:"maskedCC,omitempty"`
	WalletType     string `json:"walletType,omitempty"`
	ExpirationDate string `json:"expirationDate,omitempty"`
	TokenLabel     string `json:"tokenLabel,omitempty"`
	TokenType      string `json:"tokenType,omitempty"`
}
