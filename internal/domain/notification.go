package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type EventCode string

const (
	EventCodeAuthorisation EventCode = "AUTHORISATION"
	EventCodeCapture       EventCode = "CAPTURE"
	EventCodeCaptureFailed EventCode = "CAPTURE_FAILED"
	EventCodeCancellation  EventCode = "CANCELLATION"
	EventCodeRefund        EventCode = "REFUND"
	EventCodeOfferClosed   EventCode = "OFFER_CLOSED"
)

// SuccessFlag decodes the gateway's success field, which arrives either as a
// JSON boolean or as the strings "true"/"false".
type SuccessFlag bool

func (s *SuccessFlag) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	v, err := strconv.ParseBool(string(data))
	if err != nil {
		return fmt.Errorf("SuccessFlag: cannot parse %q: %w", string(data), err)
	}
	*s = SuccessFlag(v)
	return nil
}

func (s SuccessFlag) Bool() bool { return bool(s) }

type Amount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

// Notification is a single asynchronous delivery from the gateway. It is
// immutable once stored; only the done/processing flags change afterwards.
// Identity is (PSPReference, EventCode, Success, OriginalReference).
type Notification struct {
	ID                uuid.UUID
	PSPReference      string
	OriginalReference string
	MerchantReference string
	EventCode         EventCode
	Success           bool
	AmountValue       int64
	AmountCurrency    string
	PaymentMethod     string
	Reason            string
	AdditionalData    map[string]string
	Done              bool
	Processing        bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (n *Notification) AdditionalDataJSON() (json.RawMessage, error) {
	if n.AdditionalData == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(n.AdditionalData)
	if err != nil {
		return nil, fmt.Errorf("AdditionalDataJSON: %w", err)
	}
	return b, nil
}
