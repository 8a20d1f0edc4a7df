package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meridianpay/recon/internal/domain"
	"github.com/meridianpay/recon/internal/logging"
)

type notificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
}

// WebhookHandler accepts the gateway's asynchronous notifications. Intake
// only stores and acknowledges; the dispatcher applies state changes later.
type WebhookHandler struct {
	notifications notificationRepository
	secret        string
}

func NewWebhookHandler(notifications notificationRepository, secret string) *WebhookHandler {
	return &WebhookHandler{notifications: notifications, secret: secret}
}

type notificationPayload struct {
	PSPReference      string            `json:"pspReference"`
	OriginalReference string            `json:"originalReference"`
	MerchantReference string            `json:"merchantReference"`
	EventCode         string            `json:"eventCode"`
	Amount            domain.Amount     `json:"amount"`
	PaymentMethod     string            `json:"paymentMethod"`
	Reason            string            `json:"reason"`
	AdditionalData    map[string]string `json:"additionalData"`

	// Pointer so an absent success field is distinguishable from false: a
	// missing flag must be rejected, not stored as a failed event.
	Success *domain.SuccessFlag `json:"success"`
}

func (p notificationPayload) validate() []FieldError {
	var errs []FieldError

	if p.PSPReference == "" {
		errs = append(errs, FieldError{Field: "pspReference", Message: "required"})
	}
	if p.EventCode == "" {
		errs = append(errs, FieldError{Field: "eventCode", Message: "required"})
	}
	if p.MerchantReference == "" {
		errs = append(errs, FieldError{Field: "merchantReference", Message: "required"})
	}
	if p.Success == nil {
		errs = append(errs, FieldError{Field: "success", Message: "required"})
	}
	if p.Amount.Value < 0 {
		errs = append(errs, FieldError{Field: "amount.value", Message: "must not be negative"})
	}

	return errs
}

var ErrInvalidSignature = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature is invalid"}

// notificationAccepted is the acknowledgement the gateway expects; anything
// else makes it redeliver.
var notificationAccepted = map[string]string{"notificationResponse": "[accepted]"}

func (h *WebhookHandler) ReceiveNotification(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get("X-Webhook-Signature")
	if !verifyHMAC(body, sig, h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload notificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := payload.validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	now := time.Now().UTC()
	n := &domain.Notification{
		ID:                uuid.New(),
		PSPReference:      payload.PSPReference,
		OriginalReference: payload.OriginalReference,
		MerchantReference: payload.MerchantReference,
		EventCode:         domain.EventCode(payload.EventCode),
		Success:           payload.Success.Bool(),
		AmountValue:       payload.Amount.Value,
		AmountCurrency:    payload.Amount.Currency,
		PaymentMethod:     payload.PaymentMethod,
		Reason:            payload.Reason,
		AdditionalData:    payload.AdditionalData,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := h.notifications.Create(r.Context(), n); err != nil {
		if errors.Is(err, domain.ErrDuplicateNotification) {
			// Redeliveries are acknowledged so the gateway stops retrying;
			// the stored row already guarantees single processing.
			log.Info("duplicate notification received",
				"psp_reference", payload.PSPReference,
				"event_code", payload.EventCode,
			)
			RespondJSON(w, http.StatusOK, notificationAccepted)
			return
		}
		log.Error("failed to store notification", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("notification stored",
		"notification_id", n.ID,
		"psp_reference", n.PSPReference,
		"event_code", n.EventCode,
		"success", n.Success,
		"merchant_reference", n.MerchantReference,
	)

	RespondJSON(w, http.StatusOK, notificationAccepted)
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
