package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/meridianpay/recon/internal/gateway"
	"github.com/meridianpay/recon/internal/logging"
)

type modificationFlow interface {
	RequestCapture(ctx context.Context, incrementID string, amount int64) (*gateway.ModificationResponse, error)
	RequestRefund(ctx context.Context, incrementID string, amount int64) (*gateway.ModificationResponse, error)
	RequestCancel(ctx context.Context, incrementID string) (*gateway.ModificationResponse, error)
}

// ModificationHandler exposes merchant-initiated capture, refund and cancel.
// All are asynchronous: the gateway acknowledges here and confirms by
// webhook.
type ModificationHandler struct {
	flow modificationFlow
}

func NewModificationHandler(flow modificationFlow) *ModificationHandler {
	return &ModificationHandler{flow: flow}
}

type amountRequest struct {
	// Amount in minor units; zero or absent means the full open (capture)
	// or captured (refund) amount.
	Amount int64 `json:"amount"`
}

func (h *ModificationHandler) Capture(w http.ResponseWriter, r *http.Request) {
	h.withAmount(w, r, "capture", h.flow.RequestCapture)
}

func (h *ModificationHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.withAmount(w, r, "refund", h.flow.RequestRefund)
}

func (h *ModificationHandler) withAmount(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	request func(ctx context.Context, incrementID string, amount int64) (*gateway.ModificationResponse, error),
) {
	log := logging.FromContext(r.Context())
	incrementID := r.PathValue("incrementID")

	var req amountRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondAppError(w, ErrInvalidRequest, nil)
			return
		}
	}
	if req.Amount < 0 {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "must not be negative"}})
		return
	}

	resp, err := request(r.Context(), incrementID, req.Amount)
	if err != nil {
		log.Error(op+" request failed", "increment_id", incrementID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusAccepted, map[string]string{
		"pspReference": resp.PSPReference,
		"response":     resp.Response,
	})
}

func (h *ModificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	incrementID := r.PathValue("incrementID")

	resp, err := h.flow.RequestCancel(r.Context(), incrementID)
	if err != nil {
		log.Error("cancel request failed", "increment_id", incrementID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusAccepted, map[string]string{
		"pspReference": resp.PSPReference,
		"response":     resp.Response,
	})
}
