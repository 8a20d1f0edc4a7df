package handler

import (
	"context"
	"net/http"

	"github.com/meridianpay/recon/internal/logging"
	"github.com/meridianpay/recon/internal/recon"
)

type returnFlow interface {
	HandleReturn(ctx context.Context, params map[string]string) (*recon.ReturnResult, error)
}

// RedirectHandler terminates the shopper's redirect back from the gateway
// and forwards them to the storefront success or failure page.
type RedirectHandler struct {
	flow returnFlow
}

func NewRedirectHandler(flow returnFlow) *RedirectHandler {
	return &RedirectHandler{flow: flow}
}

func (h *RedirectHandler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	params := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	result, err := h.flow.HandleReturn(r.Context(), params)
	if err != nil {
		log.Error("redirect return failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	http.Redirect(w, r, result.RedirectPath, http.StatusFound)
}
