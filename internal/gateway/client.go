// Package gateway is a thin HTTP client for the payment gateway's
// modification (capture/refund/cancel) and payment-details endpoints.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridianpay/recon/internal/domain"
	"github.com/meridianpay/recon/internal/idempotency"
	"github.com/meridianpay/recon/internal/logging"
)

const (
	ResponseCaptureReceived = "[capture-received]"
	ResponseRefundReceived  = "[refund-received]"
	ResponseCancelReceived  = "[cancel-received]"
)

type ModificationRequest struct {
	MerchantAccount    string        `json:"merchantAccount"`
	ModificationAmount domain.Amount `json:"modificationAmount"`
	OriginalReference  string        `json:"originalReference"`
	Reference          string        `json:"reference,omitempty"`
}

type ModificationResponse struct {
	PSPReference string `json:"pspReference"`
	Response     string `json:"response"`

	// Copied from the request so callers can correlate without keeping it.
	CaptureAmount     int64  `json:"-"`
	OriginalReference string `json:"-"`
	FormattedAmount   string `json:"-"`
}

// CaptureResult is one entry of a multi-authorization capture fan-out.
// Err is set instead of Response when that sub-capture failed; one failing
// authorization does not abort its siblings.
type CaptureResult struct {
	Response *ModificationResponse
	Err      error
}

type DetailsRequest struct {
	Details map[string]string `json:"details"`
}

type DetailsResponse struct {
	ResultCode        string            `json:"resultCode"`
	PSPReference      string            `json:"pspReference"`
	MerchantReference string            `json:"merchantReference"`
	PaymentMethod     PaymentMethodInfo `json:"paymentMethod"`
	DonationToken     string            `json:"donationToken"`
	AdditionalData    map[string]string `json:"additionalData"`
}

type PaymentMethodInfo struct {
	Type  string `json:"type"`
	Brand string `json:"brand"`
}

// Variant prefers the card brand over the method type, matching how the
// result is classified.
func (p PaymentMethodInfo) Variant() string {
	if p.Brand != "" {
		return p.Brand
	}
	return p.Type
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Capture submits a capture for an authorised payment. idempotencyExtra
// disambiguates sub-captures that share a request body; pass "" otherwise.
func (c *Client) Capture(ctx context.Context, req ModificationRequest, idempotencyExtra string) (*ModificationResponse, error) {
	return c.modification(ctx, "/capture", req, idempotencyExtra)
}

func (c *Client) Refund(ctx context.Context, req ModificationRequest, idempotencyExtra string) (*ModificationResponse, error) {
	return c.modification(ctx, "/refund", req, idempotencyExtra)
}

func (c *Client) Cancel(ctx context.Context, req ModificationRequest, idempotencyExtra string) (*ModificationResponse, error) {
	return c.modification(ctx, "/cancel", req, idempotencyExtra)
}

// CaptureMultiple fans one logical capture out over several prior
// authorizations. The merchant account is copied from the parent onto every
// sub-request, and each sub-request gets its own idempotency extra data (the
// authorization's psp reference) so retries stay safe per authorization.
func (c *Client) CaptureMultiple(ctx context.Context, merchantAccount string, authorizations []ModificationRequest) []CaptureResult {
	log := logging.FromContext(ctx)

	results := make([]CaptureResult, 0, len(authorizations))
	for _, req := range authorizations {
		req.MerchantAccount = merchantAccount

		resp, err := c.Capture(ctx, req, req.OriginalReference)
		if err != nil {
			log.Error("sub-capture failed",
				"original_reference", req.OriginalReference,
				"error", err,
			)
			results = append(results, CaptureResult{
				Err: fmt.Errorf("capture of authorization %s: %w", req.OriginalReference, err),
			})
			continue
		}
		results = append(results, CaptureResult{Response: resp})
	}
	return results
}

// PaymentDetails verifies a redirect-return payload with the gateway and
// returns the authoritative payment result.
func (c *Client) PaymentDetails(ctx context.Context, details map[string]string) (*DetailsResponse, error) {
	body, err := json.Marshal(DetailsRequest{Details: details})
	if err != nil {
		return nil, fmt.Errorf("PaymentDetails: marshal: %w", err)
	}

	raw, err := c.post(ctx, "/payments/details", body, "")
	if err != nil {
		return nil, fmt.Errorf("PaymentDetails: %w", err)
	}

	var resp DetailsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("PaymentDetails: decode: %w", err)
	}
	return &resp, nil
}

func (c *Client) modification(ctx context.Context, path string, req ModificationRequest, idempotencyExtra string) (*ModificationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("modification %s: marshal: %w", path, err)
	}

	key, err := idempotency.GenerateKey(req, idempotencyExtra)
	if err != nil {
		return nil, fmt.Errorf("modification %s: idempotency key: %w", path, err)
	}

	raw, err := c.post(ctx, path, body, key)
	if err != nil {
		return nil, fmt.Errorf("modification %s: %w", path, err)
	}

	var resp ModificationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("modification %s: decode: %w", path, err)
	}

	resp.CaptureAmount = req.ModificationAmount.Value
	resp.OriginalReference = req.OriginalReference
	resp.FormattedAmount = domain.FormatMinorUnits(req.ModificationAmount.Value, req.ModificationAmount.Currency)
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, idempotencyKey string) ([]byte, error) {
	log := logging.FromContext(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send: %w: %w", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	log.Debug("gateway response received",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s: %w",
			resp.StatusCode, truncate(raw, 512), domain.ErrGatewayUnavailable)
	}
	return raw, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
