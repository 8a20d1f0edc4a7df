package recon

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridianpay/recon/internal/classifier"
	"github.com/meridianpay/recon/internal/domain"
	"github.com/meridianpay/recon/internal/gateway"
	"github.com/meridianpay/recon/internal/logging"
	"github.com/meridianpay/recon/internal/repository"
	"github.com/meridianpay/recon/internal/vault"
)

// allowedDetailKeys is the closed set of redirect-return parameters that may
// be forwarded to the gateway's details call. Everything else the shopper's
// browser carries back is dropped.
var allowedDetailKeys = map[string]struct{}{
	"MD":                       {},
	"PaReq":                    {},
	"PaRes":                    {},
	"billingToken":             {},
	"cupsecureplus.smscode":    {},
	"facilitatorAccessToken":   {},
	"oneTimePasscode":          {},
	"orderID":                  {},
	"payerID":                  {},
	"payload":                  {},
	"paymentID":                {},
	"paymentStatus":            {},
	"redirectResult":           {},
	"threeDSResult":            {},
	"threeds2.challengeResult": {},
	"threeds2.fingerprint":     {},
}

// FilterDetails keeps only the allow-listed keys from a redirect return.
func FilterDetails(params map[string]string) map[string]string {
	details := make(map[string]string, len(params))
	for k, v := range params {
		if _, ok := allowedDetailKeys[k]; ok {
			details[k] = v
		}
	}
	return details
}

// ReturnResult tells the HTTP layer where to send the shopper after a
// redirect return has been reconciled.
type ReturnResult struct {
	Accept       bool
	RedirectPath string
	RestoreCart  bool
	ResultCode   string
	PSPReference string
}

type detailsClient interface {
	PaymentDetails(ctx context.Context, details map[string]string) (*gateway.DetailsResponse, error)
}

type tokenBuilder interface {
	SaveRecurringDetails(ctx context.Context, payment vault.PaymentInfo) (*domain.VaultToken, error)
}

// ReturnFlow verifies a shopper's redirect return against the gateway and
// applies the authoritative result to the order.
type ReturnFlow struct {
	gateway     detailsClient
	orders      orderStore
	history     historyStore
	vault       tokenBuilder
	db          *sql.DB
	locks       *LockRegistry
	logger      *slog.Logger
	successPath string
	failurePath string
}

// NewReturnFlow builds the redirect-return flow. locks must be the registry
// the dispatcher uses so returns and notifications for one order serialize.
func NewReturnFlow(
	gw detailsClient,
	orders orderStore,
	history historyStore,
	tokens tokenBuilder,
	db *sql.DB,
	locks *LockRegistry,
	logger *slog.Logger,
	successPath, failurePath string,
) *ReturnFlow {
	return &ReturnFlow{
		gateway:     gw,
		orders:      orders,
		history:     history,
		vault:       tokens,
		db:          db,
		locks:       locks,
		logger:      logging.WithChannel(logger, logging.ChannelResult),
		successPath: successPath,
		failurePath: failurePath,
	}
}

// HandleReturn processes the query parameters of a redirect return. The
// merchantReference parameter selects the order and is never forwarded to the
// gateway; neither is the isAjax flag some redirect methods append.
func (f *ReturnFlow) HandleReturn(ctx context.Context, params map[string]string) (*ReturnResult, error) {
	merchantReference := params["merchantReference"]
	if merchantReference == "" {
		return nil, fmt.Errorf("HandleReturn: %w: merchantReference is required", domain.ErrInvalidRequest)
	}

	details := FilterDetails(params)
	if len(details) == 0 {
		return nil, fmt.Errorf("HandleReturn: %w: no payment details in return parameters", domain.ErrInvalidRequest)
	}

	log := f.logger.With("merchant_reference", merchantReference)

	order, err := f.orders.GetByIncrementID(ctx, merchantReference)
	if err != nil {
		return nil, fmt.Errorf("HandleReturn: load order: %w", err)
	}

	// The gateway round-trip happens outside the order lock so a slow
	// details call never stalls notification processing for the same order.
	resp, err := f.gateway.PaymentDetails(ctx, details)
	if err != nil {
		return nil, fmt.Errorf("HandleReturn: %w", err)
	}

	if resp.MerchantReference != "" && resp.MerchantReference != order.IncrementID {
		log.Error("gateway returned a different merchant reference",
			"gateway_merchant_reference", resp.MerchantReference,
		)
		return nil, fmt.Errorf("HandleReturn: %w", domain.ErrMerchantReferenceMismatch)
	}

	f.saveToken(ctx, log, order, resp)

	outcome := classifier.Classify(resp.ResultCode, resp.PaymentMethod.Variant())
	if !outcome.Supported {
		log.Warn("unsupported result code, order unchanged", "result_code", resp.ResultCode)
		return &ReturnResult{
			RedirectPath: f.failurePath,
			RestoreCart:  true,
			ResultCode:   resp.ResultCode,
			PSPReference: resp.PSPReference,
		}, nil
	}

	release := f.locks.Lock(order.ID)
	defer release()

	order, err = f.orders.GetByIncrementID(ctx, merchantReference)
	if err != nil {
		return nil, fmt.Errorf("HandleReturn: reload order: %w", err)
	}

	if outcome.Accept {
		if err := f.applyAccepted(ctx, order, resp, outcome); err != nil {
			return nil, err
		}
		log.Info("return accepted", "result_code", resp.ResultCode, "psp_reference", resp.PSPReference)
		return &ReturnResult{
			Accept:       true,
			RedirectPath: f.successPath,
			ResultCode:   resp.ResultCode,
			PSPReference: resp.PSPReference,
		}, nil
	}

	if err := f.applyRejected(ctx, order, resp, outcome); err != nil {
		return nil, err
	}
	log.Info("return rejected", "result_code", resp.ResultCode, "psp_reference", resp.PSPReference)
	return &ReturnResult{
		RedirectPath: f.failurePath,
		RestoreCart:  true,
		ResultCode:   resp.ResultCode,
		PSPReference: resp.PSPReference,
	}, nil
}

// applyAccepted records the result without finalizing: the authorisation
// notification finishes the order.
func (f *ReturnFlow) applyAccepted(ctx context.Context, order *domain.Order, resp *gateway.DetailsResponse, outcome classifier.Outcome) error {
	order.ResultCode = domain.ResultCode(strings.ToUpper(resp.ResultCode))
	order.PSPReference = resp.PSPReference
	if order.State == domain.OrderStateNew {
		order.State = domain.OrderStatePendingPayment
	}

	return f.persist(ctx, order, false, fmt.Sprintf("Result URL response: %s; %s", resp.ResultCode, outcome.Comment))
}

// applyRejected cancels the order and reactivates the quote so the shopper
// can retry checkout with the same cart.
func (f *ReturnFlow) applyRejected(ctx context.Context, order *domain.Order, resp *gateway.DetailsResponse, outcome classifier.Outcome) error {
	order.ResultCode = domain.ResultCode(strings.ToUpper(resp.ResultCode))
	order.PSPReference = resp.PSPReference

	forceNew := false
	if !order.State.Terminal() {
		if !order.CanCancel() {
			forceNew = true
		}
		order.State = domain.OrderStateCancelled
	}
	order.QuoteActive = true

	return f.persist(ctx, order, forceNew, fmt.Sprintf("Result URL response: %s; %s", resp.ResultCode, outcome.Comment))
}

func (f *ReturnFlow) persist(ctx context.Context, order *domain.Order, forceNew bool, comment string) error {
	tx, err := repository.BeginTx(ctx, f.db)
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	defer tx.Rollback()

	if forceNew {
		if err := f.orders.SetState(ctx, tx, order.ID, domain.OrderStateNew); err != nil {
			return fmt.Errorf("persist: force state: %w", err)
		}
	}
	if err := f.orders.UpdatePaymentState(ctx, tx, order); err != nil {
		return fmt.Errorf("persist: update order: %w", err)
	}
	entry := &domain.HistoryEntry{
		ID:        uuid.New(),
		OrderID:   order.ID,
		State:     order.State,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.history.Create(ctx, tx, entry); err != nil {
		return fmt.Errorf("persist: history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: commit: %w", err)
	}
	return nil
}

// saveToken vaults the recurring details when the gateway returned them.
// Token storage must never break checkout, so failures are logged only.
func (f *ReturnFlow) saveToken(ctx context.Context, log *slog.Logger, order *domain.Order, resp *gateway.DetailsResponse) {
	if !vault.HasRecurringDetailReference(resp.AdditionalData) {
		return
	}

	variant := resp.PaymentMethod.Variant()
	model := resp.AdditionalData["recurringProcessingModel"]
	if !domain.ValidRecurringProcessingModel(model) {
		if model != "" {
			log.Warn("unknown recurring processing model, storing as card-on-file", "model", model)
		}
		model = domain.RecurringCardOnFile
	}

	_, err := f.vault.SaveRecurringDetails(ctx, vault.PaymentInfo{
		CustomerID:               order.CustomerID,
		PaymentMethodCode:        order.PaymentMethod,
		TxVariant:                variant,
		IsWallet:                 isWalletVariant(variant),
		IsCard:                   isCardVariant(variant),
		RecurringProcessingModel: model,
		AdditionalData:           resp.AdditionalData,
	})
	switch {
	case err == nil:
	case domain.IsMissingField(err):
		// The fix is a gateway configuration change, not a code path worth
		// alerting on.
		log.Warn("vault token not stored", "error", err)
	default:
		log.Error("failed to store vault token", "error", err)
	}
}

var walletPrefixes = []string{"applepay", "paywithgoogle", "googlepay", "amazonpay"}

var cardVariants = map[string]struct{}{
	"scheme":        {},
	"visa":          {},
	"mc":            {},
	"amex":          {},
	"discover":      {},
	"maestro":       {},
	"jcb":           {},
	"diners":        {},
	"cartebancaire": {},
}

func isWalletVariant(variant string) bool {
	for _, p := range walletPrefixes {
		if strings.HasPrefix(variant, p) {
			return true
		}
	}
	return false
}

func isCardVariant(variant string) bool {
	_, ok := cardVariants[variant]
	return ok
}
