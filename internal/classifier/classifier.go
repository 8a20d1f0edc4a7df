// Package classifier maps gateway result codes to checkout outcomes.
package classifier

import (
	"strings"

	"github.com/meridianpay/recon/internal/domain"
)

// Outcome is the decision for a single gateway result.
//
// Accept means the shopper may be sent to the success path. WaitForAsync
// means the order must not be finalized until the matching asynchronous
// notification arrives. Supported is false for result codes the policy
// table does not know; those cause no state change at all.
type Outcome struct {
	Accept       bool
	WaitForAsync bool
	Supported    bool
	Comment      string
}

const pendingUnconfirmedComment = "The payment result is not confirmed (yet). " +
	"Once the payment is authorised, the order status will be updated accordingly. " +
	"If the order is stuck on this status, the payment can be seen as unsuccessful. " +
	"The order can be automatically cancelled based on the OFFER_CLOSED notification."

// Classify applies the fixed result-code policy table. The result code is
// matched case-insensitively; paymentMethod refines RECEIVED and PENDING.
// Unknown codes never fail: they degrade to a no-op outcome the caller is
// expected to log.
func Classify(resultCode, paymentMethod string) Outcome {
	switch domain.ResultCode(strings.ToUpper(resultCode)) {
	case domain.ResultCodeAuthorised:
		return Outcome{
			Accept:       true,
			WaitForAsync: true,
			Supported:    true,
			Comment:      "waiting for the authorisation notification before finalizing",
		}
	case domain.ResultCodeReceived:
		out := Outcome{
			Accept:       true,
			WaitForAsync: true,
			Supported:    true,
			Comment:      "waiting for the authorisation notification before finalizing",
		}
		// alipay_hk reports RECEIVED for payments that never complete; treat
		// it as a failure so the shopper is not sent to the success page.
		if strings.Contains(paymentMethod, "alipay_hk") {
			out.Accept = false
		}
		return out
	case domain.ResultCodePending:
		out := Outcome{Accept: true, WaitForAsync: true, Supported: true}
		switch {
		case strings.Contains(paymentMethod, "bankTransfer"):
			out.Comment = "Waiting for the customer to transfer the money."
		case paymentMethod == "sepadirectdebit":
			out.Comment = "This request will be sent to the bank at the end of the day."
		default:
			out.Comment = pendingUnconfirmedComment
		}
		return out
	case domain.ResultCodeCancelled, domain.ResultCodeError:
		return Outcome{
			Supported: true,
			Comment:   "order will be cancelled or held when the OFFER_CLOSED notification is processed",
		}
	case domain.ResultCodeRefused:
		return Outcome{
			Supported: true,
			Comment:   "order will be cancelled on the AUTHORISATION success=false notification",
		}
	default:
		return Outcome{}
	}
}
