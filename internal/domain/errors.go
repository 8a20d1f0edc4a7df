package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrOrderNotFound             = errors.New("order not found")
	ErrDuplicateNotification     = errors.New("notification already received")
	ErrInvalidRequest            = errors.New("invalid request")
	ErrInvalidExpiryDate         = errors.New("invalid expiry date")
	ErrMerchantReferenceMismatch = errors.New("merchant reference mismatch")
	ErrGatewayUnavailable        = errors.New("gateway unavailable")
	ErrOrderNotCancellable       = errors.New("order not cancellable")
)

// MissingFieldError reports a required additionalData field absent from a
// gateway response. Remedy names the gateway configuration screen the
// operator has to enable the field on; it is surfaced verbatim so the fix is
// actionable without reading code.
type MissingFieldError struct {
	Field  string
	Remedy string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing %s in result: %s", e.Field, e.Remedy)
}

func IsMissingField(err error) bool {
	var mfe *MissingFieldError
	return errors.As(err, &mfe)
}
