package vault

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meridianpay/recon/internal/domain"
)

// ExpiryFromCardDate converts a card expiry in "MM/YY" (or "M/YY") form to
// the token's hard expiry: the first day of the month after the stated
// expiry month, UTC. A card expiring 03/27 is valid through the end of March
// 2027, so the token expires 2027-04-01 00:00:00 UTC.
//
// Malformed input is a validation error; no default is substituted.
func ExpiryFromCardDate(expiry string) (time.Time, error) {
	parts := strings.Split(expiry, "/")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("ExpiryFromCardDate: %q: %w", expiry, domain.ErrInvalidExpiryDate)
	}

	// Single-digit months arrive unpadded; Atoi handles both "3" and "03".
	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("ExpiryFromCardDate: month %q: %w", parts[0], domain.ErrInvalidExpiryDate)
	}

	year, err := strconv.Atoi(parts[1])
	if err != nil || year < 0 {
		return time.Time{}, fmt.Errorf("ExpiryFromCardDate: year %q: %w", parts[1], domain.ErrInvalidExpiryDate)
	}
	if year < 100 {
		year += 2000
	}

	firstOfMonth := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, 1, 0), nil
}
