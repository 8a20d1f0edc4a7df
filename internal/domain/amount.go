package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyDecimals returns the number of minor-unit digits for an ISO-4217
// currency code. Unlisted currencies use the common two digits.
func CurrencyDecimals(currency string) int32 {
	switch strings.ToUpper(currency) {
	case "CVE", "DJF", "GNF", "IDR", "JPY", "KMF", "KRW", "PYG", "RWF", "UGX", "VND", "VUV", "XAF", "XOF", "XPF":
		return 0
	case "BHD", "IQD", "JOD", "KWD", "LYD", "OMR", "TND":
		return 3
	default:
		return 2
	}
}

// FormatMinorUnits renders a minor-unit amount as a display string, e.g.
// (1250, "EUR") -> "EUR 12.50" and (1250, "JPY") -> "JPY 1250".
func FormatMinorUnits(value int64, currency string) string {
	dec := CurrencyDecimals(currency)
	amount := decimal.New(value, -dec).StringFixed(dec)
	return strings.ToUpper(currency) + " " + amount
}
