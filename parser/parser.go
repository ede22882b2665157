// Package parser normalizes raw listing fields into typed values.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmaguirre/mercadoscan/models"
)

// CurrencyThreshold separates ARS-priced listings from USD-priced ones.
// The site mixes currencies without a structured field; magnitude is the
// only reliable discriminator. A legitimately cheap ARS listing at or
// below the threshold is misclassified as USD - known limitation, do not
// "fix" the value.
const CurrencyThreshold = 1_000_000

var (
	listingIDRe = regexp.MustCompile(`MLA-?(\d+)`)
	digitsRe    = regexp.MustCompile(`\d+`)
)

// ListingIDFromURL derives the stable external identifier from a listing
// URL. Returns "" when the URL carries no identifier; such records cannot
// be deduplicated and are dropped by the caller.
func ListingIDFromURL(link string) string {
	m := listingIDRe.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return "MLA" + m[1]
}

// ParsePrice strips currency symbols and thousands separators and coerces
// the remainder to an integer amount. Absent or non-numeric input yields 0.
func ParsePrice(raw string) int {
	cleaned := strings.NewReplacer("US$", "", "U$S", "", "$", "", ".", "", ",", "", " ", "", " ", "").Replace(strings.TrimSpace(raw))
	digits := digitsRe.FindString(cleaned)
	if digits == "" {
		return 0
	}
	amount, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return amount
}

// InferCurrency classifies a price magnitude. Amounts above the threshold
// are ARS, positive amounts at or below it are USD, and a zero amount
// (price missing or unparseable) is UNKNOWN.
func InferCurrency(amount int) models.Currency {
	if amount <= 0 {
		return models.CurrencyUnknown
	}
	if amount > CurrencyThreshold {
		return models.CurrencyARS
	}
	return models.CurrencyUSD
}

// ConvertAmount converts an as-observed amount into the target display
// currency using rate (ARS per USD). A non-positive rate, an unknown
// source currency, or a matching target leaves the amount untouched.
func ConvertAmount(amount int, from models.Currency, target models.Currency, rate float64) int {
	if rate <= 0 || from == target || from == models.CurrencyUnknown {
		return amount
	}
	switch {
	case from == models.CurrencyARS && target == models.CurrencyUSD:
		return int(float64(amount) / rate)
	case from == models.CurrencyUSD && target == models.CurrencyARS:
		return int(float64(amount) * rate)
	}
	return amount
}

// FormatPrice renders the display mirror of a numeric price.
func FormatPrice(amount int, currency models.Currency) string {
	if amount <= 0 {
		return models.NotAvailable
	}
	switch currency {
	case models.CurrencyARS:
		return fmt.Sprintf("$%d", amount)
	case models.CurrencyUSD:
		return fmt.Sprintf("US$%d", amount)
	}
	return strconv.Itoa(amount)
}

// ParseYear coerces the digit-bearing prefix of a year field.
// Unparseable input yields the "N/A" display sentinel and 0.
func ParseYear(raw string) (display string, year int) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == models.NotAvailable {
		return models.NotAvailable, 0
	}
	digits := digitsRe.FindString(raw)
	if digits == "" {
		return models.NotAvailable, 0
	}
	year, err := strconv.Atoi(digits)
	if err != nil {
		return models.NotAvailable, 0
	}
	return raw, year
}

// ParseDistance coerces a "NN.NNN Km" style field into kilometers.
// Unparseable input yields the "N/A" display sentinel and 0.
func ParseDistance(raw string) (display string, km int) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == models.NotAvailable {
		return models.NotAvailable, 0
	}
	cleaned := strings.NewReplacer("Km", "", "km", "", "KM", "", ".", "", ",", "", " ", "").Replace(raw)
	digits := digitsRe.FindString(cleaned)
	if digits == "" {
		return models.NotAvailable, 0
	}
	km, err := strconv.Atoi(digits)
	if err != nil {
		return models.NotAvailable, 0
	}
	return raw, km
}
