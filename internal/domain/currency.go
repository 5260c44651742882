package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrencyPrecision is used for any currency without an explicit entry
const DefaultCurrencyPrecision int32 = 2

var currencyPrecision = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"ISK": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"JOD": 3,
	"TND": 3,
}

// NormalizeCurrency upper-cases and trims an ISO 4217 code
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CurrencyPrecision returns the number of minor-unit digits for a currency
func CurrencyPrecision(code string) int32 {
	if p, ok := currencyPrecision[NormalizeCurrency(code)]; ok {
		return p
	}
	return DefaultCurrencyPrecision
}

// RoundToCurrency rounds half away from zero to the currency precision
func RoundToCurrency(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(CurrencyPrecision(code))
}

// maxAmount is the first value that no longer fits NUMERIC(20,4)
var maxAmount = decimal.New(1, 16)

// IsCurrencyCode reports whether code is a three-letter ISO 4217 style code
func IsCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// FitsCurrency reports whether amount is expressible in the currency's minor
// units and within the storable range
func FitsCurrency(amount decimal.Decimal, code string) bool {
	if !amount.Equal(amount.Round(CurrencyPrecision(code))) {
		return false
	}
	return amount.Abs().LessThan(maxAmount)
}

// ValidateAmount adds field errors for an amount that is not positive or does
// not fit the currency
func ValidateAmount(verr *ValidationError, field string, amount decimal.Decimal, currency string) {
	switch {
	case !amount.IsPositive():
		verr.Add(field, "Amount must be greater than zero")
	case IsCurrencyCode(currency) && !FitsCurrency(amount, currency):
		verr.Add(field, fmt.Sprintf("Amount must have at most %d decimal places and fewer than 17 integer digits", CurrencyPrecision(currency)))
	}
}
