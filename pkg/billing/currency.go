package billing

import (
	"fmt"

	"panelworks/api_tokens/pkg/config"
)

const (
	defaultCurrencyEnv      = "BILLING_CURRENCY"
	defaultCurrencyFallback = "IDR"
)

// DefaultCurrency returns the billing ledger currency used when no currency is specified.
func DefaultCurrency() string {
	return config.GetEnv(defaultCurrencyEnv, defaultCurrencyFallback)
}

// FormatGrossAmount renders a whole-unit amount the way the payment gateway
// reports gross_amount, with two decimal places ("100000.00").
func FormatGrossAmount(amount int64) string {
	return fmt.Sprintf("%d.00", amount)
}
