package market

import (
	"fmt"
)

// QuoteToAccountRate returns the multiplier that turns quote-currency amounts
// into account currency. mid is the instrument mid price, only needed when
// the account currency is the base currency (USD_JPY in a USD account).
func QuoteToAccountRate(meta InstrumentMeta, accountCurrency string, mid float64) (float64, error) {
	// Case 1: quote currency == account currency (XAU_USD, EUR_USD, etc.)
	if meta.QuoteCurrency == accountCurrency {
		return 1.0, nil
	}

	// Case 2: account currency is base (USD_JPY, USD_CHF, etc.)
	if meta.BaseCurrency == accountCurrency {
		if mid <= 0 {
			return 0, fmt.Errorf("no price to convert %s to %s", meta.QuoteCurrency, accountCurrency)
		}
		return 1.0 / mid, nil
	}

	return 0, fmt.Errorf(
		"cross conversion not implemented for %s → %s",
		meta.QuoteCurrency,
		accountCurrency,
	)
}
