package payment

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a human amount such as "1" or "0.5" into the token's
// smallest unit. Amounts with more fractional digits than the token supports
// are rejected rather than rounded.
func ToBaseUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > 77 {
		return nil, fmt.Errorf("payment.decimals: %d out of range", decimals)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("payment.amount: %w", err)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("payment.amount: %s has more than %d decimal places", amount, decimals)
	}
	if scaled.Sign() <= 0 {
		return nil, fmt.Errorf("payment.amount: %s must be positive", amount)
	}
	return scaled.BigInt(), nil
}
