package core

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// PricePrecision is the number of decimal places kept in unit prices.
const PricePrecision = 30

// DefaultDecimals applies when a token's decimals are unknown.
const DefaultDecimals = 18

// UnknownDecimals marks decimals that could not be read. Zero is a real
// value: the amount is already in whole units.
const UnknownDecimals = -1

// Units converts a raw integer amount to whole units.
func Units(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	if decimals < 0 {
		decimals = DefaultDecimals
	}
	return decimal.NewFromBigInt(raw, int32(-decimals))
}

// UnitPrice is quote per token in whole units. Zero when either side is zero.
func UnitPrice(quote *big.Int, quoteDecimals int, token *big.Int, tokenDecimals int) decimal.Decimal {
	q := Units(quote, quoteDecimals)
	t := Units(token, tokenDecimals)
	if !q.IsPositive() || !t.IsPositive() {
		return decimal.Zero
	}
	return q.DivRound(t, PricePrecision)
}
