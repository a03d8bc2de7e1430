package stats

import (
	"github.com/shopspring/decimal"

	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/ledger"
	"github.com/curvestream/indexer/internal/modules/core"
)

// Supply is derived from the balance table in whole token units.
type Supply struct {
	Total       decimal.Decimal
	Circulating decimal.Decimal
}

// SupplyFrom sums positive balances. Circulating leaves out the excluded
// holders (the token contract and its pool).
func SupplyFrom(balances []*database.Balance, decimals int, ex ledger.Excluded) Supply {
	total, circ := decimal.Zero, decimal.Zero
	for _, b := range balances {
		if b.Balance.Sign() <= 0 {
			continue
		}
		amt := core.Units(b.Balance, decimals)
		total = total.Add(amt)
		if !ex.Has(b.Holder) {
			circ = circ.Add(amt)
		}
	}
	return Supply{Total: total, Circulating: circ}
}
