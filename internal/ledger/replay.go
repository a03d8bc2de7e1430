// Package ledger rebuilds holder balances from the transfer ledger.
package ledger

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/curvestream/indexer/internal/database"
)

// Replay folds movements into per-holder balances. The zero address is never
// credited or debited. Holders whose balance nets to zero are dropped; the
// result is ordered by holder address.
func Replay(tokenID int64, movements []database.Movement) []*database.Balance {
	sums := make(map[common.Address]*big.Int)
	add := func(holder common.Address, delta *big.Int, neg bool) {
		if holder == (common.Address{}) {
			return
		}
		b, ok := sums[holder]
		if !ok {
			b = new(big.Int)
			sums[holder] = b
		}
		if neg {
			b.Sub(b, delta)
		} else {
			b.Add(b, delta)
		}
	}

	for _, m := range movements {
		if m.Amount == nil || m.Amount.Sign() == 0 {
			continue
		}
		add(m.From, m.Amount, true)
		add(m.To, m.Amount, false)
	}

	out := make([]*database.Balance, 0, len(sums))
	for holder, b := range sums {
		if b.Sign() == 0 {
			continue
		}
		out = append(out, &database.Balance{TokenID: tokenID, Holder: holder, Balance: b})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Holder[:], out[j].Holder[:]) < 0
	})
	return out
}

// Excluded is the set of addresses that never count as holders: the zero
// address, the token contract and its AMM pools.
type Excluded map[common.Address]struct{}

func NewExcluded(addrs ...common.Address) Excluded {
	ex := Excluded{common.Address{}: {}}
	for _, a := range addrs {
		ex[a] = struct{}{}
	}
	return ex
}

func (e Excluded) Has(a common.Address) bool {
	_, ok := e[a]
	return ok
}

// HolderCount counts positive balances outside the excluded set.
func HolderCount(balances []*database.Balance, ex Excluded) int {
	n := 0
	for _, b := range balances {
		if b.Balance.Sign() > 0 && !ex.Has(b.Holder) {
			n++
		}
	}
	return n
}
