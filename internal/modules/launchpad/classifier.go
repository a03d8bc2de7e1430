package launchpad

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/modules/core"
	"github.com/curvestream/indexer/internal/rpc"
)

// Kind is the semantic meaning of one Transfer log.
type Kind int

const (
	KindTransfer Kind = iota
	KindBuy
	KindSell
	KindBuyLock
	KindClaim
	KindUnlock
	KindGraduationCandidate
)

var kindNames = map[Kind]string{
	KindTransfer:            "TRANSFER",
	KindBuy:                 "BUY",
	KindSell:                "SELL",
	KindBuyLock:             "BUY&LOCK",
	KindClaim:               "CLAIM",
	KindUnlock:              "UNLOCK",
	KindGraduationCandidate: "GRADUATION_CANDIDATE",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Side maps a recordable kind to its ledger side. ok is false for kinds that
// are never written directly.
func (k Kind) Side() (database.Side, bool) {
	switch k {
	case KindBuy:
		return database.SideBuy, true
	case KindSell:
		return database.SideSell, true
	case KindBuyLock:
		return database.SideBuyLock, true
	case KindClaim:
		return database.SideClaim, true
	case KindUnlock:
		return database.SideUnlock, true
	}
	return "", false
}

// TransferLog is a decoded ERC20 Transfer.
type TransferLog struct {
	Log    *types.Log
	From   common.Address
	To     common.Address
	Amount *big.Int
}

func (t TransferLog) IsMint() bool { return t.From == (common.Address{}) }
func (t TransferLog) IsBurn() bool { return t.To == (common.Address{}) }

// Selectors are the calldata selectors that classify a transaction outright.
type Selectors struct {
	BuyAndLock core.Selector
	Claim      core.Selector
	Unlock     core.Selector
}

// SelectorsFrom picks the classifier selectors out of a resolved manifest.
func SelectorsFrom(r *core.Resolved) Selectors {
	return Selectors{BuyAndLock: r.BuyAndLock, Claim: r.Claim, Unlock: r.Unlock}
}

// Classify maps a transfer and the transaction that emitted it to a Kind.
// It performs no I/O.
func Classify(t TransferLog, tx *rpc.Transaction, contract, creator common.Address, sel Selectors) Kind {
	if s := tx.Selector(); s != nil {
		switch {
		case bytes.Equal(s, sel.BuyAndLock[:]):
			return KindBuyLock
		case bytes.Equal(s, sel.Claim[:]):
			return KindClaim
		case bytes.Equal(s, sel.Unlock[:]):
			return KindUnlock
		}
	}

	paid := tx.Value != nil && tx.Value.Sign() > 0

	switch {
	case t.IsMint() && paid && creator != (common.Address{}) && tx.From == creator:
		return KindBuyLock
	case t.IsMint() && paid:
		return KindBuy
	case t.IsMint() && t.To == contract:
		return KindGraduationCandidate
	case t.IsBurn():
		return KindSell
	}
	return KindTransfer
}
