package launchpad

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/rpc"
)

func TestClassify(t *testing.T) {
	m := manifest(t)
	sel := SelectorsFrom(m)

	call := func(s [4]byte) []byte { return append(s[:], make([]byte, 32)...) }
	paid := big.NewInt(1e17)
	free := big.NewInt(0)

	tests := []struct {
		name     string
		transfer TransferLog
		tx       rpc.Transaction
		want     Kind
	}{
		{
			name:     "buy and lock selector wins over plain mint",
			transfer: TransferLog{From: zero, To: alice, Amount: tokens(1)},
			tx:       rpc.Transaction{From: alice, Value: paid, Input: call(sel.BuyAndLock)},
			want:     KindBuyLock,
		},
		{
			name:     "claim selector wins over burn",
			transfer: TransferLog{From: alice, To: zero, Amount: tokens(1)},
			tx:       rpc.Transaction{From: alice, Value: free, Input: call(sel.Claim)},
			want:     KindClaim,
		},
		{
			name:     "unlock selector on a wallet transfer",
			transfer: TransferLog{From: tokenAddr, To: alice, Amount: tokens(1)},
			tx:       rpc.Transaction{From: alice, Value: free, Input: call(sel.Unlock)},
			want:     KindUnlock,
		},
		{
			name:     "creator mint with value is buy and lock",
			transfer: TransferLog{From: zero, To: creator, Amount: tokens(1)},
			tx:       rpc.Transaction{From: creator, Value: paid},
			want:     KindBuyLock,
		},
		{
			name:     "mint with value is buy",
			transfer: TransferLog{From: zero, To: alice, Amount: tokens(1)},
			tx:       rpc.Transaction{From: alice, Value: paid},
			want:     KindBuy,
		},
		{
			name:     "free mint to contract is a graduation candidate",
			transfer: TransferLog{From: zero, To: tokenAddr, Amount: tokens(1)},
			tx:       rpc.Transaction{From: alice, Value: free},
			want:     KindGraduationCandidate,
		},
		{
			name:     "free mint to a wallet is noise",
			transfer: TransferLog{From: zero, To: alice, Amount: tokens(1)},
			tx:       rpc.Transaction{From: alice, Value: free},
			want:     KindTransfer,
		},
		{
			name:     "burn is sell",
			transfer: TransferLog{From: alice, To: zero, Amount: tokens(1)},
			tx:       rpc.Transaction{From: alice, Value: free},
			want:     KindSell,
		},
		{
			name:     "wallet to wallet is noise",
			transfer: TransferLog{From: alice, To: bob, Amount: tokens(1)},
			tx:       rpc.Transaction{From: alice, Value: free, Input: []byte{0xa9, 0x05, 0x9c, 0xbb}},
			want:     KindTransfer,
		},
		{
			name:     "nil value counts as unpaid",
			transfer: TransferLog{From: alice, To: zero, Amount: tokens(1)},
			tx:       rpc.Transaction{From: alice},
			want:     KindSell,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := tt.tx
			got := Classify(tt.transfer, &tx, tokenAddr, creator, sel)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestClassify_UnknownCreatorDisablesBuyLockRule(t *testing.T) {
	sel := SelectorsFrom(manifest(t))
	tx := &rpc.Transaction{From: zero, Value: big.NewInt(1)}
	got := Classify(TransferLog{From: zero, To: alice, Amount: big.NewInt(1)}, tx, tokenAddr, common.Address{}, sel)
	assert.Equal(t, KindBuy, got)
}

func TestKindSide(t *testing.T) {
	side, ok := KindBuyLock.Side()
	assert.True(t, ok)
	assert.Equal(t, database.SideBuyLock, side)

	_, ok = KindTransfer.Side()
	assert.False(t, ok)
	_, ok = KindGraduationCandidate.Side()
	assert.False(t, ok)

	assert.Equal(t, "BUY&LOCK", KindBuyLock.String())
}
