package mempool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apollo-node/sequencer/common"
)

func newTestTx(sender byte, nonce common.Nonce, tip int64) *common.Transaction {
	addr := common.Address{}
	addr[31] = sender
	var hash common.Hash
	hash[31] = sender
	hash[30] = byte(nonce)
	return &common.Transaction{
		Kind:   common.TxInvoke,
		Hash:   hash,
		Sender: addr,
		Nonce:  nonce,
		Tip:    big.NewInt(tip),
		Bounds: common.ResourceBounds{L2Gas: common.ResourceBound{MaxPricePerUnit: big.NewInt(tip)}},
	}
}

func TestAddTxAndGetTxs(t *testing.T) {
	mp := New(DefaultConfig(), nil)
	tx := newTestTx(1, 1, 10)
	require.NoError(t, mp.AddTx(tx, common.AccountState{Address: tx.Sender}, nil))

	got := mp.GetTxs(10)
	require.Len(t, got, 1)
	require.Equal(t, tx.Hash, got[0].Hash)

	// Nonce 2 becomes eligible on the next get_txs call, after nonce 1 was
	// returned, §4.3 chunk-boundary replenishment.
	tx2 := newTestTx(1, 2, 10)
	require.NoError(t, mp.AddTx(tx2, common.AccountState{Address: tx.Sender}, nil))
	got2 := mp.GetTxs(10)
	require.Len(t, got2, 1)
	require.Equal(t, tx2.Hash, got2[0].Hash)
}

func TestDuplicateTransactionRejected(t *testing.T) {
	mp := New(DefaultConfig(), nil)
	tx := newTestTx(1, 1, 10)
	require.NoError(t, mp.AddTx(tx, common.AccountState{}, nil))
	require.ErrorIs(t, mp.AddTx(tx, common.AccountState{}, nil), ErrDuplicateTransaction)
}

func TestNonceTooOldRejected(t *testing.T) {
	mp := New(DefaultConfig(), nil)
	tx := newTestTx(1, 1, 10)
	require.ErrorIs(t, mp.AddTx(tx, common.AccountState{CommittedNonce: 1}, nil), ErrNonceTooOld)
}

func TestFeeEscalationReplacesOnlyAboveThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FeeEscalationPercent = 10
	mp := New(cfg, nil)
	tx1 := newTestTx(1, 1, 100)
	require.NoError(t, mp.AddTx(tx1, common.AccountState{}, nil))

	// Same (sender, nonce) as tx1 but a distinct tx hash each.
	lowBump := newTestTx(1, 1, 105)
	lowBump.Hash[29] = 1
	require.ErrorIs(t, mp.AddTx(lowBump, common.AccountState{}, nil), ErrDuplicateNonce)

	highBump := newTestTx(1, 1, 111)
	highBump.Hash[29] = 2
	require.NoError(t, mp.AddTx(highBump, common.AccountState{}, nil))

	got := mp.GetTxs(10)
	require.Len(t, got, 1)
	require.Equal(t, highBump.Hash, got[0].Hash)
}

func TestGapAccountNotEligibleForGetTxs(t *testing.T) {
	mp := New(DefaultConfig(), nil)
	tx := newTestTx(1, 5, 10) // nonce 5 while the account's committed nonce is 0
	require.NoError(t, mp.AddTx(tx, common.AccountState{}, nil))
	// The next eligible nonce is 1, so nonces 1-4 are missing: a gap.
	got := mp.GetTxs(10)
	require.Len(t, got, 0)
}

func TestCommitBlockDropsCommittedAndRejected(t *testing.T) {
	mp := New(DefaultConfig(), nil)
	tx1 := newTestTx(1, 1, 10)
	tx2 := newTestTx(2, 1, 10)
	require.NoError(t, mp.AddTx(tx1, common.AccountState{}, nil))
	require.NoError(t, mp.AddTx(tx2, common.AccountState{}, nil))

	mp.CommitBlock(map[common.Address]common.Nonce{tx1.Sender: 1}, []common.Hash{tx2.Hash})

	require.False(t, mp.AccountTxInPoolOrRecentBlock(tx2.Sender))
	require.True(t, mp.AccountTxInPoolOrRecentBlock(tx1.Sender))
}

func TestCommittedNonceRetentionExpiresAfterConfiguredBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionLimit = 2
	mp := New(cfg, nil)
	tx1 := newTestTx(1, 1, 10)
	require.NoError(t, mp.AddTx(tx1, common.AccountState{}, nil))

	mp.CommitBlock(map[common.Address]common.Nonce{tx1.Sender: 1}, nil)
	require.True(t, mp.AccountTxInPoolOrRecentBlock(tx1.Sender))

	// Two further block commits that never mention tx1.Sender again must
	// still age its retention counter — §3/§4.3 "pruned after
	// committed_nonce_retention_block_count commits" counts blocks, not
	// just blocks the account happens to reappear in.
	mp.CommitBlock(map[common.Address]common.Nonce{}, nil)
	require.True(t, mp.AccountTxInPoolOrRecentBlock(tx1.Sender), "must still be retained before the limit elapses")

	mp.CommitBlock(map[common.Address]common.Nonce{}, nil)
	require.False(t, mp.AccountTxInPoolOrRecentBlock(tx1.Sender), "must be forgotten once blocks_since_commit reaches the retention limit")
}

func TestUpdateGasPriceFiltersLowPriceTxs(t *testing.T) {
	mp := New(DefaultConfig(), nil)
	tx := newTestTx(1, 1, 10)
	require.NoError(t, mp.AddTx(tx, common.AccountState{}, nil))

	mp.UpdateGasPrice(big.NewInt(20))
	require.Empty(t, mp.GetTxs(10))

	mp.UpdateGasPrice(big.NewInt(5))
	require.Len(t, mp.GetTxs(10), 1)
}
