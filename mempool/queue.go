package mempool

import (
	"math/big"
	"sort"

	"github.com/apollo-node/sequencer/common"
)

// candidateLess implements the §4.3 "Priority order": primary higher tip,
// tie-break higher tx_hash. Both comparisons are descending, so this
// reports whether a sorts before b (a is higher priority).
func candidateLess(a, b *poolEntry) bool {
	at, bt := a.tx.Tip, b.tx.Tip
	if at == nil {
		at = big.NewInt(0)
	}
	if bt == nil {
		bt = big.NewInt(0)
	}
	if c := at.Cmp(bt); c != 0 {
		return c > 0
	}
	return a.tx.Hash.Cmp(b.tx.Hash) > 0
}

// gatherCandidates collects, in priority order, one eligible transaction
// per priority-threshold-satisfying account, honoring the chunk-boundary
// replenishment generation gate. Rebuilt on demand every call, grounded on
// bridge_tx_pool.go's Pending()/Content() which likewise reconstruct their
// view by scanning pool.queue on every call rather than maintaining an
// incremental index.
//
// Priority-vs-pending membership (§4.3 update_gas_price) is realized as a
// live threshold comparison here rather than a persistent second queue: a
// transaction below gasPriceThreshold is simply filtered out of every
// get_txs call until the threshold drops or the tx is replaced, which is
// externally indistinguishable from moving it to a separate pending queue.
func gatherCandidates(accounts map[common.Address]*accountQueue, gen int, gasPriceThreshold *big.Int) []*poolEntry {
	cands := make([]*poolEntry, 0, len(accounts))
	for _, aq := range accounts {
		e, ok := aq.candidate(gen)
		if !ok {
			continue
		}
		if gasPriceThreshold != nil && !meetsThreshold(e.tx, gasPriceThreshold) {
			continue
		}
		cands = append(cands, e)
	}
	sort.Slice(cands, func(i, j int) bool { return candidateLess(cands[i], cands[j]) })
	return cands
}

func meetsThreshold(tx *common.Transaction, threshold *big.Int) bool {
	if tx.Bounds.IsLegacy() {
		return true
	}
	return tx.Bounds.MaxL2GasPrice().Cmp(threshold) >= 0
}
