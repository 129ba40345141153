package mempool

import (
	"sort"
	"time"

	"github.com/apollo-node/sequencer/common"
)

// poolEntry is one pooled transaction plus the bookkeeping the pool needs
// that isn't part of the transaction itself.
type poolEntry struct {
	tx       *common.Transaction
	queuedAt time.Time
	staged   bool
	// availableFromGen gates the chunk-boundary replenishment rule of
	// §4.3: once staged, the next nonce for this account isn't offered as
	// a get_txs candidate until a later call.
	availableFromGen int
}

// accountQueue is the nonce-ordered set of pooled transactions for one
// account, grounded on bridge_tx_pool.go's bridgeTxSortedMap — generalized
// from a flat FIFO to nonce-gap tracking, staged bookkeeping, and a
// commit-retention counter.
type accountQueue struct {
	address common.Address
	nonces  []common.Nonce // kept sorted ascending
	byNonce map[common.Nonce]*poolEntry

	hasCommitted     bool
	committedNonce   common.Nonce
	baselineSet      bool
	baselineNonce    common.Nonce
	retentionCounter int
}

func newAccountQueue(addr common.Address) *accountQueue {
	return &accountQueue{address: addr, byNonce: make(map[common.Nonce]*poolEntry)}
}

func (q *accountQueue) len() int { return len(q.nonces) }

func (q *accountQueue) get(n common.Nonce) (*poolEntry, bool) {
	e, ok := q.byNonce[n]
	return e, ok
}

func (q *accountQueue) insert(e *poolEntry) {
	n := e.tx.Nonce
	if _, exists := q.byNonce[n]; !exists {
		i := sort.Search(len(q.nonces), func(i int) bool { return q.nonces[i] >= n })
		q.nonces = append(q.nonces, 0)
		copy(q.nonces[i+1:], q.nonces[i:])
		q.nonces[i] = n
	}
	q.byNonce[n] = e
	if !q.hasCommitted && !q.baselineSet {
		q.baselineSet = true
		q.baselineNonce = n
	}
}

func (q *accountQueue) remove(n common.Nonce) {
	if _, ok := q.byNonce[n]; !ok {
		return
	}
	delete(q.byNonce, n)
	i := sort.Search(len(q.nonces), func(i int) bool { return q.nonces[i] >= n })
	if i < len(q.nonces) && q.nonces[i] == n {
		q.nonces = append(q.nonces[:i], q.nonces[i+1:]...)
	}
}

// expectedNonce is the account's "current (committed or implied) nonce",
// §4.3 "Nonce gaps": the next nonce strictly above this one is eligible.
func (q *accountQueue) expectedNonce() common.Nonce {
	if q.hasCommitted {
		return q.committedNonce
	}
	if q.baselineSet {
		return q.baselineNonce - 1
	}
	return 0
}

// hasGap reports whether the lowest pooled nonce sits strictly above the
// account's next eligible nonce, expectedNonce()+1.
func (q *accountQueue) hasGap() bool {
	if len(q.nonces) == 0 {
		return false
	}
	return q.nonces[0] > q.expectedNonce()+1
}

// candidate returns the next not-yet-offered pooled transaction for this
// account, honoring the chunk-boundary replenishment gate, or false if the
// account has no eligible transaction in gen.
func (q *accountQueue) candidate(gen int) (*poolEntry, bool) {
	if q.hasGap() {
		return nil, false
	}
	for _, n := range q.nonces {
		e := q.byNonce[n]
		if e.staged {
			continue
		}
		if e.availableFromGen > gen {
			return nil, false
		}
		return e, true
	}
	return nil, false
}

// commit advances the account's committed nonce and drops every entry at
// or below it, §4.3 commit_block. Returns the freed byte total.
func (q *accountQueue) commit(committed common.Nonce) int {
	freed := 0
	q.hasCommitted = true
	q.committedNonce = committed
	for _, n := range append([]common.Nonce{}, q.nonces...) {
		if n <= committed {
			freed += q.byNonce[n].tx.TotalBytes()
			q.remove(n)
		}
	}
	return freed
}
