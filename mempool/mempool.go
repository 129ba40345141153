package mempool

import (
	"math/big"
	"sync"
	"time"

	"github.com/apollo-node/sequencer/common"
	"github.com/apollo-node/sequencer/log"
)

// Mempool is the exported façade over pool: a single sync.Mutex guards all
// state, §5 "no per-field locks", grounded on bridge_tx_pool.go's single
// pool.mu covering both queue and all.
type Mempool struct {
	mu         sync.Mutex
	pool       *pool
	propagator Propagator
	lg         log.Logger
}

func New(cfg Config, propagator Propagator) *Mempool {
	if propagator == nil {
		propagator = NoopPropagator{}
	}
	return &Mempool{
		pool:       newPool(cfg),
		propagator: propagator,
		lg:         log.NewModuleLogger(log.Mempool),
	}
}

// AddTx implements §4.3 add_tx: inserts tx, applying fee escalation,
// duplicate/stale-nonce rejection, TTL sweep, and gap-only eviction before
// the tx is admitted. Eviction is not rolled back: when the space freed by
// evicting gapped accounts is still not enough, AddTx returns
// ErrMempoolFull and the evicted accounts stay evicted.
func (m *Mempool) AddTx(tx *common.Transaction, account common.AccountState, meta *P2PMessageMetadata) error {
	m.mu.Lock()
	now := time.Now()
	m.pool.purgeExpired(now)

	if _, exists := m.pool.all[tx.Hash]; exists {
		m.mu.Unlock()
		refusedTxMeter.Mark(1)
		return ErrDuplicateTransaction
	}

	if tx.Nonce <= account.CommittedNonce {
		m.mu.Unlock()
		refusedTxMeter.Mark(1)
		return ErrNonceTooOld
	}

	// A duplicate-nonce conflict against a still-delayed declare is always
	// a conflict, §4.3 — fee escalation does not apply across the
	// delayed/visible boundary.
	if m.pool.delayed.has(tx.Sender, tx.Nonce) {
		m.mu.Unlock()
		refusedTxMeter.Mark(1)
		return ErrDuplicateNonce
	}

	aq := m.pool.accountQueueFor(tx.Sender)
	// Until the pool has seen a commit for this account, the caller's
	// committed nonce anchors gap detection.
	if !aq.hasCommitted && !aq.baselineSet {
		aq.baselineSet = true
		aq.baselineNonce = account.CommittedNonce + 1
	}
	if existing, exists := aq.get(tx.Nonce); exists {
		replaced, err := m.tryFeeEscalate(existing, tx)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if !replaced {
			m.mu.Unlock()
			refusedTxMeter.Mark(1)
			return ErrDuplicateNonce
		}
		// Replaced in place: the existing entry keeps its queue position
		// and staged flag, so no new entry is admitted.
		m.mu.Unlock()
		if meta == nil {
			m.propagator.Broadcast(tx)
		} else {
			m.propagator.Continue(tx, *meta)
		}
		return nil
	}

	size := uint64(tx.TotalBytes())
	needed := m.pool.totalBytes + size
	if m.pool.cfg.CapacityInBytes > 0 && needed > m.pool.cfg.CapacityInBytes {
		shortfall := needed - m.pool.cfg.CapacityInBytes
		m.pool.evictGapped(shortfall)
		if m.pool.totalBytes+size > m.pool.cfg.CapacityInBytes {
			m.mu.Unlock()
			refusedTxMeter.Mark(1)
			return ErrMempoolFull
		}
	}

	entry := &poolEntry{tx: tx, queuedAt: now}
	if tx.Kind == common.TxDeclare {
		m.pool.delayed.add(entry)
	} else {
		m.admit(aq, entry)
	}
	m.mu.Unlock()

	if meta == nil {
		m.propagator.Broadcast(tx)
	} else {
		m.propagator.Continue(tx, *meta)
	}
	return nil
}

// admit inserts entry into its account queue, the content-addressed index
// and the byte accounting, and updates gap tracking.
func (m *Mempool) admit(aq *accountQueue, entry *poolEntry) {
	aq.insert(entry)
	m.pool.all[entry.tx.Hash] = entry
	m.pool.totalBytes += uint64(entry.tx.TotalBytes())
	m.pool.markGapIfNeeded(aq)
}

// tryFeeEscalate implements §4.3 "Fee escalation". Returns (true, nil) if
// the replacement happened in-place (old entry object is mutated so its
// queue position/staged flag survive), or (false, nil) if the new tx
// didn't clear the threshold (caller should reject as ErrDuplicateNonce).
func (m *Mempool) tryFeeEscalate(old *poolEntry, newTx *common.Transaction) (bool, error) {
	if !m.pool.cfg.EnableFeeEscalation {
		return false, nil
	}
	p := m.pool.cfg.FeeEscalationPercent
	oldTip := old.tx.Tip
	if oldTip == nil {
		oldTip = big.NewInt(0)
	}
	newTip := newTx.Tip
	if newTip == nil {
		newTip = big.NewInt(0)
	}
	tipThreshold := escalationThreshold(oldTip, p)
	priceThreshold := escalationThreshold(old.tx.Bounds.MaxL2GasPrice(), p)
	if newTip.Cmp(tipThreshold) < 0 || newTx.Bounds.MaxL2GasPrice().Cmp(priceThreshold) < 0 {
		return false, nil
	}
	m.pool.totalBytes = common.SaturatingSubUint64(m.pool.totalBytes, uint64(old.tx.TotalBytes()))
	delete(m.pool.all, old.tx.Hash)
	old.tx = newTx
	// old.staged and old.availableFromGen carry over unchanged, §4.3 "the
	// new tx inherits the old tx's queue membership".
	m.pool.all[newTx.Hash] = old
	m.pool.totalBytes += uint64(newTx.TotalBytes())
	return true, nil
}

// escalationThreshold computes amount * (100+p) / 100 with big.Int exact
// arithmetic — big.Int is arbitrary-precision and cannot overflow, so the
// "saturating arithmetic (overflow -> reject)" rule of §4.3 is satisfied
// trivially for price/tip fields; the uint64 saturating helpers in
// common/saturating.go instead guard capacity_in_bytes accounting, which
// is a genuine fixed-width counter.
func escalationThreshold(amount *big.Int, p uint64) *big.Int {
	num := new(big.Int).Mul(amount, big.NewInt(int64(100+p)))
	return num.Div(num, big.NewInt(100))
}

// GetTxs implements §4.3 get_txs(n): returns up to n eligible transactions
// in priority order, staging them (kept in pool, removed from
// consideration until the next call's replenishment).
func (m *Mempool) GetTxs(n int) []*common.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.pool.purgeExpired(now)
	for _, e := range m.pool.delayed.matured(now) {
		aq := m.pool.accountQueueFor(e.tx.Sender)
		m.admit(aq, e)
	}

	gen := m.pool.gen
	m.pool.gen++

	cands := gatherCandidates(m.pool.accounts, gen, m.pool.gasPriceThreshold)
	if n < len(cands) {
		cands = cands[:n]
	}

	out := make([]*common.Transaction, 0, len(cands))
	for _, e := range cands {
		e.staged = true
		e.availableFromGen = gen + 1
		out = append(out, e.tx)
	}
	return out
}

// CommitBlock implements §4.3 commit_block: advances retained nonces,
// drops committed and rejected transactions, and evicts entries whose
// retention counter expires.
func (m *Mempool) CommitBlock(committedNonces map[common.Address]common.Nonce, rejectedHashes []common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range rejectedHashes {
		e, ok := m.pool.all[h]
		if !ok {
			continue
		}
		aq, ok := m.pool.accounts[e.tx.Sender]
		if !ok {
			continue
		}
		m.pool.totalBytes = common.SaturatingSubUint64(m.pool.totalBytes, uint64(e.tx.TotalBytes()))
		delete(m.pool.all, h)
		aq.remove(e.tx.Nonce)
	}

	for addr, committed := range committedNonces {
		aq, ok := m.pool.accounts[addr]
		if !ok {
			aq = m.pool.accountQueueFor(addr)
		}
		freed := aq.commit(committed)
		m.pool.totalBytes = common.SaturatingSubUint64(m.pool.totalBytes, uint64(freed))
		// This account was just committed, so its retention clock restarts
		// at zero, §3 "committed_nonces: ... blocks_since_commit".
		aq.retentionCounter = 0
		if aq.len() == 0 {
			m.pool.unmarkGap(addr)
		} else if aq.hasGap() {
			m.pool.markGapIfNeeded(aq)
		} else {
			m.pool.unmarkGap(addr)
		}
	}

	// Every other retained account ages by one block regardless of whether
	// it submitted a transaction this round — §3/§4.3 "pruned after
	// committed_nonce_retention_block_count commits" counts blocks, not
	// just blocks the account happens to appear in.
	for addr, aq := range m.pool.accounts {
		if !aq.hasCommitted {
			continue
		}
		if _, justCommitted := committedNonces[addr]; justCommitted {
			continue
		}
		aq.retentionCounter++
		if aq.retentionCounter >= m.pool.cfg.RetentionLimit {
			delete(m.pool.accounts, addr)
			m.pool.unmarkGap(addr)
		}
	}
}

// UpdateGasPrice implements §4.3 update_gas_price(p).
func (m *Mempool) UpdateGasPrice(p *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool.gasPriceThreshold = p
}

// AccountTxInPoolOrRecentBlock implements §4.3
// account_tx_in_pool_or_recent_block(address).
func (m *Mempool) AccountTxInPoolOrRecentBlock(addr common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	aq, ok := m.pool.accounts[addr]
	if ok && (aq.len() > 0 || aq.hasCommitted) {
		return true
	}
	return false
}
