package mempool

import (
	"math/big"
	"time"

	"github.com/apollo-node/sequencer/common"
	"github.com/apollo-node/sequencer/log"
	"github.com/apollo-node/sequencer/metrics"
)

var refusedTxMeter = metrics.NewRegisteredMeter("mempool/refused")
var evictedTxMeter = metrics.NewRegisteredMeter("mempool/evicted")

// pool is the unexported engine backing Mempool; content-addressed map +
// per-account nonce-ordered sets, grounded on bridge_tx_pool.go's
// `queue map[common.Address]*bridgeTxSortedMap` / `all map[common.Hash]*types.Transaction`
// shape, generalized with nonce-gap tracking, fee escalation, TTL and
// delayed declares.
type pool struct {
	cfg Config

	all      map[common.Hash]*poolEntry
	accounts map[common.Address]*accountQueue
	delayed  *delayedDeclares

	// accountsWithGap is a FIFO set: append on becoming gapped, drop from
	// the front on eviction, §4.3 "Eviction proceeds account by account
	// (FIFO over accounts_with_gap)".
	accountsWithGap []common.Address
	gapIndex        map[common.Address]int // index into accountsWithGap; unmarkGap deletes the key and zeroes the slot

	totalBytes        uint64
	gasPriceThreshold *big.Int
	gen               int // incremented once per get_txs call

	lg log.Logger
}

func newPool(cfg Config) *pool {
	return &pool{
		cfg:      cfg,
		all:      make(map[common.Hash]*poolEntry),
		accounts: make(map[common.Address]*accountQueue),
		delayed:  newDelayedDeclares(cfg.DeclareDelay),
		gapIndex: make(map[common.Address]int),
		lg:       log.NewModuleLogger(log.Mempool),
	}
}

func (p *pool) accountQueueFor(addr common.Address) *accountQueue {
	aq, ok := p.accounts[addr]
	if !ok {
		aq = newAccountQueue(addr)
		p.accounts[addr] = aq
	}
	return aq
}

func (p *pool) markGapIfNeeded(aq *accountQueue) {
	if !aq.hasGap() {
		return
	}
	if _, already := p.gapIndex[aq.address]; already {
		return
	}
	p.gapIndex[aq.address] = len(p.accountsWithGap)
	p.accountsWithGap = append(p.accountsWithGap, aq.address)
}

func (p *pool) unmarkGap(addr common.Address) {
	idx, ok := p.gapIndex[addr]
	if !ok {
		return
	}
	delete(p.gapIndex, addr)
	p.accountsWithGap[idx] = common.Address{} // tombstoned, skipped on eviction scan
}

// purgeExpired removes non-staged, non-delayed entries older than
// transaction_ttl, §4.3 "Transaction TTL". Staged entries are immune.
func (p *pool) purgeExpired(now time.Time) {
	if p.cfg.TransactionTTL <= 0 {
		return
	}
	for addr, aq := range p.accounts {
		for _, n := range append([]common.Nonce{}, aq.nonces...) {
			e := aq.byNonce[n]
			if e.staged {
				continue
			}
			if now.Sub(e.queuedAt) >= p.cfg.TransactionTTL {
				p.totalBytes = common.SaturatingSubUint64(p.totalBytes, uint64(e.tx.TotalBytes()))
				delete(p.all, e.tx.Hash)
				aq.remove(n)
			}
		}
		if aq.len() == 0 {
			delete(p.accounts, addr)
			p.unmarkGap(addr)
		}
	}
}

// evictGapped drops accounts FIFO from accountsWithGap until at least
// needed bytes have been freed or the set is exhausted, §4.3 "Nonce gaps".
func (p *pool) evictGapped(needed uint64) uint64 {
	var freed uint64
	i := 0
	for freed < needed && i < len(p.accountsWithGap) {
		addr := p.accountsWithGap[i]
		i++
		if addr == (common.Address{}) {
			continue
		}
		aq, ok := p.accounts[addr]
		if !ok {
			continue
		}
		for _, n := range aq.nonces {
			e := aq.byNonce[n]
			freed += uint64(e.tx.TotalBytes())
			delete(p.all, e.tx.Hash)
			evictedTxMeter.Mark(1)
		}
		delete(p.accounts, addr)
		delete(p.gapIndex, addr)
	}
	p.accountsWithGap = p.accountsWithGap[i:]
	for addr := range p.gapIndex {
		p.gapIndex[addr] -= i
	}
	p.totalBytes = common.SaturatingSubUint64(p.totalBytes, freed)
	return freed
}
