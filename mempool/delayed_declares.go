package mempool

import (
	"time"

	"github.com/apollo-node/sequencer/common"
)

// delayedDeclares holds Declare transactions not yet visible in the main
// pool, §4.3 "Delayed declares": visible only after declare_delay has
// elapsed since submission. Grounded on the submission-timestamp gating
// described in original_source/crates/apollo_mempool (the distilled spec
// names declare_delay but leaves the queue shape implicit).
type delayedDeclares struct {
	delay time.Duration
	// byAddrNonce indexes every still-delayed declare for duplicate-nonce
	// detection — §4.3 "Duplicate-nonce against a delayed declare is
	// still a conflict."
	byAddrNonce map[accountNonce]*poolEntry
	order       []*poolEntry // submission order, oldest first
}

type accountNonce struct {
	addr  common.Address
	nonce common.Nonce
}

func newDelayedDeclares(delay time.Duration) *delayedDeclares {
	return &delayedDeclares{delay: delay, byAddrNonce: make(map[accountNonce]*poolEntry)}
}

func (d *delayedDeclares) has(addr common.Address, n common.Nonce) bool {
	_, ok := d.byAddrNonce[accountNonce{addr, n}]
	return ok
}

func (d *delayedDeclares) add(e *poolEntry) {
	k := accountNonce{e.tx.Sender, e.tx.Nonce}
	d.byAddrNonce[k] = e
	d.order = append(d.order, e)
}

// matured removes and returns every declare whose delay has elapsed as of
// now, in submission order, for promotion into the visible pool.
func (d *delayedDeclares) matured(now time.Time) []*poolEntry {
	var ready []*poolEntry
	var remaining []*poolEntry
	for _, e := range d.order {
		if now.Sub(e.queuedAt) >= d.delay {
			ready = append(ready, e)
			delete(d.byAddrNonce, accountNonce{e.tx.Sender, e.tx.Nonce})
		} else {
			remaining = append(remaining, e)
		}
	}
	d.order = remaining
	return ready
}

func (d *delayedDeclares) totalBytes() int {
	n := 0
	for _, e := range d.order {
		n += e.tx.TotalBytes()
	}
	return n
}
