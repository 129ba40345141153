package mempool

import "github.com/apollo-node/sequencer/common"

// P2PMessageMetadata identifies the peer a transaction was received from,
// §4.3 "if the tx was received directly (no p2p_message_metadata)". A nil
// metadata means the transaction originated locally.
type P2PMessageMetadata struct {
	SourcePeer string
}

// Propagator is the P2P broadcast client the mempool hands newly admitted
// transactions to. Wire transport itself belongs to propeller/, which is
// why this is just an interface here — the mempool never depends on the
// transport.
type Propagator interface {
	// Broadcast announces a locally originated transaction to the network.
	Broadcast(tx *common.Transaction)
	// Continue re-propagates a transaction the node itself received from a
	// peer, rather than announcing it as freshly originated.
	Continue(tx *common.Transaction, meta P2PMessageMetadata)
}

// NoopPropagator discards every call; the default when no P2P layer is
// wired (e.g. in tests), grounded on bridge_tx_pool.go's tolerance of a
// nil journal — a missing optional collaborator never fails add_tx.
type NoopPropagator struct{}

func (NoopPropagator) Broadcast(*common.Transaction)                    {}
func (NoopPropagator) Continue(*common.Transaction, P2PMessageMetadata) {}
