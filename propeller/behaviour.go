// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package propeller

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/apollo-node/sequencer/log"
)

// Transport is the seam a concrete libp2p stream-muxed connection would
// implement; wire encoding of the actual bytes-on-the-socket is a spec
// Non-goal (§1 "RPC/feeder responses, L1 interactions, gRPC/JSON
// endpoints" — Propeller's own framing is explicitly in-scope, but the
// socket/stream plumbing itself sits below this interface).
type Transport interface {
	Send(to peer.ID, u PropellerUnit) error
}

// BroadcastResult is the "future completing with the MessageRoot" of
// §4.4, realized as a channel since that's the idiomatic Go analog of a
// oneshot future.
type BroadcastResult struct {
	Root MessageRoot
	Err  error
}

// Behaviour is the libp2p network-behaviour-shaped top-level type of
// §3/§4.4: it owns the channel registry, the peer public-key table, and
// the live per-message processors, and never blocks in its public
// methods — dispatch onto goroutines and the CPU pool instead. Grounded
// on networks/p2p/discover/table.go's Table (peer bookkeeping struct with
// explicit add/remove methods and its own background goroutines) and
// enriched with AKJUS-bsc-erigon's libp2p stack for peer identity.
type Behaviour struct {
	selfID  peer.ID
	privKey crypto.PrivKey

	reg *registry

	mu     sync.RWMutex
	pubKeys map[peer.ID]crypto.PubKey

	procMu     sync.Mutex
	processors map[processorKey]*processor

	finalized *expirable.LRU[processorKey, struct{}]

	transport Transport
	cpu       *CPUPool
	malice    *MaliceTable

	events chan Event
	lg     log.Logger
}

// Config fixes the tuning knobs a Behaviour is built with.
type Config struct {
	SelfID          peer.ID
	PrivKey         crypto.PrivKey
	Transport       Transport
	FinalizedTTL    time.Duration
	FinalizedCap    int
	EventBufferSize int
}

// NewBehaviour constructs a Behaviour ready to register channels and
// handle units. The finalized-message cache is TTL-bounded per §3
// "finalized_messages: TTL cache", built on
// github.com/hashicorp/golang-lru/v2/expirable.
func NewBehaviour(cfg Config) *Behaviour {
	if cfg.FinalizedCap <= 0 {
		cfg.FinalizedCap = 4096
	}
	if cfg.FinalizedTTL <= 0 {
		cfg.FinalizedTTL = 10 * time.Minute
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 256
	}
	return &Behaviour{
		selfID:     cfg.SelfID,
		privKey:    cfg.PrivKey,
		reg:        newRegistry(),
		pubKeys:    make(map[peer.ID]crypto.PubKey),
		processors: make(map[processorKey]*processor),
		finalized:  expirable.NewLRU[processorKey, struct{}](cfg.FinalizedCap, nil, cfg.FinalizedTTL),
		transport:  cfg.Transport,
		cpu:        defaultCPUPool,
		malice:     NewMaliceTable(),
		events:     make(chan Event, cfg.EventBufferSize),
		lg:         log.NewModuleLogger(log.Propeller),
	}
}

// Events returns the channel every ShardValidationFailed, MessageReceived
// and ReconstructionFailed surfaces on.
func (b *Behaviour) Events() <-chan Event { return b.events }

// Malice exposes the fault-injection table for tests.
func (b *Behaviour) Malice() *MaliceTable { return b.malice }

// RegisterChannel declares a channel with its erasure-coding shape and an
// initial weighted peer set, §3 "channel registered with a weighted peer
// set".
func (b *Behaviour) RegisterChannel(ch ChannelID, params ChannelParams, peers map[peer.ID]int) {
	cs := b.reg.register(ch, params)
	cs.registerPeers(peers)
}

// RegisterChannelPeers rebuilds ch's tree over a new weighted peer set,
// §4.4 "Tree generation metrics" — the previous snapshot stays alive for
// any in-flight processor still holding it.
func (b *Behaviour) RegisterChannelPeers(ch ChannelID, peers map[peer.ID]int) {
	cs, ok := b.reg.get(ch)
	if !ok {
		return
	}
	cs.registerPeers(peers)
}

// SetPeerPublicKey records the signer key for a peer, §3
// "peer_public_keys: PeerId -> PublicKey".
func (b *Behaviour) SetPeerPublicKey(p peer.ID, pub crypto.PubKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubKeys[p] = pub
}

// Broadcast encodes message into D+C shards, commits to them with a
// Merkle tree, and sends each shard once to the peer the channel's tree
// assigns it, §4.4 "First broadcast". Shard preparation is offloaded to
// the CPU pool; the returned channel completes once shards are queued for
// send, mirroring the spec's future-returning contract.
func (b *Behaviour) Broadcast(ch ChannelID, message []byte) <-chan BroadcastResult {
	out := make(chan BroadcastResult, 1)
	cs, ok := b.reg.get(ch)
	if !ok {
		out <- BroadcastResult{Err: ErrChannelNotRegistered}
		return out
	}
	tree := cs.currentTree()
	params := cs.params
	b.cpu.Go(func() {
		shards, err := encodeShards(params, message)
		if err != nil {
			out <- BroadcastResult{Err: err}
			return
		}
		root, proofs := buildMerkleTree(shards)
		sig, err := signRoot(b.privKey, params.Authenticity, root)
		if err != nil {
			out <- BroadcastResult{Err: err}
			return
		}
		for i := 0; i < len(shards); i++ {
			to, ok := tree.peerForShard(ShardIndex(i))
			if !ok || to == b.selfID {
				continue
			}
			unit := PropellerUnit{
				Channel: ch, Publisher: b.selfID, MessageRoot: root,
				ShardIndex: ShardIndex(i), ShardBytes: shards[i], MerkleProof: proofs[i],
				Signature: sig,
			}
			if b.malice.shouldDrop(to) {
				continue
			}
			unit = b.malice.mutate(to, unit)
			if b.transport != nil {
				if err := b.transport.Send(to, unit); err != nil {
					b.lg.Warn("propeller: send failed", "peer", to, "err", err)
				}
			}
		}
		out <- BroadcastResult{Root: root}
	})
	return out
}

// HandleUnit is the receive-side entrypoint, §4.4 "Receive processing":
// it looks up or spawns the (publisher, message_root) processor and routes
// the shard to it, unless the message is already finalized.
func (b *Behaviour) HandleUnit(u PropellerUnit) {
	cs, ok := b.reg.get(u.Channel)
	if !ok {
		b.events <- ShardValidationFailed{Channel: u.Channel, Publisher: u.Publisher, MessageRoot: u.MessageRoot, ShardIndex: u.ShardIndex, Reason: ErrChannelNotRegistered}
		return
	}
	key := processorKey{publisher: u.Publisher, root: u.MessageRoot}
	if _, done := b.finalized.Get(key); done {
		return // §4.4 step 4: finalized, further shards silently dropped.
	}
	b.procMu.Lock()
	p, exists := b.processors[key]
	if !exists {
		b.mu.RLock()
		pubKey := b.pubKeys[u.Publisher]
		b.mu.RUnlock()
		p = newProcessor(key, u.Channel, cs.params, cs.currentTree(), pubKey, cs.params.Authenticity, b.selfID, b.sendFn(), b.events, b.cpu, b.malice)
		b.processors[key] = p
		go b.reapWhenDone(key, p)
	}
	b.procMu.Unlock()
	p.deliver(u)
}

func (b *Behaviour) sendFn() sendFunc {
	return func(to peer.ID, u PropellerUnit) {
		if b.transport == nil {
			return
		}
		if err := b.transport.Send(to, u); err != nil {
			b.lg.Warn("propeller: rebroadcast failed", "peer", to, "err", err)
		}
	}
}

// reapWhenDone moves a finished processor from the live table into the
// TTL-bounded finalized cache, §3/§4.4 step 4.
func (b *Behaviour) reapWhenDone(key processorKey, p *processor) {
	<-p.done
	b.procMu.Lock()
	delete(b.processors, key)
	b.procMu.Unlock()
	b.finalized.Add(key, struct{}{})
}
