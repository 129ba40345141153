// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package propeller

import (
	"math/rand"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// processorKey identifies one in-flight or finalized message, §3
// "active_processors: (publisher, message_root) -> per-message task".
type processorKey struct {
	publisher peer.ID
	root      MessageRoot
}

// sendFunc hands a unit to the network layer for transmission to one peer.
type sendFunc func(to peer.ID, u PropellerUnit)

// processor is the "arena-per-message" task pair of §4.4/§9: a validation
// goroutine and a state-management goroutine wired by a single unbuffered
// channel, holding an immutable tree snapshot captured at spawn so a later
// channel re-registration never disturbs in-flight work.
type processor struct {
	key     processorKey
	channel ChannelID
	params  ChannelParams
	tree    *treeManager
	pubKey  crypto.PubKey
	mode    MessageAuthenticity
	selfID  peer.ID
	send    sendFunc
	events  chan<- Event
	cpu     *CPUPool
	malice  *MaliceTable

	in   chan PropellerUnit // behaviour -> validation goroutine
	pass chan PropellerUnit // validation -> state-management goroutine
	done chan struct{}
}

func newProcessor(key processorKey, channel ChannelID, params ChannelParams, tree *treeManager, pubKey crypto.PubKey, mode MessageAuthenticity, selfID peer.ID, send sendFunc, events chan<- Event, cpu *CPUPool, malice *MaliceTable) *processor {
	p := &processor{
		key: key, channel: channel, params: params, tree: tree,
		pubKey: pubKey, mode: mode, selfID: selfID, send: send, events: events, cpu: cpu, malice: malice,
		in:   make(chan PropellerUnit, 64),
		pass: make(chan PropellerUnit),
		done: make(chan struct{}),
	}
	go p.validationLoop()
	go p.stateLoop()
	return p
}

// deliver routes an incoming shard to this message's validation task, §4.4
// step 1 "all further shards for that triple are routed to its validation
// task". Non-blocking against a finalized processor: callers check
// finalized_messages before calling deliver.
func (p *processor) deliver(u PropellerUnit) {
	select {
	case p.in <- u:
	case <-p.done:
	}
}

// validationLoop verifies channel/publisher/signature/Merkle-proof for
// every inbound shard, §4.4 step 2.
func (p *processor) validationLoop() {
	for {
		select {
		case u, ok := <-p.in:
			if !ok {
				return
			}
			if u.Publisher != p.key.publisher {
				p.reportInvalid(u, ErrUnknownPublisher)
				continue
			}
			if p.pubKey == nil && p.mode == AuthenticitySigned {
				p.reportInvalid(u, ErrUnknownPublisher)
				continue
			}
			if err := verifyRootSignature(p.pubKey, p.mode, u.MessageRoot, u.Signature); err != nil {
				p.reportInvalid(u, err)
				continue
			}
			if !verifyMerkleProof(u.ShardBytes, u.MerkleProof, u.MessageRoot) {
				p.reportInvalid(u, ErrBadMerkleProof)
				continue
			}
			select {
			case p.pass <- u:
			case <-p.done:
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *processor) reportInvalid(u PropellerUnit, reason error) {
	p.events <- ShardValidationFailed{
		Channel: p.channel, Publisher: u.Publisher, MessageRoot: u.MessageRoot,
		ShardIndex: u.ShardIndex, Reason: reason,
	}
}

// stateLoop accumulates validated shards. It echoes this node's own
// assigned shard to every other peer the instant a valid copy of it is
// seen — a direct first-hop recipient re-uses the publisher's own proof
// and signature rather than waiting on reconstruction, the AVID-style
// "echo" step that a should_build-gated forward alone cannot bootstrap
// (every peer starts with exactly one shard and a reconstruction
// threshold of D > 1). Once D distinct shards have accumulated,
// should_build(k) gates the CPU-offloaded reconstruction of §4.4 step 3.
func (p *processor) stateLoop() {
	total := p.params.Total()
	slots := make([][]byte, total)
	have := 0
	built := false
	forwardedOwn := false
	myIdx, haveMyIdx := p.tree.shardIndexFor(p.selfID)

	for {
		select {
		case u, ok := <-p.pass:
			if !ok {
				return
			}
			if int(u.ShardIndex) < 0 || int(u.ShardIndex) >= total {
				continue
			}
			if slots[u.ShardIndex] == nil {
				slots[u.ShardIndex] = u.ShardBytes
				have++
			}
			if !forwardedOwn && haveMyIdx && u.ShardIndex == myIdx {
				forwardedOwn = true
				p.echoOwnShard(u)
			}
			if built || !p.tree.shouldBuild(have) {
				continue
			}
			built = true
			p.rebuild(slots, have, total)
			return
		case <-p.done:
			return
		}
	}
}

// echoOwnShard forwards the exact unit this node was assigned to every
// other registered peer except the publisher and itself, in random order
// to avoid bias by low PeerId, §4.4 step 3.
func (p *processor) echoOwnShard(u PropellerUnit) {
	peers := p.tree.peers()
	order := rand.Perm(len(peers))
	for _, i := range order {
		to := peers[i]
		if to == p.key.publisher || to == p.selfID {
			continue
		}
		if p.malice != nil && p.malice.shouldDrop(to) {
			continue
		}
		out := u
		if p.malice != nil {
			out = p.malice.mutate(to, out)
		}
		p.send(to, out)
	}
}

// rebuild runs the CPU-offloaded reconstruction of §4.4 step 3 and, on
// success, emits the decoded message; on failure it emits
// ReconstructionFailed. Either outcome finalizes the processor.
func (p *processor) rebuild(slots [][]byte, have, total int) {
	type outcome struct {
		msg    []byte
		shards [][]byte
		err    error
	}
	result := make(chan outcome, 1)
	p.cpu.Go(func() {
		present := make([][]byte, total)
		copy(present, slots)
		if n := firstShardLen(present); n >= 0 {
			for _, s := range present {
				if s != nil && len(s) != n {
					result <- outcome{err: ErrUnequalShardLengths}
					return
				}
			}
		}
		msg, shards, err := reconstruct(p.params, present)
		result <- outcome{msg: msg, shards: shards, err: err}
	})

	res := <-result
	root := computeRootFromShards(res.shards)
	if res.err != nil || root != p.key.root {
		reason := res.err
		if reason == nil {
			reason = ErrMismatchedMessageRoot
		}
		p.events <- ReconstructionFailed{Channel: p.channel, Publisher: p.key.publisher, MessageRoot: p.key.root, Reason: reason}
		close(p.done)
		return
	}

	if p.tree.shouldReceive(have) {
		p.events <- MessageReceived{Channel: p.channel, Publisher: p.key.publisher, MessageRoot: p.key.root, Message: res.msg}
	}
	close(p.done)
}

func firstShardLen(shards [][]byte) int {
	for _, s := range shards {
		if s != nil {
			return len(s)
		}
	}
	return -1
}

func computeRootFromShards(shards [][]byte) MessageRoot {
	if shards == nil {
		return MessageRoot{}
	}
	root, _ := buildMerkleTree(shards)
	return root
}
