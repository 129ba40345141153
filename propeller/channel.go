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

	"github.com/libp2p/go-libp2p/core/peer"
)

// channelState is one registered channel's live configuration: its shard
// params and its current (and, transiently, previous) tree snapshot.
// Grounded on networks/p2p/discover/table.go's Table (a struct holding a
// peer map plus a mutex with explicit add/remove methods), generalized
// from Kademlia XOR-distance buckets to weight-ordered shard assignment.
type channelState struct {
	mu     sync.RWMutex
	params ChannelParams
	tree   *treeManager
	// prevTree is retained so processors spawned under the previous
	// topology keep a stable view, §9 "in-flight processors hold shared
	// ownership of the previous tree snapshot".
	prevTree *treeManager
}

func newChannelState(params ChannelParams) *channelState {
	return &channelState{params: params, tree: newTreeManager(params, nil)}
}

// registerPeers rebuilds the tree over the given weighted peer set,
// keeping the outgoing tree alive as prevTree, §4.4 "Tree generation
// metrics".
func (c *channelState) registerPeers(peers map[peer.ID]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prevTree = c.tree
	c.tree = newTreeManager(c.params, peers)
}

func (c *channelState) currentTree() *treeManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree
}

// registry holds every registered channel, keyed by ChannelID. Grounded on
// the same peer-table idiom as channelState, one level up.
type registry struct {
	mu       sync.RWMutex
	channels map[ChannelID]*channelState
}

func newRegistry() *registry {
	return &registry{channels: make(map[ChannelID]*channelState)}
}

func (r *registry) register(ch ChannelID, params ChannelParams) *channelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := newChannelState(params)
	r.channels[ch] = cs
	return cs
}

func (r *registry) get(ch ChannelID) (*channelState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.channels[ch]
	return cs, ok
}
