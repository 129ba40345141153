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

// MaliceModifier deterministically corrupts outbound units to a single
// peer, for fault-injection tests, §4.4 "Malice injection".
type MaliceModifier struct {
	// Drop, when true, silently swallows every outbound unit to the peer.
	Drop bool
	// Mutate, when set, is applied to every outbound unit before send.
	Mutate func(PropellerUnit) PropellerUnit
}

// MaliceTable maps peers to the modifier applied to units addressed to
// them. Nil is the default zero value everywhere, §4.4 "Optional
// per-peer malice modifier".
type MaliceTable struct {
	mu        sync.RWMutex
	modifiers map[peer.ID]MaliceModifier
}

func NewMaliceTable() *MaliceTable {
	return &MaliceTable{modifiers: make(map[peer.ID]MaliceModifier)}
}

// Set installs or replaces the modifier applied to units sent to peer p.
func (t *MaliceTable) Set(p peer.ID, m MaliceModifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modifiers[p] = m
}

// Clear removes any modifier for p, restoring normal delivery.
func (t *MaliceTable) Clear(p peer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.modifiers, p)
}

func (t *MaliceTable) shouldDrop(p peer.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.modifiers[p].Drop
}

func (t *MaliceTable) mutate(p peer.ID, u PropellerUnit) PropellerUnit {
	t.mu.RLock()
	m, ok := t.modifiers[p]
	t.mu.RUnlock()
	if !ok || m.Mutate == nil {
		return u
	}
	return m.Mutate(u)
}
