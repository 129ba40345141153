// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package executor

import (
	"context"
	"sync"

	"github.com/apollo-node/sequencer/common"
)

// CachedState is the layered state described by §3 "CTE state": reads
// fall through to a base StateReader, writes accumulate in-memory until
// the commit cursor applies them. It is the one authoritative copy of a
// block's state; per §5 "CTE cached state: per-worker shadow writes
// merged in commit order", only the commit-cursor goroutine ever calls
// apply.
type CachedState[S StateReader] struct {
	mu      sync.RWMutex
	reader  S
	storage map[cellKey]common.Felt
}

// NewCachedState wraps reader in an empty in-memory write layer; writes are
// never passed down to reader.
func NewCachedState[S StateReader](reader S) *CachedState[S] {
	return &CachedState[S]{reader: reader, storage: make(map[cellKey]common.Felt)}
}

func (cs *CachedState[S]) getStorageAt(ctx context.Context, address common.Address, key common.Felt) (common.Felt, error) {
	k := cellKey{kind: cellStorage, addr: address, slot: key}
	cs.mu.RLock()
	if v, ok := cs.storage[k]; ok {
		cs.mu.RUnlock()
		return v, nil
	}
	cs.mu.RUnlock()
	return cs.reader.GetStorageAt(ctx, address, key)
}

func (cs *CachedState[S]) getNonceAt(ctx context.Context, address common.Address) (common.Nonce, error) {
	k := cellKey{kind: cellNonce, addr: address}
	cs.mu.RLock()
	if v, ok := cs.storage[k]; ok {
		cs.mu.RUnlock()
		return common.Nonce(v.Big().Uint64()), nil
	}
	cs.mu.RUnlock()
	return cs.reader.GetNonceAt(ctx, address)
}

func (cs *CachedState[S]) getClassHashAt(ctx context.Context, address common.Address) (common.ClassHash, error) {
	k := cellKey{kind: cellClassHash, addr: address}
	cs.mu.RLock()
	if v, ok := cs.storage[k]; ok {
		cs.mu.RUnlock()
		return common.ClassHash(v), nil
	}
	cs.mu.RUnlock()
	return cs.reader.GetClassHashAt(ctx, address)
}

// apply merges one transaction's write-set into the authoritative layer.
// Called only by the commit-cursor goroutine after read-set validation,
// §4.5 "Deterministic parallelism".
func (cs *CachedState[S]) apply(writes map[cellKey]common.Felt) {
	if len(writes) == 0 {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range writes {
		cs.storage[k] = v
	}
}

// BlockHashAndNumber names the block whose hash pre_process_block installs
// into the reserved block-hash-registry contract slot, §4.5 "start_block
// pre-processes the block (installs block-number/hash into a reserved
// contract slot)".
type BlockHashAndNumber struct {
	Number common.BlockNumber
	Hash   common.Hash
}

// blockHashRegistryAddress is the reserved system contract address the
// Starknet OS writes old block hashes into; a non-goal detail (the VM
// itself never runs here), kept only so pre_process_block has somewhere
// concrete to write.
var blockHashRegistryAddress = common.Address(common.FeltFromUint64(1))

// PreProcessBlock implements §4.5 start_block's pre-processing step: if
// old is given (an earlier block named by the caller), its hash is
// installed at blockHashRegistryAddress[old.Number] before any
// transaction executes.
func PreProcessBlock[S StateReader](cs *CachedState[S], old *BlockHashAndNumber) {
	if old == nil {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.storage[cellKey{kind: cellStorage, addr: blockHashRegistryAddress, slot: common.FeltFromUint64(uint64(old.Number))}] = old.Hash
}

// readTrackingView is the StateView handed to ExecuteFunc: every read is
// recorded against the commit-cursor version observed at call time, so
// the scheduler can later tell whether an intervening commit invalidated
// it, §9 "speculative re-execution on read-set invalidation".
type readTrackingView[S StateReader] struct {
	ctx     context.Context
	cs      *CachedState[S]
	version int
	mu      sync.Mutex
	reads   map[cellKey]struct{}
}

func newReadTrackingView[S StateReader](ctx context.Context, cs *CachedState[S], version int) *readTrackingView[S] {
	return &readTrackingView[S]{ctx: ctx, cs: cs, version: version, reads: make(map[cellKey]struct{})}
}

func (v *readTrackingView[S]) record(k cellKey) {
	v.mu.Lock()
	v.reads[k] = struct{}{}
	v.mu.Unlock()
}

func (v *readTrackingView[S]) GetStorageAt(address common.Address, key common.Felt) (common.Felt, error) {
	v.record(cellKey{kind: cellStorage, addr: address, slot: key})
	return v.cs.getStorageAt(v.ctx, address, key)
}

func (v *readTrackingView[S]) GetNonceAt(address common.Address) (common.Nonce, error) {
	v.record(cellKey{kind: cellNonce, addr: address})
	return v.cs.getNonceAt(v.ctx, address)
}

func (v *readTrackingView[S]) GetClassHashAt(address common.Address) (common.ClassHash, error) {
	v.record(cellKey{kind: cellClassHash, addr: address})
	return v.cs.getClassHashAt(v.ctx, address)
}
