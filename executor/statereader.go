// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package executor implements the Concurrent Transaction Executor (CTE),
// §4.5: a parallel worker-pool block executor with deterministic
// commit-order serialization and a bouncer-enforced resource limit.
package executor

import (
	"context"

	"github.com/apollo-node/sequencer/common"
)

// StateReader is the §6 external capability the cryptographic VM is
// invoked through; the VM itself is an explicit spec Non-goal (§1). Every
// method falls through to whatever backs a block's pre-state (typically
// the storage engine's read-only snapshot one block behind the one being
// executed).
type StateReader interface {
	GetStorageAt(ctx context.Context, address common.Address, key common.Felt) (common.Felt, error)
	GetNonceAt(ctx context.Context, address common.Address) (common.Nonce, error)
	GetClassHashAt(ctx context.Context, address common.Address) (common.ClassHash, error)
	GetCompiledClass(ctx context.Context, hash common.ClassHash) (*common.CasmContractClass, error)
	GetCompiledClassHash(ctx context.Context, hash common.ClassHash) (common.CompiledClassHash, error)
}

// StateView is what a transaction's execution function reads through. It
// is backed by a CachedState plus, for speculative execution, a per-tx
// read-set recorder so the commit cursor can detect stale reads.
type StateView interface {
	GetStorageAt(address common.Address, key common.Felt) (common.Felt, error)
	GetNonceAt(address common.Address) (common.Nonce, error)
	GetClassHashAt(address common.Address) (common.ClassHash, error)
}

// ExecuteFunc is the pluggable VM boundary: given a transaction and a read
// view over the block's cached state, it returns the transaction's
// resource usage and intended writes (or an error for an execution that
// should be treated as reverted). No component in this repository
// implements contract execution itself (§1 Non-goals); tests supply a
// deterministic stand-in.
type ExecuteFunc func(ctx context.Context, tx *common.Transaction, view StateView) (*ExecutionOutput, error)

// cellKind discriminates the three kinds of state cell a transaction can
// read or write during speculative execution.
type cellKind uint8

const (
	cellStorage cellKind = iota
	cellNonce
	cellClassHash
)

// cellKey identifies one storage/nonce/class-hash cell. Comparable (all
// fields are fixed-size arrays or small ints), so it can key a Go map
// directly — this is the read-set / write-set unit the scheduler's
// conflict check operates on.
type cellKey struct {
	kind cellKind
	addr common.Address
	slot common.Felt
}

// ResourceUsage is the cumulative resource vector the bouncer limits,
// §4.5/§5: steps, gas (already split by kind upstream), event count and
// state-diff cell count.
type ResourceUsage struct {
	Steps          uint64
	L1Gas          uint64
	L2Gas          uint64
	L1DataGas      uint64
	NEvents        uint64
	StateDiffCells uint64
}

// Add returns the component-wise sum of two usage vectors.
func (r ResourceUsage) Add(o ResourceUsage) ResourceUsage {
	return ResourceUsage{
		Steps:          r.Steps + o.Steps,
		L1Gas:          r.L1Gas + o.L1Gas,
		L2Gas:          r.L2Gas + o.L2Gas,
		L1DataGas:      r.L1DataGas + o.L1DataGas,
		NEvents:        r.NEvents + o.NEvents,
		StateDiffCells: r.StateDiffCells + o.StateDiffCells,
	}
}

// ExecutionOutput is one transaction's committed (or reverted) execution
// result, the Go shape of Rust's TransactionExecutionOutput.
type ExecutionOutput struct {
	TxHash   common.Hash
	Reverted bool
	Usage    ResourceUsage
	// Writes are the cells this execution intends to write. Populated by
	// ExecuteFunc; applied to the authoritative CachedState only once the
	// commit cursor has validated the transaction's read-set against
	// everything committed since it ran.
	Writes map[cellKey]common.Felt
}
