// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package storage implements the Storage Engine (§4.1): a single-writer,
// many-reader transactional store over an embedded KV engine plus six
// append-only memory-mapped value files.
package storage

// KVStore is the embedded key-value engine the storage engine is built on.
// Two backends exist (leveldb, badger); both satisfy this contract, which
// is deliberately narrow — everything else (markers, batching, value
// files) is layered in Go above it, never pushed down into the engine.
type KVStore interface {
	// NewSnapshot opens a read-only, point-in-time consistent view. Many
	// snapshots may be open concurrently; they never block the writer.
	NewSnapshot() (Snapshot, error)
	// NewBatch begins a write batch. Only one RW transaction may be live
	// at a time; callers are responsible for that single-writer discipline
	// (enforced by storage.Env's writer mutex, not by the KVStore itself).
	NewBatch() Batch
	Close() error
}

// Snapshot is a wait-free, consistent read view captured at NewSnapshot
// time. §4.1: "A reader opens a read-only snapshot observing a consistent
// view."
type Snapshot interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	NewIterator(prefix []byte) Iterator
	Release()
}

// Batch accumulates writes for one RW transaction. §4.1: "On commit, all
// changes in the transaction become atomically visible to subsequent
// snapshots."
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Write() error
	Reset()
	ValueSize() int
}

// Iterator walks a key range in ascending key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// ErrNotFound is returned by Get when the key is absent. Both backends
// translate their native not-found errors to this sentinel so callers
// never import backend-specific error types.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "storage: key not found" }
