package storage

import (
	"fmt"

	"github.com/apollo-node/sequencer/common"
)

// The error taxonomy of §4.1/§7. MarkerMismatch, NonceReWrite,
// ParentBlockHashMismatch, DBInconsistency, BaseLayerBlockWithoutMatchingHeader
// and StorageVersionInconsistency/ScopeError are all structural or
// configuration-fatal; only the wrapped DbError::InnerError equivalent
// (ErrInner) is recoverable.

// ErrMarkerMismatch is returned when a caller tries to advance a marker
// non-contiguously.
type ErrMarkerMismatch struct {
	Kind     common.MarkerKind
	Expected common.BlockNumber
	Got      common.BlockNumber
}

func (e *ErrMarkerMismatch) Error() string {
	return fmt.Sprintf("storage: marker %s mismatch: expected %d, got %d", e.Kind, e.Expected, e.Got)
}

// ErrNonceReWrite signals an attempt to overwrite an already-written nonce
// entry for a block that has already been appended.
type ErrNonceReWrite struct {
	Address common.Address
}

func (e *ErrNonceReWrite) Error() string {
	return fmt.Sprintf("storage: nonce re-write for %s", e.Address)
}

// ErrParentBlockHashMismatch is the structural-inconsistency error of
// §3/§8: header[n].ParentHash must equal header[n-1].BlockHash.
type ErrParentBlockHashMismatch struct {
	BlockNumber common.BlockNumber
	Expected    common.Hash
	Stored      common.Hash
}

func (e *ErrParentBlockHashMismatch) Error() string {
	return fmt.Sprintf("storage: parent hash mismatch at block %d: expected %s, stored %s",
		e.BlockNumber, e.Expected, e.Stored)
}

// ErrDBInconsistency is a catch-all for invariants the storage engine
// itself discovers broken (e.g. a LocationInFile pointing past a file's
// recorded offset).
type ErrDBInconsistency struct {
	Reason string
}

func (e *ErrDBInconsistency) Error() string { return "storage: db inconsistency: " + e.Reason }

// ErrBaseLayerBlockWithoutMatchingHeader is returned by
// store_base_layer_block when no header exists for the given block number.
type ErrBaseLayerBlockWithoutMatchingHeader struct {
	BlockNumber common.BlockNumber
}

func (e *ErrBaseLayerBlockWithoutMatchingHeader) Error() string {
	return fmt.Sprintf("storage: base layer block %d has no matching header", e.BlockNumber)
}

// ErrBaseLayerHashMismatch signals the base layer's view of a block's hash
// disagrees with the stored header, triggering a revert via the central
// source (§4.2).
type ErrBaseLayerHashMismatch struct {
	BlockNumber common.BlockNumber
	Expected    common.Hash
	Stored      common.Hash
}

func (e *ErrBaseLayerHashMismatch) Error() string {
	return fmt.Sprintf("storage: base layer hash mismatch at block %d", e.BlockNumber)
}

// ErrStorageVersionInconsistency is configuration-fatal: the stored major
// version differs from the code's major version.
type ErrStorageVersionInconsistency struct {
	Component string
	Stored    Version
	Code      Version
}

func (e *ErrStorageVersionInconsistency) Error() string {
	return fmt.Sprintf("storage: %s version inconsistency: stored %s, code %s", e.Component, e.Stored, e.Code)
}

// ErrScope is configuration-fatal: an invalid or disallowed scope
// transition or a scope-forbidden table access.
type ErrScope struct {
	Reason string
}

func (e *ErrScope) Error() string { return "storage: scope error: " + e.Reason }

// ErrInner wraps an underlying KV engine error; it is the one recoverable
// variant in the taxonomy (transport/disk hiccups the caller should retry).
type ErrInner struct {
	Err error
}

func (e *ErrInner) Error() string { return "storage: inner: " + e.Err.Error() }
func (e *ErrInner) Unwrap() error { return e.Err }

// IsRecoverable implements the §7 "fixed whitelist": only ErrInner is
// recoverable; every other storage error is fatal to the caller unless the
// caller explicitly handles it (ParentBlockHashMismatch and
// BaseLayerHashMismatch are structural but are handled by centralsync's own
// revert-then-retry logic, not silently retried here).
func IsRecoverable(err error) bool {
	_, ok := err.(*ErrInner)
	return ok
}
