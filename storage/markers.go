package storage

import (
	"encoding/binary"

	"github.com/apollo-node/sequencer/common"
)

// Markers is a typed view over the eight monotonic marker rows, §3/§4.1.
// Each marker is "the first block number not yet written" for its kind.
// Advancing refuses to skip ahead: callers must pass the exact expected
// next value, enforcing the append-only nature of every stream CSS drives.
type Markers struct{}

// Get reads marker kind k via rw (a Batch is also a valid reader through
// its backing snapshot semantics is not guaranteed, so Get always takes a
// Snapshot; RWTxn exposes its own in-flight view separately).
func (Markers) Get(snap Snapshot, k common.MarkerKind) (common.BlockNumber, error) {
	raw, err := snap.Get(markerKey(k))
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return common.BlockNumber(binary.BigEndian.Uint64(raw)), nil
}

// Advance sets marker k to next inside batch b, after checking contiguity
// only. The cross-marker ordering invariants of §3
//
//	CompiledClass <= Class <= State <= Header
//	Body <= Header
//	BaseLayerBlock <= Header
//
// are not checked here; CheckOrderingInvariants checks them separately.
// current is the marker's present value (read by the caller from the same
// RW transaction's view); Advance refuses anything other than current+1.
func (Markers) Advance(b Batch, k common.MarkerKind, current, next common.BlockNumber) error {
	if next != current+1 {
		return &ErrMarkerMismatch{Kind: k, Expected: current + 1, Got: next}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next))
	return b.Put(markerKey(k), buf[:])
}

// Set forcibly sets marker k (used only by revert_block, which must move a
// marker backward — the one place the +1 contiguity rule of Advance does
// not apply).
func (Markers) Set(b Batch, k common.MarkerKind, v common.BlockNumber) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return b.Put(markerKey(k), buf[:])
}

// CheckOrderingInvariants validates the cross-marker ordering rules of §3
// given a fresh read of all markers; used by tests.
func CheckOrderingInvariants(m map[common.MarkerKind]common.BlockNumber) error {
	if m[common.MarkerCompiledClass] > m[common.MarkerClass] {
		return &ErrDBInconsistency{Reason: "CompiledClass marker exceeds Class marker"}
	}
	if m[common.MarkerClass] > m[common.MarkerState] {
		return &ErrDBInconsistency{Reason: "Class marker exceeds State marker"}
	}
	if m[common.MarkerState] > m[common.MarkerHeader] {
		return &ErrDBInconsistency{Reason: "State marker exceeds Header marker"}
	}
	if m[common.MarkerBody] > m[common.MarkerHeader] {
		return &ErrDBInconsistency{Reason: "Body marker exceeds Header marker"}
	}
	if m[common.MarkerBaseLayerBlock] > m[common.MarkerHeader] {
		return &ErrDBInconsistency{Reason: "BaseLayerBlock marker exceeds Header marker"}
	}
	return nil
}
