package centralsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/apollo-node/sequencer/storage"
)

// ErrSequencerPubKeyChanged is the single non-recoverable error of §4.2:
// the sequencer's signing key changed mid-sync, which no retry can fix.
type ErrSequencerPubKeyChanged struct{ Old, New []byte }

func (e *ErrSequencerPubKeyChanged) Error() string {
	return "centralsync: sequencer pub key changed"
}

// ErrCentralSource, ErrPendingSource and ErrBaseLayerSource wrap any error
// surfaced by the respective upstream collaborator; all three are
// recoverable per §4.2's whitelist.
type ErrCentralSource struct{ Err error }

func (e *ErrCentralSource) Error() string { return fmt.Sprintf("centralsync: central source: %s", e.Err) }
func (e *ErrCentralSource) Unwrap() error { return e.Err }

type ErrPendingSource struct{ Err error }

func (e *ErrPendingSource) Error() string { return fmt.Sprintf("centralsync: pending source: %s", e.Err) }
func (e *ErrPendingSource) Unwrap() error { return e.Err }

type ErrBaseLayerSource struct{ Err error }

func (e *ErrBaseLayerSource) Error() string {
	return fmt.Sprintf("centralsync: base layer source: %s", e.Err)
}
func (e *ErrBaseLayerSource) Unwrap() error { return e.Err }

// ErrStall wraps the NoProgress event once it is surfaced as an error by
// the outer loop, §4.2 stream 5.
type ErrStall struct{}

func (ErrStall) Error() string { return "centralsync: no progress" }

// IsRecoverable implements §4.2's fixed whitelist: storage InnerError, any
// central/pending/base-layer source error, any parent-hash or base-layer
// hash mismatch, join errors (context cancellation propagated from a
// sibling stream failing), and stalls are all recoverable. The single
// fatal variant is ErrSequencerPubKeyChanged; any error this switch does
// not list is also treated as fatal. TestIsRecoverableExhaustive checks
// each listed type and an unlisted error.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.As(err, new(*ErrSequencerPubKeyChanged)):
		return false
	case errors.As(err, new(*ErrCentralSource)):
		return true
	case errors.As(err, new(*ErrPendingSource)):
		return true
	case errors.As(err, new(*ErrBaseLayerSource)):
		return true
	case errors.As(err, new(*ErrStall)):
		return true
	case errors.As(err, new(*storage.ErrParentBlockHashMismatch)):
		return true
	case errors.As(err, new(*storage.ErrBaseLayerHashMismatch)):
		return true
	case storage.IsRecoverable(err):
		return true
	case errors.Is(err, context.Canceled):
		return true
	default:
		return false
	}
}
