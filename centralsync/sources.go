package centralsync

import (
	"context"

	"github.com/apollo-node/sequencer/common"
)

// CentralSource is the upstream feeder for blocks, state diffs and
// compiled classes, §4.2's five streams. Wire transport (feeder gateway,
// gRPC, etc.) is a spec Non-goal — this is the interface CSS drives
// against; a concrete transport lives outside this package.
type CentralSource interface {
	// LatestBlockNumber returns central_block_marker: the first block
	// number the source does NOT yet have, and false if the source has
	// no blocks at all.
	LatestBlockNumber(ctx context.Context) (common.BlockNumber, bool, error)
	GetBlock(ctx context.Context, n common.BlockNumber) (*common.StorageBlockHeader, []common.Hash, []byte, error)
	GetStateDiff(ctx context.Context, n common.BlockNumber) (diff *common.ThinStateDiff, deployedClasses, deprecatedClasses map[common.ClassHash][]byte, err error)
	GetCompiledClass(ctx context.Context, h common.ClassHash) (casm *common.CasmContractClass, isBackwardCompat bool, err error)
	SequencerPubKey(ctx context.Context) ([]byte, error)
}

// PendingSource feeds sync_pending_data, the optional mempool-visibility
// preview of the in-progress block. A spec-allowed simplification: a
// no-op default is provided since pending-data consumption is downstream
// of CSS and not exercised by any other component in this repository.
type PendingSource interface {
	PollPendingData(ctx context.Context) error
}

type noopPendingSource struct{}

func (noopPendingSource) PollPendingData(context.Context) error { return nil }

// BaseLayerSource reports the latest L1-proved block, §4.2 stream 4.
type BaseLayerSource interface {
	LatestProvedBlock(ctx context.Context) (n common.BlockNumber, hash common.Hash, ok bool, err error)
}
