package centralsync

import "github.com/apollo-node/sequencer/common"

// SyncEvent is the tagged union fed by the five streams into the single
// consumer loop, §4.2.
type SyncEvent interface{ isSyncEvent() }

type BlockAvailable struct {
	Number    common.BlockNumber
	Header    *common.StorageBlockHeader
	Body      []common.Hash
	Signature []byte
}

type StateDiffAvailable struct {
	Number              common.BlockNumber
	Diff                *common.ThinStateDiff
	DeployedClassDefs   map[common.ClassHash][]byte
	DeprecatedClassDefs map[common.ClassHash][]byte
}

type CompiledClassAvailable struct {
	Number           common.BlockNumber
	ClassHash        common.ClassHash
	Casm             *common.CasmContractClass
	IsBackwardCompat bool
}

type NewBaseLayerBlock struct {
	Number common.BlockNumber
	Hash   common.Hash
}

type NoProgress struct{}

func (BlockAvailable) isSyncEvent()         {}
func (StateDiffAvailable) isSyncEvent()     {}
func (CompiledClassAvailable) isSyncEvent() {}
func (NewBaseLayerBlock) isSyncEvent()      {}
func (NoProgress) isSyncEvent()             {}
