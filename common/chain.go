package common

// StorageBlockHeader is the per-block header persisted by the storage
// engine. Invariant (§3): header[n].ParentHash == header[n-1].BlockHash.
type StorageBlockHeader struct {
	BlockNumber       BlockNumber
	BlockHash         Hash
	ParentHash        Hash
	Timestamp         uint64
	StarknetVersion   string
	SequencerAddress  Address
}

// StorageWrite is one (address, key) -> value mapping inside a ThinStateDiff.
type StorageWrite struct {
	Address Address
	Key     Felt
	Value   Felt
}

// DeclaredClass maps a Sierra class hash to its compiled class hash.
type DeclaredClass struct {
	ClassHash         ClassHash
	CompiledClassHash CompiledClassHash
}

// ThinStateDiff is the per-block state delta, §3. Every slice is sorted by
// key at write time; iteration order is part of the storage contract.
type ThinStateDiff struct {
	DeployedContracts []struct {
		Address   Address
		ClassHash ClassHash
	}
	StorageDiffs           []StorageWrite
	Nonces                 []struct {
		Address Address
		Nonce   Nonce
	}
	DeclaredClasses        []DeclaredClass
	DeprecatedDeclaredClasses []ClassHash
}

// Class is the Sierra source of a declared class.
type Class struct {
	ClassHash ClassHash
	Version   HashVersion
	Sierra    []byte
}

// CasmContractClass is the compiled (executable) form of a Sierra class.
type CasmContractClass struct {
	CompiledClassHash CompiledClassHash
	Bytecode          []byte
}

// MarkerKind tags the eight monotonic markers tracked by the storage
// engine, §3.
type MarkerKind int

const (
	MarkerHeader MarkerKind = iota
	MarkerBody
	MarkerState
	MarkerClass
	MarkerCompiledClass
	MarkerBaseLayerBlock
	MarkerClassManagerBlock
	MarkerCompilerBackwardCompatibility
	markerKindCount
)

func (k MarkerKind) String() string {
	names := [...]string{
		"Header", "Body", "State", "Class", "CompiledClass",
		"BaseLayerBlock", "ClassManagerBlock", "CompilerBackwardCompatibility",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}
