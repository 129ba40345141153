package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/apollo-node/sequencer/common"
)

// Table name prefixes. Every KV key is tablePrefix || encoded-subkey, the
// same flat-namespace-over-one-engine approach as klaytn's
// storage/database/leveldb_database.go "table" helper (dt.prefix +
// key), generalized from a single runtime prefix to a fixed set of
// compile-time table tags.
var (
	tableHeaders             = []byte("h")
	tableSignatures          = []byte("S")
	tableBodies              = []byte("b")
	tableStateDiffLocations  = []byte("d")
	tableClassLocations      = []byte("c")
	tableDeprecatedClassLocs = []byte("C")
	tableCasmLocations       = []byte("k")
	tableTxLocations         = []byte("t")
	tableTxOutputLocations   = []byte("o")
	tableTxMetadata          = []byte("m")
	tableFileOffsets         = []byte("f")
	tableMarkers             = []byte("M")
	tableVersion             = []byte("V")
	tableBaseLayer           = []byte("B")
	tableEvents              = []byte("e")
	tableTxHashToIdx         = []byte("x")
)

// OffsetKind identifies one of the six append-only value files, §4.1/§6.
type OffsetKind int

const (
	OffsetThinStateDiff OffsetKind = iota
	OffsetContractClass
	OffsetCasm
	OffsetDeprecatedContractClass
	OffsetTransactionOutput
	OffsetTransaction
	offsetKindCount
)

func (k OffsetKind) fileName() string {
	names := [...]string{
		"thin_state_diff.dat", "contract_class.dat", "casm.dat",
		"deprecated_contract_class.dat", "transaction_output.dat", "transaction.dat",
	}
	return names[k]
}

func blockKey(n common.BlockNumber) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	return b[:]
}

func decodeBlockKey(b []byte) common.BlockNumber {
	return common.BlockNumber(binary.BigEndian.Uint64(b))
}

func tableKey(table []byte, n common.BlockNumber) []byte {
	return append(append([]byte{}, table...), blockKey(n)...)
}

// LocationInFile points at a span inside one append-only value file.
type LocationInFile struct {
	Offset uint64
	Length uint64
}

func (l LocationInFile) NextOffset() uint64 { return l.Offset + l.Length }

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func offsetKey(k OffsetKind) []byte {
	return append(append([]byte{}, tableFileOffsets...), byte(k))
}

func markerKey(k common.MarkerKind) []byte {
	return append(append([]byte{}, tableMarkers...), byte(k))
}
