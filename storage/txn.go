package storage

import (
	"encoding/binary"

	"github.com/apollo-node/sequencer/common"
)

// ROTxn is a read-only snapshot transaction, §4.1: "A reader opens a
// read-only snapshot observing a consistent view." Every read made through
// one ROTxn sees the same point-in-time state, including the file_offsets
// ceiling each value-file read is clamped to.
type ROTxn struct {
	env  *Env
	snap Snapshot
}

// BeginROTxn opens a new wait-free consistent read snapshot. Many may be
// open concurrently; they never block BeginRWTxn.
func (e *Env) BeginROTxn() (*ROTxn, error) {
	snap, err := e.kv.NewSnapshot()
	if err != nil {
		return nil, &ErrInner{Err: err}
	}
	return &ROTxn{env: e, snap: snap}, nil
}

func (t *ROTxn) Release() { t.snap.Release() }

func (t *ROTxn) GetMarker(k common.MarkerKind) (common.BlockNumber, error) {
	return (Markers{}).Get(t.snap, k)
}

func (t *ROTxn) GetHeader(n common.BlockNumber) (*common.StorageBlockHeader, error) {
	if h, ok := t.env.headers.get(n); ok {
		return h, nil
	}
	raw, err := t.snap.Get(tableKey(tableHeaders, n))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, &ErrInner{Err: err}
	}
	var h common.StorageBlockHeader
	if err := decodeGob(raw, &h); err != nil {
		return nil, &ErrDBInconsistency{Reason: "corrupt header: " + err.Error()}
	}
	t.env.headers.add(n, &h)
	return &h, nil
}

func (t *ROTxn) GetSignature(n common.BlockNumber) ([]byte, error) {
	raw, err := t.snap.Get(tableKey(tableSignatures, n))
	if err == ErrNotFound {
		return nil, nil
	}
	return raw, err
}

func (t *ROTxn) GetBody(n common.BlockNumber) ([]common.Hash, error) {
	raw, err := t.snap.Get(tableKey(tableBodies, n))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, &ErrInner{Err: err}
	}
	var hashes []common.Hash
	if err := decodeGob(raw, &hashes); err != nil {
		return nil, &ErrDBInconsistency{Reason: "corrupt body: " + err.Error()}
	}
	return hashes, nil
}

// ceiling reads the file_offsets row for kind from this ROTxn's own
// snapshot, clamping any value-file read started from it so it never
// crosses into bytes appended after the snapshot was taken.
func (t *ROTxn) ceiling(k OffsetKind) uint64 {
	raw, err := t.snap.Get(offsetKey(k))
	if err != nil || len(raw) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

// GetStateDiff implements the §8 round-trip property:
// append_state_diff(n, d); begin_ro_txn.get_state_diff(n) == Some(d).
func (t *ROTxn) GetStateDiff(n common.BlockNumber) (*common.ThinStateDiff, error) {
	locRaw, err := t.snap.Get(tableKey(tableStateDiffLocations, n))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, &ErrInner{Err: err}
	}
	var loc LocationInFile
	if err := decodeGob(locRaw, &loc); err != nil {
		return nil, &ErrDBInconsistency{Reason: "corrupt state diff location: " + err.Error()}
	}
	raw, err := t.env.files[OffsetThinStateDiff].Read(loc, t.ceiling(OffsetThinStateDiff))
	if err != nil {
		return nil, err
	}
	var diff common.ThinStateDiff
	if err := decodeGob(raw, &diff); err != nil {
		return nil, &ErrDBInconsistency{Reason: "corrupt state diff: " + err.Error()}
	}
	return &diff, nil
}

func (t *ROTxn) GetClass(h common.ClassHash) (*common.Class, error) {
	locRaw, err := t.snap.Get(classLocationKey(h))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, &ErrInner{Err: err}
	}
	var loc LocationInFile
	if err := decodeGob(locRaw, &loc); err != nil {
		return nil, err
	}
	raw, err := t.env.files[OffsetContractClass].Read(loc, t.ceiling(OffsetContractClass))
	if err != nil {
		return nil, err
	}
	return &common.Class{ClassHash: h, Sierra: raw}, nil
}

func (t *ROTxn) GetCasm(h common.CompiledClassHash) (*common.CasmContractClass, error) {
	locRaw, err := t.snap.Get(casmLocationKey(h))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, &ErrInner{Err: err}
	}
	var loc LocationInFile
	if err := decodeGob(locRaw, &loc); err != nil {
		return nil, err
	}
	raw, err := t.env.files[OffsetCasm].Read(loc, t.ceiling(OffsetCasm))
	if err != nil {
		return nil, err
	}
	return &common.CasmContractClass{CompiledClassHash: h, Bytecode: raw}, nil
}

// RWTxn is the single in-flight write transaction, §4.1: "the writer opens
// one begin_rw_txn at a time." Env.writerMu enforces that at most one
// exists at a time.
type RWTxn struct {
	env           *Env
	batch         Batch
	markerOverlay map[common.MarkerKind]common.BlockNumber
	done          bool
}

func (e *Env) BeginRWTxn() *RWTxn {
	e.writerMu.Lock()
	return &RWTxn{env: e, batch: e.kv.NewBatch(), markerOverlay: map[common.MarkerKind]common.BlockNumber{}}
}

func (t *RWTxn) GetMarker(k common.MarkerKind) (common.BlockNumber, error) {
	if v, ok := t.markerOverlay[k]; ok {
		return v, nil
	}
	snap, err := t.env.kv.NewSnapshot()
	if err != nil {
		return 0, &ErrInner{Err: err}
	}
	defer snap.Release()
	return (Markers{}).Get(snap, k)
}

// AdvanceMarker advances marker k to exactly current+1, per §4.1 "the
// writer refuses to advance a marker non-contiguously."
func (t *RWTxn) AdvanceMarker(k common.MarkerKind, next common.BlockNumber) error {
	cur, err := t.GetMarker(k)
	if err != nil {
		return err
	}
	if err := (Markers{}).Advance(t.batch, k, cur, next); err != nil {
		return err
	}
	t.markerOverlay[k] = next
	return nil
}

// SetMarker forcibly sets marker k, used only by RevertBlock which must
// move a marker backward.
func (t *RWTxn) SetMarker(k common.MarkerKind, v common.BlockNumber) error {
	if err := (Markers{}).Set(t.batch, k, v); err != nil {
		return err
	}
	t.markerOverlay[k] = v
	return nil
}

func (t *RWTxn) AppendHeader(h *common.StorageBlockHeader) error {
	raw, err := encodeGob(h)
	if err != nil {
		return err
	}
	return t.batch.Put(tableKey(tableHeaders, h.BlockNumber), raw)
}

func (t *RWTxn) AppendSignature(n common.BlockNumber, sig []byte) error {
	return t.batch.Put(tableKey(tableSignatures, n), sig)
}

func (t *RWTxn) AppendBody(n common.BlockNumber, txHashes []common.Hash) error {
	raw, err := encodeGob(txHashes)
	if err != nil {
		return err
	}
	return t.batch.Put(tableKey(tableBodies, n), raw)
}

func (t *RWTxn) DeleteHeader(n common.BlockNumber) error {
	t.env.headers.purgeFrom(n)
	return t.batch.Delete(tableKey(tableHeaders, n))
}

func (t *RWTxn) DeleteBody(n common.BlockNumber) error {
	return t.batch.Delete(tableKey(tableBodies, n))
}

func (t *RWTxn) DeleteStateDiffLocation(n common.BlockNumber) error {
	return t.batch.Delete(tableKey(tableStateDiffLocations, n))
}

// QueueStateDiff enqueues the per-block state diff into the engine-wide
// batch writer (§4.1). The diff is not durable, and the State marker does
// not advance, until a Flush happens — either because this Commit reaches
// batch_size or because batching is disabled (batch_size treated as 1).
func (t *RWTxn) QueueStateDiff(n common.BlockNumber, diff *common.ThinStateDiff) {
	t.env.batch.QueueStateDiff(n, diff)
}

func (t *RWTxn) QueueTransaction(block common.BlockNumber, index int, isLast bool, txHash common.Hash, txBytes, outBytes []byte) {
	t.env.batch.QueueTransaction(block, index, isLast, txHash, txBytes, outBytes)
}

func (t *RWTxn) QueueClass(block common.BlockNumber, h common.ClassHash, b []byte) {
	t.env.batch.QueueClass(block, h, b)
}

func (t *RWTxn) QueueDeprecatedClass(block common.BlockNumber, h common.ClassHash, b []byte) {
	t.env.batch.QueueDeprecatedClass(block, h, b)
}

func (t *RWTxn) QueueCasm(block common.BlockNumber, h common.CompiledClassHash, b []byte) {
	t.env.batch.QueueCasm(block, h, b)
}

// Commit flushes the batch writer if it has reached batch_size (or
// batching is disabled, in which case every Commit flushes immediately),
// advances the State marker over whatever got flushed, and finally writes
// the underlying KV batch — §4.1: "Files are flushed before the KV commit
// — readers therefore never observe a KV pointer to uninitialized file
// bytes."
func (t *RWTxn) Commit() error {
	defer func() { t.env.writerMu.Unlock(); t.done = true }()

	forceFlush := !t.env.cfg.Batch.Enabled && len(t.env.batch.stateDiffs) > 0
	if t.env.batch.ShouldFlush() || forceFlush {
		flushedBlocks := make([]common.BlockNumber, 0, len(t.env.batch.stateDiffs))
		for b := range t.env.batch.stateDiffs {
			flushedBlocks = append(flushedBlocks, b)
		}
		if err := t.env.batch.Flush(t.env, t.batch); err != nil {
			return err
		}
		if err := t.advanceStateMarker(flushedBlocks); err != nil {
			return err
		}
	}
	if err := t.batch.Write(); err != nil {
		return &ErrInner{Err: err}
	}
	return nil
}

func (t *RWTxn) advanceStateMarker(flushed []common.BlockNumber) error {
	if len(flushed) == 0 {
		return nil
	}
	cur, err := t.GetMarker(common.MarkerState)
	if err != nil {
		return err
	}
	for range flushed {
		if err := t.AdvanceMarker(common.MarkerState, cur+1); err != nil {
			return err
		}
		cur++
	}
	return nil
}

func (t *RWTxn) Rollback() {
	if t.done {
		return
	}
	t.batch.Reset()
	t.env.writerMu.Unlock()
	t.done = true
}

// RevertBlock implements §4.1 revert_block(n): revert base-layer marker if
// equal, revert header, and only if a header existed also revert body and
// state diff. Returns the reverted block's hash.
func (t *RWTxn) RevertBlock(n common.BlockNumber) (common.Hash, error) {
	headerMarker, err := t.GetMarker(common.MarkerHeader)
	if err != nil {
		return common.Hash{}, err
	}
	if headerMarker == 0 || n != headerMarker-1 {
		return common.Hash{}, &ErrMarkerMismatch{Kind: common.MarkerHeader, Expected: n + 1, Got: headerMarker}
	}

	baseMarker, err := t.GetMarker(common.MarkerBaseLayerBlock)
	if err != nil {
		return common.Hash{}, err
	}
	if baseMarker == headerMarker {
		if err := t.SetMarker(common.MarkerBaseLayerBlock, n); err != nil {
			return common.Hash{}, err
		}
	}

	snap, err := t.env.kv.NewSnapshot()
	if err != nil {
		return common.Hash{}, &ErrInner{Err: err}
	}
	raw, err := snap.Get(tableKey(tableHeaders, n))
	snap.Release()
	var hash common.Hash
	if err == nil {
		var h common.StorageBlockHeader
		if decErr := decodeGob(raw, &h); decErr == nil {
			hash = h.BlockHash
		}
		if err := t.DeleteHeader(n); err != nil {
			return common.Hash{}, err
		}

		bodyMarker, err := t.GetMarker(common.MarkerBody)
		if err != nil {
			return common.Hash{}, err
		}
		if bodyMarker == headerMarker {
			if err := t.DeleteBody(n); err != nil {
				return common.Hash{}, err
			}
			if err := t.SetMarker(common.MarkerBody, n); err != nil {
				return common.Hash{}, err
			}
		}

		stateMarker, err := t.GetMarker(common.MarkerState)
		if err != nil {
			return common.Hash{}, err
		}
		if stateMarker == headerMarker {
			if err := t.DeleteStateDiffLocation(n); err != nil {
				return common.Hash{}, err
			}
			if err := t.SetMarker(common.MarkerState, n); err != nil {
				return common.Hash{}, err
			}
		}
	}

	if err := t.SetMarker(common.MarkerHeader, n); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}
