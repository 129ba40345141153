package storage

import (
	"encoding/binary"
	"sort"

	"github.com/apollo-node/sequencer/common"
)

// BatchConfig mirrors §6's batch_config = {batch_size, enabled}.
type BatchConfig struct {
	BatchSize int
	Enabled   bool
}

type txQueueEntry struct {
	block     common.BlockNumber
	index     int
	isLast    bool
	txHash    common.Hash
	txBytes   []byte
	outBytes  []byte
}

type classQueueEntry struct {
	block     common.BlockNumber
	classHash common.ClassHash
	bytes     []byte
}

type deprecatedQueueEntry struct {
	block     common.BlockNumber
	classHash common.ClassHash
	bytes     []byte
}

type casmQueueEntry struct {
	block    common.BlockNumber
	compiled common.CompiledClassHash
	bytes    []byte
}

// BatchWriter implements the §4.1 "Batched writes" algorithm: per-kind
// in-memory queues plus a shared counter of blocks queued. The underlying
// KV commit is withheld until the counter reaches batch_size (or Flush is
// called explicitly, e.g. on graceful shutdown).
type BatchWriter struct {
	cfg BatchConfig

	stateDiffs map[common.BlockNumber]*common.ThinStateDiff
	txs        []txQueueEntry
	classes    []classQueueEntry
	deprecated []deprecatedQueueEntry
	casms      []casmQueueEntry

	blocksQueued int
}

func newBatchWriter(cfg BatchConfig) *BatchWriter {
	return &BatchWriter{cfg: cfg, stateDiffs: make(map[common.BlockNumber]*common.ThinStateDiff)}
}

// QueueStateDiff enqueues one block's state diff and increments the shared
// "blocks queued" counter — every batched block has exactly one state
// diff, so this is the natural per-block anchor event.
func (w *BatchWriter) QueueStateDiff(block common.BlockNumber, diff *common.ThinStateDiff) {
	w.stateDiffs[block] = diff
	w.blocksQueued++
}

// QueueTransaction enqueues one (tx, output) pair at (block, index).
// isLast marks the final entry for that block, which is when file_offsets
// gets upserted for the tx/tx-output files (§4.1 step 2).
func (w *BatchWriter) QueueTransaction(block common.BlockNumber, index int, isLast bool, txHash common.Hash, txBytes, outBytes []byte) {
	w.txs = append(w.txs, txQueueEntry{block, index, isLast, txHash, txBytes, outBytes})
}

func (w *BatchWriter) QueueClass(block common.BlockNumber, h common.ClassHash, b []byte) {
	w.classes = append(w.classes, classQueueEntry{block, h, b})
}

func (w *BatchWriter) QueueDeprecatedClass(block common.BlockNumber, h common.ClassHash, b []byte) {
	w.deprecated = append(w.deprecated, deprecatedQueueEntry{block, h, b})
}

func (w *BatchWriter) QueueCasm(block common.BlockNumber, h common.CompiledClassHash, b []byte) {
	w.casms = append(w.casms, casmQueueEntry{block, h, b})
}

// ShouldFlush reports whether the shared counter has reached batch_size.
func (w *BatchWriter) ShouldFlush() bool {
	return w.cfg.Enabled && w.blocksQueued >= w.cfg.BatchSize
}

// Flush implements the five-step algorithm of §4.1, writing all queued
// value-file appends and their KV-side locations/offsets into kvBatch, and
// only then letting the caller call Commit on it.
func (w *BatchWriter) Flush(env *Env, kvBatch Batch) error {
	// Step 1: state diffs, sorted by block number for deterministic replay.
	blocks := make([]common.BlockNumber, 0, len(w.stateDiffs))
	for b := range w.stateDiffs {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	nextOffsets := env.snapshotOffsets()

	for _, block := range blocks {
		diff := w.stateDiffs[block]
		raw, err := encodeGob(diff)
		if err != nil {
			return err
		}
		loc, err := env.files[OffsetThinStateDiff].Append(nextOffsets[OffsetThinStateDiff], raw)
		if err != nil {
			return err
		}
		nextOffsets[OffsetThinStateDiff] = loc.NextOffset()

		locRaw, err := encodeGob(loc)
		if err != nil {
			return err
		}
		if err := kvBatch.Put(tableKey(tableStateDiffLocations, block), locRaw); err != nil {
			return err
		}
	}
	if len(blocks) > 0 {
		if err := putOffset(kvBatch, OffsetThinStateDiff, nextOffsets[OffsetThinStateDiff]); err != nil {
			return err
		}
	}

	// Step 2: transactions matched to outputs by (block, index).
	for _, e := range w.txs {
		txLoc, err := env.files[OffsetTransaction].Append(nextOffsets[OffsetTransaction], e.txBytes)
		if err != nil {
			return err
		}
		nextOffsets[OffsetTransaction] = txLoc.NextOffset()

		outLoc, err := env.files[OffsetTransactionOutput].Append(nextOffsets[OffsetTransactionOutput], e.outBytes)
		if err != nil {
			return err
		}
		nextOffsets[OffsetTransactionOutput] = outLoc.NextOffset()

		meta := txMetadata{TxHash: e.txHash, TxLoc: txLoc, TxOutLoc: outLoc}
		metaRaw, err := encodeGob(meta)
		if err != nil {
			return err
		}
		if err := kvBatch.Put(txMetadataKey(e.block, uint64(e.index)), metaRaw); err != nil {
			return err
		}
		if e.isLast {
			if err := putOffset(kvBatch, OffsetTransaction, nextOffsets[OffsetTransaction]); err != nil {
				return err
			}
			if err := putOffset(kvBatch, OffsetTransactionOutput, nextOffsets[OffsetTransactionOutput]); err != nil {
				return err
			}
		}
	}

	// Step 3: classes, deprecated classes, CASMs, flushed analogously.
	for _, e := range w.classes {
		loc, err := env.files[OffsetContractClass].Append(nextOffsets[OffsetContractClass], e.bytes)
		if err != nil {
			return err
		}
		nextOffsets[OffsetContractClass] = loc.NextOffset()
		locRaw, _ := encodeGob(loc)
		if err := kvBatch.Put(classLocationKey(e.classHash), locRaw); err != nil {
			return err
		}
	}
	if len(w.classes) > 0 {
		if err := putOffset(kvBatch, OffsetContractClass, nextOffsets[OffsetContractClass]); err != nil {
			return err
		}
	}

	for _, e := range w.deprecated {
		loc, err := env.files[OffsetDeprecatedContractClass].Append(nextOffsets[OffsetDeprecatedContractClass], e.bytes)
		if err != nil {
			return err
		}
		nextOffsets[OffsetDeprecatedContractClass] = loc.NextOffset()
		locRaw, _ := encodeGob(loc)
		if err := kvBatch.Put(deprecatedClassLocationKey(e.classHash), locRaw); err != nil {
			return err
		}
	}
	if len(w.deprecated) > 0 {
		if err := putOffset(kvBatch, OffsetDeprecatedContractClass, nextOffsets[OffsetDeprecatedContractClass]); err != nil {
			return err
		}
	}

	for _, e := range w.casms {
		loc, err := env.files[OffsetCasm].Append(nextOffsets[OffsetCasm], e.bytes)
		if err != nil {
			return err
		}
		nextOffsets[OffsetCasm] = loc.NextOffset()
		locRaw, _ := encodeGob(loc)
		if err := kvBatch.Put(casmLocationKey(e.compiled), locRaw); err != nil {
			return err
		}
	}
	if len(w.casms) > 0 {
		if err := putOffset(kvBatch, OffsetCasm, nextOffsets[OffsetCasm]); err != nil {
			return err
		}
	}

	// Step 4: advance CompiledClass marker while the next block's state
	// diff has no declared classes (nothing to compile means nothing
	// blocks the marker from tracking Class/State).
	if err := env.advanceCompiledClassWhileEmpty(kvBatch, blocks, w.stateDiffs); err != nil {
		return err
	}

	// Step 5: reset counters; the caller now calls kvBatch.Write().
	w.stateDiffs = make(map[common.BlockNumber]*common.ThinStateDiff)
	w.txs = nil
	w.classes = nil
	w.deprecated = nil
	w.casms = nil
	w.blocksQueued = 0
	return nil
}

type txMetadata struct {
	TxHash   common.Hash
	TxLoc    LocationInFile
	TxOutLoc LocationInFile
}

func txMetadataKey(block common.BlockNumber, offset uint64) []byte {
	k := tableKey(tableTxMetadata, block)
	var o [8]byte
	binary.BigEndian.PutUint64(o[:], offset)
	return append(k, o[:]...)
}

func classLocationKey(h common.ClassHash) []byte {
	return append(append([]byte{}, tableClassLocations...), h[:]...)
}

func deprecatedClassLocationKey(h common.ClassHash) []byte {
	return append(append([]byte{}, tableDeprecatedClassLocs...), h[:]...)
}

func casmLocationKey(h common.CompiledClassHash) []byte {
	return append(append([]byte{}, tableCasmLocations...), h[:]...)
}

func putOffset(b Batch, k OffsetKind, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return b.Put(offsetKey(k), buf[:])
}
