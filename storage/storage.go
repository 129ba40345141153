package storage

import (
	"encoding/binary"
	"sync"

	"github.com/apollo-node/sequencer/common"
	"github.com/apollo-node/sequencer/log"
)

// Backend selects the embedded KV engine, §6.
type Backend string

const (
	BackendLevelDB Backend = "leveldb"
	BackendBadger  Backend = "badger"
)

// Config is the Storage Engine's configuration, enumerated verbatim from
// §6: path_prefix, chain_id, enforce_file_exists, min_size, max_size,
// growth_step, mmap_file_config, scope, batch_config. CLI/file loading of
// this struct is an explicit spec Non-goal (§1) — callers build it
// directly.
type Config struct {
	PathPrefix        string
	ChainID           string
	EnforceFileExists bool
	MinSize           int64
	MaxSize           int64
	GrowthStep        int64
	MmapFileConfig    map[OffsetKind]ValueFileConfig
	Scope             Scope
	Batch             BatchConfig
	Backend           Backend
	HeaderCacheSize   int
}

// DefaultConfig returns reasonable defaults for tests and local nodes.
func DefaultConfig(pathPrefix string) Config {
	return Config{
		PathPrefix:        pathPrefix,
		EnforceFileExists: false,
		MinSize:           1 << 20,
		MaxSize:           1 << 40,
		GrowthStep:        1 << 20,
		Scope:             ScopeFullArchive,
		Batch:             BatchConfig{BatchSize: 1, Enabled: false},
		Backend:           BackendLevelDB,
		HeaderCacheSize:   4096,
	}
}

// Env is the open storage engine: one KV engine plus the six value files,
// §4.1. Single-writer/many-reader: writerMu serializes RW transactions,
// while readers take wait-free KV snapshots.
type Env struct {
	cfg   Config
	kv    KVStore
	files map[OffsetKind]*ValueFile
	scope Scope

	writerMu sync.Mutex
	batch    *BatchWriter

	headers *headerCache
	lg      log.Logger
}

// Open opens (or initializes) a storage engine rooted at cfg.PathPrefix.
// §8: "After open_storage on an empty directory: StorageVersion tables are
// initialized; re-opening with a major-version-mismatched code refuses."
func Open(cfg Config) (*Env, error) {
	lg := log.NewModuleLogger(log.Storage, "path", cfg.PathPrefix, "backend", string(cfg.Backend))

	var kv KVStore
	var err error
	switch cfg.Backend {
	case BackendBadger:
		kv, err = openBadger(cfg.PathPrefix + "/kv")
	default:
		kv, err = openLevelDB(cfg.PathPrefix+"/kv", 64, 64)
	}
	if err != nil {
		return nil, err
	}

	perFile := cfg.MmapFileConfig
	if perFile == nil {
		perFile = map[OffsetKind]ValueFileConfig{}
	}
	defaultFC := ValueFileConfig{MinSize: cfg.MinSize, MaxSize: cfg.MaxSize, GrowStep: cfg.GrowthStep}
	for k := OffsetKind(0); k < offsetKindCount; k++ {
		if _, ok := perFile[k]; !ok {
			perFile[k] = defaultFC
		}
	}

	files, err := openValueFiles(cfg.PathPrefix+"/values", cfg.EnforceFileExists, perFile)
	if err != nil {
		kv.Close()
		return nil, err
	}

	env := &Env{
		cfg:     cfg,
		kv:      kv,
		files:   files,
		scope:   cfg.Scope,
		batch:   newBatchWriter(cfg.Batch),
		headers: newHeaderCache(cfg.HeaderCacheSize),
		lg:      lg,
	}
	if err := env.initOrCheckVersions(); err != nil {
		env.Close()
		return nil, err
	}
	lg.Info("storage engine opened", "scope", env.scope)
	return env, nil
}

func (e *Env) Close() error {
	for _, f := range e.files {
		f.Close()
	}
	return e.kv.Close()
}

// snapshotOffsets reads the current file_offsets row for every kind from a
// fresh KV snapshot, used as the flush algorithm's starting point.
func (e *Env) snapshotOffsets() map[OffsetKind]uint64 {
	snap, err := e.kv.NewSnapshot()
	out := make(map[OffsetKind]uint64, offsetKindCount)
	if err != nil {
		return out
	}
	defer snap.Release()
	for k := OffsetKind(0); k < offsetKindCount; k++ {
		raw, err := snap.Get(offsetKey(k))
		if err != nil || len(raw) < 8 {
			out[k] = 0
			continue
		}
		out[k] = binary.BigEndian.Uint64(raw)
	}
	return out
}

// advanceCompiledClassWhileEmpty implements §4.1 step 4: advance the
// CompiledClass marker forward through the just-flushed blocks as long as
// each one's state diff declares no classes.
func (e *Env) advanceCompiledClassWhileEmpty(kvBatch Batch, blocks []common.BlockNumber, diffs map[common.BlockNumber]*common.ThinStateDiff) error {
	snap, err := e.kv.NewSnapshot()
	if err != nil {
		return err
	}
	marker, err := (Markers{}).Get(snap, common.MarkerCompiledClass)
	snap.Release()
	if err != nil {
		return err
	}
	byBlock := make(map[common.BlockNumber]*common.ThinStateDiff, len(blocks))
	for _, b := range blocks {
		byBlock[b] = diffs[b]
	}
	for {
		diff, ok := byBlock[marker]
		if !ok || len(diff.DeclaredClasses) > 0 {
			break
		}
		if err := (Markers{}).Advance(kvBatch, common.MarkerCompiledClass, marker, marker+1); err != nil {
			return err
		}
		marker++
	}
	return nil
}
