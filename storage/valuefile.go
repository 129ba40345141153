package storage

import (
	"os"
	"sync"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/apollo-node/sequencer/log"
)

// ValueFile is one append-only, memory-mapped value file, §4.1/§6. The KV
// store never holds value bytes itself, only a LocationInFile pointing
// into one of these; readers clamp access to the next_offset captured in
// their own snapshot so they never observe uninitialized file bytes.
type ValueFile struct {
	mu       sync.Mutex
	f        *os.File
	mapping  mmap.MMap
	size     int64 // current mmap size (capacity, not logical end)
	minSize  int64
	maxSize  int64
	growStep int64
}

// ValueFileConfig mirrors the §6 mmap_file_config per-file sizing knobs.
type ValueFileConfig struct {
	MinSize  int64
	MaxSize  int64
	GrowStep int64
}

func defaultValueFileConfig() ValueFileConfig {
	return ValueFileConfig{MinSize: 1 << 20, MaxSize: 1 << 40, GrowStep: 1 << 20}
}

func openValueFile(path string, cfg ValueFileConfig) (*ValueFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	if size < cfg.MinSize {
		if err := f.Truncate(cfg.MinSize); err != nil {
			f.Close()
			return nil, err
		}
		size = cfg.MinSize
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ValueFile{f: f, mapping: m, size: size, minSize: cfg.MinSize, maxSize: cfg.MaxSize, growStep: cfg.GrowStep}, nil
}

// Append writes value at the current logical end (nextOffset, tracked by
// the caller via the file_offsets KV row) and returns the resulting
// LocationInFile. It grows the backing mmap in growStep increments when
// the write would overrun the current capacity.
func (vf *ValueFile) Append(nextOffset uint64, value []byte) (LocationInFile, error) {
	vf.mu.Lock()
	defer vf.mu.Unlock()

	end := int64(nextOffset) + int64(len(value))
	if end > vf.size {
		if err := vf.growLocked(end); err != nil {
			return LocationInFile{}, err
		}
	}
	copy(vf.mapping[nextOffset:], value)
	return LocationInFile{Offset: nextOffset, Length: uint64(len(value))}, nil
}

func (vf *ValueFile) growLocked(minCapacity int64) error {
	newSize := vf.size
	for newSize < minCapacity {
		newSize += vf.growStep
	}
	if newSize > vf.maxSize {
		return &ErrDBInconsistency{Reason: "value file exceeded max_size"}
	}
	if err := vf.mapping.Unmap(); err != nil {
		return err
	}
	if err := vf.f.Truncate(newSize); err != nil {
		return err
	}
	m, err := mmap.Map(vf.f, mmap.RDWR, 0)
	if err != nil {
		return err
	}
	vf.mapping = m
	vf.size = newSize
	return nil
}

// Read returns the bytes at loc, clamped to the caller-provided snapshot
// ceiling so a reader never sees bytes beyond the next_offset it observed
// at snapshot time, even if the writer has since appended further.
func (vf *ValueFile) Read(loc LocationInFile, snapshotCeiling uint64) ([]byte, error) {
	if loc.NextOffset() > snapshotCeiling {
		return nil, &ErrDBInconsistency{Reason: "read past snapshot ceiling"}
	}
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if loc.NextOffset() > uint64(vf.size) {
		return nil, &ErrDBInconsistency{Reason: "location beyond mapped file size"}
	}
	out := make([]byte, loc.Length)
	copy(out, vf.mapping[loc.Offset:loc.NextOffset()])
	return out, nil
}

func (vf *ValueFile) Close() error {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if err := vf.mapping.Unmap(); err != nil {
		return err
	}
	return vf.f.Close()
}

func openValueFiles(dir string, enforceExists bool, cfg map[OffsetKind]ValueFileConfig) (map[OffsetKind]*ValueFile, error) {
	lg := log.NewModuleLogger(log.Storage)
	if !enforceExists {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	files := make(map[OffsetKind]*ValueFile, offsetKindCount)
	for k := OffsetKind(0); k < offsetKindCount; k++ {
		path := dir + "/" + k.fileName()
		if enforceExists {
			if _, err := os.Stat(path); err != nil {
				for _, vf := range files {
					vf.Close()
				}
				return nil, err
			}
		}
		fc, ok := cfg[k]
		if !ok {
			fc = defaultValueFileConfig()
		}
		vf, err := openValueFile(path, fc)
		if err != nil {
			for _, f := range files {
				f.Close()
			}
			return nil, err
		}
		files[k] = vf
		lg.Debug("opened value file", "kind", k.fileName())
	}
	return files, nil
}
