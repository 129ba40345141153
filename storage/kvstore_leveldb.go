// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// Adapted from storage/database/leveldb_database.go in the klaytn source
// tree (the levelDB/ldbBatch split and the compaction/IO metering), pointed
// at the Storage Engine's own schema instead of klaytn's chain tables.

package storage

import (
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lderrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/apollo-node/sequencer/log"
	"github.com/apollo-node/sequencer/metrics"
)

// levelDBStore is the default embedded KV engine: an LSM tree with native
// point-in-time snapshots, which gives the storage engine's readers their
// wait-free consistent view for free.
type levelDBStore struct {
	fn string
	db *leveldb.DB
	lg log.Logger

	compTimeMeter  metrics.Meter
	compReadMeter  metrics.Meter
	compWriteMeter metrics.Meter
	diskReadMeter  metrics.Meter
	diskWriteMeter metrics.Meter

	quitChan chan chan error
}

func levelDBOptions(cacheMB, numHandles int) *opt.Options {
	if cacheMB < 16 {
		cacheMB = 16
	}
	if numHandles < 16 {
		numHandles = 16
	}
	return &opt.Options{
		OpenFilesCacheCapacity: numHandles,
		BlockCacheCapacity:     cacheMB / 2 * opt.MiB,
		WriteBuffer:            cacheMB / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	}
}

// openLevelDB opens (or recovers) a leveldb-backed store at path and, when
// metrics.Enabled is true, starts its compaction/IO meter goroutine,
// mirroring NewLDBDatabase + Meter in the teacher pack.
func openLevelDB(path string, cacheMB, numHandles int) (*levelDBStore, error) {
	lg := log.NewModuleLogger(log.Storage, "path", path)
	db, err := leveldb.OpenFile(path, levelDBOptions(cacheMB, numHandles))
	if _, corrupted := err.(*lderrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	s := &levelDBStore{
		fn: path,
		db: db,
		lg: lg,
		compTimeMeter:  metrics.NewRegisteredMeter("storage/leveldb/compaction/time"),
		compReadMeter:  metrics.NewRegisteredMeter("storage/leveldb/compaction/read"),
		compWriteMeter: metrics.NewRegisteredMeter("storage/leveldb/compaction/write"),
		diskReadMeter:  metrics.NewRegisteredMeter("storage/leveldb/disk/read"),
		diskWriteMeter: metrics.NewRegisteredMeter("storage/leveldb/disk/write"),
		quitChan:       make(chan chan error),
	}
	if metrics.Enabled {
		go s.meter(3 * time.Second)
	}
	return s, nil
}

func (s *levelDBStore) meter(refresh time.Duration) {
	stats := new(leveldb.DBStats)
	var prevCompRead, prevCompWrite int64
	var prevCompTime time.Duration
	var prevRead, prevWrite uint64
	var errc chan error
	var merr error

loop:
	for {
		merr = s.db.Stats(stats)
		if merr != nil {
			break
		}
		var currCompRead, currCompWrite int64
		var currCompTime time.Duration
		for i := range stats.LevelDurations {
			currCompTime += stats.LevelDurations[i]
			currCompRead += stats.LevelRead[i]
			currCompWrite += stats.LevelWrite[i]
		}
		s.compTimeMeter.Mark(int64(currCompTime.Seconds() - prevCompTime.Seconds()))
		s.compReadMeter.Mark(currCompRead - prevCompRead)
		s.compWriteMeter.Mark(currCompWrite - prevCompWrite)
		prevCompTime, prevCompRead, prevCompWrite = currCompTime, currCompRead, currCompWrite

		s.diskReadMeter.Mark(int64(stats.IORead - prevRead))
		s.diskWriteMeter.Mark(int64(stats.IOWrite - prevWrite))
		prevRead, prevWrite = stats.IORead, stats.IOWrite

		select {
		case errc = <-s.quitChan:
			break loop
		case <-time.After(refresh):
		}
	}
	if errc == nil {
		errc = <-s.quitChan
	}
	errc <- merr
}

func (s *levelDBStore) NewSnapshot() (Snapshot, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &levelDBSnapshot{snap: snap}, nil
}

func (s *levelDBStore) NewBatch() Batch {
	return &levelDBBatch{db: s.db, b: new(leveldb.Batch)}
}

func (s *levelDBStore) Close() error {
	s.quitChan <- make(chan error)
	if err := s.db.Close(); err != nil {
		s.lg.Error("failed to close leveldb", "err", err)
		return err
	}
	s.lg.Info("leveldb closed")
	return nil
}

type levelDBSnapshot struct {
	snap *leveldb.Snapshot
}

func (s *levelDBSnapshot) Get(key []byte) ([]byte, error) {
	v, err := s.snap.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *levelDBSnapshot) Has(key []byte) (bool, error) {
	return s.snap.Has(key, nil)
}

func (s *levelDBSnapshot) NewIterator(prefix []byte) Iterator {
	var it iterator.Iterator
	if len(prefix) == 0 {
		it = s.snap.NewIterator(nil, nil)
	} else {
		it = s.snap.NewIterator(util.BytesPrefix(prefix), nil)
	}
	return &levelDBIterator{it: it}
}

func (s *levelDBSnapshot) Release() { s.snap.Release() }

type levelDBIterator struct {
	it iterator.Iterator
}

func (i *levelDBIterator) Next() bool      { return i.it.Next() }
func (i *levelDBIterator) Key() []byte     { return i.it.Key() }
func (i *levelDBIterator) Value() []byte   { return i.it.Value() }
func (i *levelDBIterator) Release()        { i.it.Release() }
func (i *levelDBIterator) Error() error     { return i.it.Error() }

type levelDBBatch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

func (b *levelDBBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *levelDBBatch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

func (b *levelDBBatch) Write() error      { return b.db.Write(b.b, nil) }
func (b *levelDBBatch) ValueSize() int    { return b.size }
func (b *levelDBBatch) Reset()            { b.b.Reset(); b.size = 0 }
