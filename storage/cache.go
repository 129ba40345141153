// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// Adapted from common/cache.go in the klaytn source tree (the
// lru.Cache-backed Cache wrapper), narrowed from a general CacheType
// switch down to the one LRU shape the storage engine needs: a pure,
// correctness-irrelevant optimization that header reads fall back to a
// snapshot read on a miss.

package storage

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/apollo-node/sequencer/common"
)

// headerCache fronts hot StorageBlockHeader reads. Never a source of
// truth: ROTxn.GetHeader always falls through to the snapshot on a miss and
// repopulates the cache, so a stale or evicted entry never causes a wrong
// read.
type headerCache struct {
	lru *lru.Cache
}

func newHeaderCache(size int) *headerCache {
	c, _ := lru.New(size)
	return &headerCache{lru: c}
}

func (c *headerCache) get(n common.BlockNumber) (*common.StorageBlockHeader, bool) {
	v, ok := c.lru.Get(n)
	if !ok {
		return nil, false
	}
	return v.(*common.StorageBlockHeader), true
}

func (c *headerCache) add(n common.BlockNumber, h *common.StorageBlockHeader) {
	c.lru.Add(n, h)
}

func (c *headerCache) purgeFrom(n common.BlockNumber) {
	for _, k := range c.lru.Keys() {
		if k.(common.BlockNumber) >= n {
			c.lru.Remove(k)
		}
	}
}
