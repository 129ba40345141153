// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package propeller

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// CPUPool offloads Reed-Solomon encode/decode and Merkle-tree work off the
// network task, §5 "Reed-Solomon / Merkle / class compile: CPU thread pool
// (Rayon-style), results returned via oneshot". Grounded on
// executor/workerpool.go's semaphore.Weighted bounding idiom, reused here
// for a second, independent pool rather than sharing the executor's.
type CPUPool struct {
	sem *semaphore.Weighted
}

// NewCPUPool bounds concurrent CPU-offloaded jobs at n.
func NewCPUPool(n int) *CPUPool {
	if n < 1 {
		n = 1
	}
	return &CPUPool{sem: semaphore.NewWeighted(int64(n))}
}

// Go runs fn on the pool; fn is responsible for sending its own result
// onto whatever oneshot channel the caller closed over, matching the
// "results returned via oneshot" idiom without generics ceremony.
func (p *CPUPool) Go(fn func()) {
	go func() {
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		fn()
	}()
}

var defaultCPUPool = NewCPUPool(4)
