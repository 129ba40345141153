// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package executor

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// runnable is whatever a Pool can drive: a per-block WorkerExecutor's
// speculative-execution loop plus its single commit-cursor loop, §5 "CTE:
// N worker threads per executor; join via shared halt signal".
type runnable interface {
	workerLoop()
	commitLoop()
}

// Pool is a fixed-size worker pool, grounded on klaytn/go-ethereum's
// fixed-worker-count idiom (e.g. bridgeTxPool's loop goroutines) and
// bounded with golang.org/x/sync/semaphore the way erigon-lib's go.mod
// pulls in golang.org/x/sync for worker bounding. Per §4.5/§5 each block
// gets its own dedicated set of numWorkers goroutines; the semaphore caps
// how many of those run concurrently across every block run on this Pool.
// Separate Pools do not share the cap.
type Pool struct {
	numWorkers int
	sem        *semaphore.Weighted
}

// NewPool creates a pool that runs numWorkers goroutines per block,
// capped at numWorkers concurrently-running worker goroutines across all
// blocks run on this pool.
func NewPool(numWorkers int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{numWorkers: numWorkers, sem: semaphore.NewWeighted(int64(numWorkers))}
}

// Run starts r's commit-cursor loop and numWorkers speculative-execution
// loops. It returns immediately — "threads of the pool begin executing it
// immediately", §4.5 start_block.
func (p *Pool) Run(r runnable) {
	go r.commitLoop()
	for i := 0; i < p.numWorkers; i++ {
		go p.runWorker(r)
	}
}

func (p *Pool) runWorker(r runnable) {
	ctx := context.Background()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)
	r.workerLoop()
}
