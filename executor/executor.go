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
	"time"

	"github.com/apollo-node/sequencer/common"
	"github.com/apollo-node/sequencer/log"
)

// workerExecutor is the §3 "CTE state" WorkerExecutor(block_state, txs,
// bouncer, deadline): the per-block speculative-execution engine a Pool
// runs. It is generic over the base StateReader so the same code serves
// any storage-engine snapshot type.
type workerExecutor[S StateReader] struct {
	state     *CachedState[S]
	bouncer   *Bouncer
	scheduler *scheduler
	execute   ExecuteFunc
	deadline  time.Time
	lg        log.Logger
}

func (we *workerExecutor[S]) workerLoop() {
	defer func() {
		if r := recover(); r != nil {
			we.scheduler.recordPanic(r)
		}
	}()
	for {
		idx, slot, ok := we.scheduler.nextReady()
		if !ok {
			return
		}
		view := newReadTrackingView(context.Background(), we.state, we.scheduler.nCommittedTxs())
		out, err := we.execute(view.ctx, slot.tx, view)
		if err != nil {
			out = &ExecutionOutput{TxHash: slot.tx.Hash, Reverted: true}
			we.lg.Debug("executor: transaction reverted", "tx_hash", slot.tx.Hash, "err", err)
		}
		we.scheduler.markExecuted(idx, out, view.reads, view.version)
	}
}

func (we *workerExecutor[S]) commitLoop() {
	if !we.deadline.IsZero() {
		go func() {
			if d := time.Until(we.deadline); d > 0 {
				time.Sleep(d)
			}
			we.scheduler.halt("deadline")
		}()
	}
	for {
		switch tryCommitNext(we.scheduler, we.state, we.bouncer) {
		case commitHalted:
			return
		case commitNoWork:
			we.scheduler.waitForCommitWork()
		default: // commitOK, commitInvalidated: keep draining
		}
	}
}

// BlockExecutionSummary is the §4.5 close_block return value: how many
// transactions committed and the cumulative resources they spent.
type BlockExecutionSummary struct {
	NCommittedTxs int
	Usage         ResourceUsage
}

// Executor is the exported façade matching §4.5's contract verbatim:
// start_block, add_txs, get_new_results, add_txs_and_wait, close_block,
// abort_block, is_done. Grounded on
// original_source/crates/blockifier/src/blockifier/concurrent_transaction_executor.rs
// for exact method shapes and invariants, adapted to Go's explicit error
// returns and goroutine-based concurrency.
type Executor[S StateReader] struct {
	we         *workerExecutor[S]
	pool       *Pool
	nOutputTxs int
	closed     bool
}

// StartBlock implements §4.5 start_block: pre-processes the block
// (installs the reserved block-hash-registry write), constructs the
// WorkerExecutor and enqueues it on pool — pool's goroutines begin
// executing immediately.
func StartBlock[S StateReader](reader S, execute ExecuteFunc, old *BlockHashAndNumber, bouncerCfg BouncerConfig, pool *Pool, deadline *time.Time) *Executor[S] {
	state := NewCachedState(reader)
	PreProcessBlock(state, old)

	we := &workerExecutor[S]{
		state:     state,
		bouncer:   NewBouncer(bouncerCfg),
		scheduler: newScheduler(),
		execute:   execute,
		lg:        log.NewModuleLogger(log.Executor),
	}
	if deadline != nil {
		we.deadline = *deadline
	}
	pool.Run(we)

	return &Executor[S]{we: we, pool: pool}
}

// AddTxs implements §4.5 add_txs: appends transactions to the executor's
// chunk; the pool's workers pick them up for speculative execution.
func (e *Executor[S]) AddTxs(txs []*common.Transaction) {
	e.we.scheduler.addTxs(txs)
}

// GetNewResults implements §4.5 get_new_results: returns freshly committed
// outputs since the last call. Re-raises any worker panic, matching the
// Rust contract's "panics from worker threads are re-raised here".
func (e *Executor[S]) GetNewResults() []*ExecutionOutput {
	e.we.scheduler.checkPanic()
	res := e.we.scheduler.extractOutputs(e.nOutputTxs)
	e.nOutputTxs += len(res)
	return res
}

// AddTxsAndWait implements §4.5 add_txs_and_wait: appends txs and blocks
// until each is either committed or the scheduler halts.
func (e *Executor[S]) AddTxsAndWait(txs []*common.Transaction) []*ExecutionOutput {
	_, to := e.we.scheduler.addTxs(txs)
	e.we.scheduler.waitForCompletion(to)
	return e.GetNewResults()
}

// CloseBlock implements §4.5 close_block: asserts finalNExecuted doesn't
// exceed what actually committed, halts the scheduler, and returns the
// block's execution summary. Every block must be closed with either
// CloseBlock or AbortBlock.
func (e *Executor[S]) CloseBlock(finalNExecuted int) (*BlockExecutionSummary, error) {
	e.we.lg.Info("worker executor: closing block")
	e.we.scheduler.halt("close_block")
	n := e.we.scheduler.nCommittedTxs()
	if finalNExecuted > n {
		return nil, &ErrCloseBlockExceedsCommitted{Requested: finalNExecuted, Committed: n}
	}
	e.closed = true
	return &BlockExecutionSummary{NCommittedTxs: n, Usage: e.we.bouncer.Usage()}, nil
}

// AbortBlock implements §4.5 abort_block: halts without committing
// anything beyond what had already committed.
func (e *Executor[S]) AbortBlock() {
	e.we.lg.Info("worker executor: aborting block")
	e.we.scheduler.halt("abort_block")
	e.closed = true
}

// IsDone implements §4.5 is_done: true once the scheduler has halted
// (block full, deadline, or explicit abort).
func (e *Executor[S]) IsDone() bool {
	return e.we.scheduler.done()
}
