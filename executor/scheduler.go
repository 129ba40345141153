// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package executor

import (
	"sync"

	"github.com/apollo-node/sequencer/common"
)

// txState is one transaction's position in the §9 "scheduler with per-tx
// state {Ready, Executing, Executed, Committed}" state machine.
type txState int

const (
	stateReady txState = iota
	stateExecuting
	stateExecuted
	stateCommitted
)

// txSlot is one transaction's scheduling record. reads/versionAtRead are
// populated when a worker finishes speculative execution and consumed
// once, by the commit cursor's validity check.
type txSlot struct {
	tx            *common.Transaction
	state         txState
	output        *ExecutionOutput
	reads         map[cellKey]struct{}
	versionAtRead int
}

// scheduler is the commit-order engine of §4.5/§9: workers execute
// speculatively in any order, but the commit cursor only ever advances
// index-by-index, re-queuing a transaction whose read-set was invalidated
// by an intervening commit.
type scheduler struct {
	mu           sync.Mutex
	cond         *sync.Cond
	slots        []*txSlot
	commitCursor int
	halted       bool
	haltReason   string
	panicVal     any
}

func newScheduler() *scheduler {
	s := &scheduler{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// addTxs appends new Ready slots and wakes any worker blocked waiting for
// work. Returns the [from, to) index range assigned to the new txs.
func (s *scheduler) addTxs(txs []*common.Transaction) (from, to int) {
	s.mu.Lock()
	from = len(s.slots)
	for _, tx := range txs {
		s.slots = append(s.slots, &txSlot{tx: tx, state: stateReady})
	}
	to = len(s.slots)
	s.mu.Unlock()
	s.cond.Broadcast()
	return from, to
}

// nextReady claims the lowest-index Ready slot for a worker to execute,
// blocking until one exists or the scheduler halts.
func (s *scheduler) nextReady() (int, *txSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.halted {
			return 0, nil, false
		}
		for i := s.commitCursor; i < len(s.slots); i++ {
			if s.slots[i].state == stateReady {
				s.slots[i].state = stateExecuting
				return i, s.slots[i], true
			}
		}
		s.cond.Wait()
	}
}

// markExecuted records a worker's speculative execution result and wakes
// the commit cursor.
func (s *scheduler) markExecuted(idx int, output *ExecutionOutput, reads map[cellKey]struct{}, versionAtRead int) {
	s.mu.Lock()
	sl := s.slots[idx]
	sl.output = output
	sl.reads = reads
	sl.versionAtRead = versionAtRead
	sl.state = stateExecuted
	s.mu.Unlock()
	s.cond.Broadcast()
}

type commitOutcome int

const (
	commitNoWork commitOutcome = iota
	commitOK
	commitInvalidated
	commitHalted
)

// tryCommitNext attempts to commit the slot at commitCursor. It is the
// only place that ever advances commitCursor or calls apply/Bouncer.Commit
// — the "commit cursor goroutine is the only writer" rule of §5/§9.
func tryCommitNext[S StateReader](s *scheduler, cs *CachedState[S], bouncer *Bouncer) commitOutcome {
	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		return commitHalted
	}
	idx := s.commitCursor
	if idx >= len(s.slots) {
		s.mu.Unlock()
		return commitNoWork
	}
	sl := s.slots[idx]
	if sl.state != stateExecuted {
		s.mu.Unlock()
		return commitNoWork
	}

	conflict := false
	for v := sl.versionAtRead; v < idx && !conflict; v++ {
		committed := s.slots[v].output
		if committed == nil {
			continue
		}
		for k := range sl.reads {
			if _, written := committed.Writes[k]; written {
				conflict = true
				break
			}
		}
	}
	if conflict {
		sl.state = stateReady
		sl.output = nil
		sl.reads = nil
		s.mu.Unlock()
		s.cond.Broadcast()
		return commitInvalidated
	}

	if bouncer.WouldOverflow(sl.output.Usage) {
		s.halted = true
		s.haltReason = "bouncer: block full"
		s.mu.Unlock()
		s.cond.Broadcast()
		return commitHalted
	}

	sl.state = stateCommitted
	s.commitCursor++
	writes := sl.output.Writes
	usage := sl.output.Usage
	s.mu.Unlock()

	cs.apply(writes)
	bouncer.Commit(usage)

	s.cond.Broadcast()
	return commitOK
}

// waitForCommitWork blocks until there is something for the commit cursor
// to look at: a newly Executed slot at commitCursor, or a halt.
func (s *scheduler) waitForCommitWork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.halted {
		if s.commitCursor < len(s.slots) && s.slots[s.commitCursor].state == stateExecuted {
			return
		}
		s.cond.Wait()
	}
}

// waitForCompletion blocks until commitCursor has reached to or the
// scheduler halts, implementing add_txs_and_wait's blocking contract.
func (s *scheduler) waitForCompletion(to int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.commitCursor < to && !s.halted {
		s.cond.Wait()
	}
}

// halt stops the scheduler: no further Ready slots are handed to workers
// and the commit cursor stops committing. In-flight executions are not
// interrupted, only their results are discarded, §4.5/§5 "in-flight
// transactions are allowed to finish but are not committed past the
// deadline".
func (s *scheduler) halt(reason string) {
	s.mu.Lock()
	if !s.halted {
		s.halted = true
		s.haltReason = reason
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *scheduler) recordPanic(v any) {
	s.mu.Lock()
	if s.panicVal == nil {
		s.panicVal = v
	}
	s.halted = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *scheduler) checkPanic() {
	s.mu.Lock()
	v := s.panicVal
	s.panicVal = nil
	s.mu.Unlock()
	if v != nil {
		panic(v)
	}
}

func (s *scheduler) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

func (s *scheduler) nCommittedTxs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitCursor
}

// extractOutputs returns the committed outputs in [from, commitCursor).
func (s *scheduler) extractOutputs(from int) []*ExecutionOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ExecutionOutput, 0, s.commitCursor-from)
	for i := from; i < s.commitCursor; i++ {
		out = append(out, s.slots[i].output)
	}
	return out
}
