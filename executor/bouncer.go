// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package executor

import "sync"

// BouncerConfig is the cumulative resource budget a block may spend, §4.5
// "Bouncer, holding the cumulative resource budget". Zero fields mean
// "unbounded" for that resource.
type BouncerConfig struct {
	MaxSteps          uint64
	MaxL1Gas          uint64
	MaxL2Gas          uint64
	MaxL1DataGas      uint64
	MaxEvents         uint64
	MaxStateDiffCells uint64
}

// Bouncer is the cumulative resource limiter consulted by the commit
// cursor before finalizing each commit, §4.5/§9 "Bouncer". It holds no
// notion of individual transactions — only the running total and the
// configured ceiling.
type Bouncer struct {
	mu   sync.Mutex
	cfg  BouncerConfig
	used ResourceUsage
}

func NewBouncer(cfg BouncerConfig) *Bouncer {
	return &Bouncer{cfg: cfg}
}

// WouldOverflow reports whether committing delta on top of the current
// usage would exceed any configured limit, without mutating state. The
// commit cursor calls this before finalizing a commit and halts the
// scheduler instead of committing when it returns true.
func (b *Bouncer) WouldOverflow(delta ResourceUsage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.used.Add(delta)
	return exceeds(next.Steps, b.cfg.MaxSteps) ||
		exceeds(next.L1Gas, b.cfg.MaxL1Gas) ||
		exceeds(next.L2Gas, b.cfg.MaxL2Gas) ||
		exceeds(next.L1DataGas, b.cfg.MaxL1DataGas) ||
		exceeds(next.NEvents, b.cfg.MaxEvents) ||
		exceeds(next.StateDiffCells, b.cfg.MaxStateDiffCells)
}

func exceeds(used, limit uint64) bool {
	return limit != 0 && used > limit
}

// Commit records delta as spent. Callers must have already checked
// WouldOverflow(delta) == false; Commit itself never rejects.
func (b *Bouncer) Commit(delta ResourceUsage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = b.used.Add(delta)
}

// Usage returns the resources spent so far.
func (b *Bouncer) Usage() ResourceUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
