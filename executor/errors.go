// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package executor

import "fmt"

// ErrCloseBlockExceedsCommitted is returned by close_block when the
// caller's final_n_executed_txs exceeds what the scheduler actually
// committed — an assertion in the Rust original, surfaced here as an
// ordinary error rather than a panic.
type ErrCloseBlockExceedsCommitted struct {
	Requested int
	Committed int
}

func (e *ErrCloseBlockExceedsCommitted) Error() string {
	return fmt.Sprintf("executor: close_block requested %d transactions, but only %d committed", e.Requested, e.Committed)
}
