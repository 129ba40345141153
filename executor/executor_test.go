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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apollo-node/sequencer/common"
)

type stubReader struct{}

func (stubReader) GetStorageAt(context.Context, common.Address, common.Felt) (common.Felt, error) {
	return common.Felt{}, nil
}
func (stubReader) GetNonceAt(context.Context, common.Address) (common.Nonce, error) { return 0, nil }
func (stubReader) GetClassHashAt(context.Context, common.Address) (common.ClassHash, error) {
	return common.ClassHash{}, nil
}
func (stubReader) GetCompiledClass(context.Context, common.ClassHash) (*common.CasmContractClass, error) {
	return nil, nil
}
func (stubReader) GetCompiledClassHash(context.Context, common.ClassHash) (common.CompiledClassHash, error) {
	return common.CompiledClassHash{}, nil
}

func makeTx(n uint64) *common.Transaction {
	return &common.Transaction{Kind: common.TxInvoke, Hash: common.FeltFromUint64(n), Sender: common.Address(common.FeltFromUint64(n))}
}

// writeOwnCellExecute writes a single distinct cell per transaction (keyed
// by its own sender address), so transactions never conflict and the
// commit cursor never needs to invalidate and re-execute.
func writeOwnCellExecute(ctx context.Context, tx *common.Transaction, view StateView) (*ExecutionOutput, error) {
	return &ExecutionOutput{
		TxHash: tx.Hash,
		Usage:  ResourceUsage{Steps: 1},
		Writes: map[cellKey]common.Felt{
			{kind: cellStorage, addr: tx.Sender, slot: common.Felt{}}: common.FeltFromUint64(1),
		},
	}, nil
}

func TestExecutorCommitsInStrictIndexOrder(t *testing.T) {
	pool := NewPool(4)
	txs := []*common.Transaction{makeTx(0), makeTx(1), makeTx(2), makeTx(3), makeTx(4)}

	ex := StartBlock[stubReader](stubReader{}, writeOwnCellExecute, nil, BouncerConfig{}, pool, nil)
	outputs := ex.AddTxsAndWait(txs)
	require.Len(t, outputs, 5)
	for i, out := range outputs {
		require.Equal(t, txs[i].Hash, out.TxHash, "commit cursor must advance strictly in tx index order")
	}

	summary, err := ex.CloseBlock(5)
	require.NoError(t, err)
	require.Equal(t, 5, summary.NCommittedTxs)
	require.True(t, ex.IsDone())
}

func TestExecutorGetNewResultsIsIncremental(t *testing.T) {
	pool := NewPool(2)
	ex := StartBlock[stubReader](stubReader{}, writeOwnCellExecute, nil, BouncerConfig{}, pool, nil)

	ex.AddTxs([]*common.Transaction{makeTx(0), makeTx(1)})
	ex.we.scheduler.waitForCompletion(2)
	first := ex.GetNewResults()
	require.Len(t, first, 2)

	// nothing new has committed yet, so a second call returns empty.
	require.Empty(t, ex.GetNewResults())

	ex.AddTxs([]*common.Transaction{makeTx(2)})
	ex.we.scheduler.waitForCompletion(3)
	second := ex.GetNewResults()
	require.Len(t, second, 1)
	require.Equal(t, makeTx(2).Hash, second[0].TxHash)

	_, err := ex.CloseBlock(3)
	require.NoError(t, err)
}

func TestCloseBlockRejectsExceedingCommitted(t *testing.T) {
	pool := NewPool(2)
	ex := StartBlock[stubReader](stubReader{}, writeOwnCellExecute, nil, BouncerConfig{}, pool, nil)

	ex.AddTxsAndWait([]*common.Transaction{makeTx(0), makeTx(1)})

	_, err := ex.CloseBlock(5)
	require.Error(t, err)
	var exceeded *ErrCloseBlockExceedsCommitted
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, 2, exceeded.Committed)

	_, err = ex.CloseBlock(2)
	require.NoError(t, err)
}

func TestBouncerHaltsSchedulerOnOverflow(t *testing.T) {
	pool := NewPool(2)
	cfg := BouncerConfig{MaxSteps: 2}
	ex := StartBlock[stubReader](stubReader{}, writeOwnCellExecute, nil, cfg, pool, nil)

	txs := make([]*common.Transaction, 10)
	for i := range txs {
		txs[i] = makeTx(uint64(i))
	}
	ex.AddTxs(txs)

	require.Eventually(t, ex.IsDone, time.Second, time.Millisecond, "bouncer overflow must halt the scheduler")

	summary, err := ex.CloseBlock(ex.we.scheduler.nCommittedTxs())
	require.NoError(t, err)
	require.LessOrEqual(t, summary.Usage.Steps, cfg.MaxSteps)
	require.Less(t, summary.NCommittedTxs, len(txs), "bouncer must stop the block before every tx commits")
}

func TestAbortBlockHaltsWithoutError(t *testing.T) {
	pool := NewPool(2)
	ex := StartBlock[stubReader](stubReader{}, writeOwnCellExecute, nil, BouncerConfig{}, pool, nil)

	ex.AddTxsAndWait([]*common.Transaction{makeTx(0)})
	ex.AbortBlock()
	require.True(t, ex.IsDone())
}

func TestDeadlineHaltsSchedulerEventually(t *testing.T) {
	pool := NewPool(2)
	deadline := time.Now().Add(5 * time.Millisecond)

	slowExecute := func(ctx context.Context, tx *common.Transaction, view StateView) (*ExecutionOutput, error) {
		time.Sleep(2 * time.Millisecond)
		return writeOwnCellExecute(ctx, tx, view)
	}

	txs := make([]*common.Transaction, 1000)
	for i := range txs {
		txs[i] = makeTx(uint64(i))
	}

	ex := StartBlock[stubReader](stubReader{}, slowExecute, nil, BouncerConfig{}, pool, &deadline)
	ex.AddTxs(txs)

	require.Eventually(t, ex.IsDone, time.Second, time.Millisecond)

	committed := ex.we.scheduler.nCommittedTxs()
	summary, err := ex.CloseBlock(committed)
	require.NoError(t, err)
	require.Equal(t, committed, summary.NCommittedTxs)
	require.Less(t, summary.NCommittedTxs, len(txs), "deadline must cut the block off before all 1000 txs commit")
}

func TestPreProcessBlockInstallsOldBlockHash(t *testing.T) {
	cs := NewCachedState[stubReader](stubReader{})
	old := &BlockHashAndNumber{Number: 41, Hash: common.Hash{7}}
	PreProcessBlock(cs, old)

	got, err := cs.getStorageAt(context.Background(), blockHashRegistryAddress, common.FeltFromUint64(41))
	require.NoError(t, err)
	require.Equal(t, common.Felt(old.Hash), got)
}
