package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apollo-node/sequencer/common"
)

func TestOpenInitializesVersionsOnEmptyDir(t *testing.T) {
	env, err := Open(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	defer env.Close()

	snap, err := env.kv.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	raw, err := snap.Get(tableVersion)
	require.NoError(t, err)
	var vs versions
	require.NoError(t, decodeGob(raw, &vs))
	require.Equal(t, CodeStateVersion, vs.State)
	require.True(t, vs.BlocksSet)
	require.Equal(t, CodeBlocksVersion, vs.Blocks)
}

func TestReopenWithMajorVersionMismatchRefuses(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	env.Close()

	orig := CodeStateVersion
	CodeStateVersion = Version{Major: orig.Major + 1, Minor: 0}
	defer func() { CodeStateVersion = orig }()

	_, err = Open(DefaultConfig(dir))
	require.Error(t, err)
	var mismatch *ErrStorageVersionInconsistency
	require.ErrorAs(t, err, &mismatch)
}

func TestReopenUpgradesMinorVersion(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	env.Close()

	orig := CodeStateVersion
	CodeStateVersion = Version{Major: orig.Major, Minor: orig.Minor + 1}
	defer func() { CodeStateVersion = orig }()

	env2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer env2.Close()

	snap, err := env2.kv.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()
	raw, err := snap.Get(tableVersion)
	require.NoError(t, err)
	var vs versions
	require.NoError(t, decodeGob(raw, &vs))
	require.Equal(t, CodeStateVersion.Minor, vs.State.Minor)
}

func TestScopeForbidsStateOnlyBackToFullArchive(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Scope = ScopeStateOnly
	env, err := Open(cfg)
	require.NoError(t, err)
	env.Close()

	cfg2 := DefaultConfig(dir)
	cfg2.Scope = ScopeFullArchive
	_, err = Open(cfg2)
	require.Error(t, err)
	var scopeErr *ErrScope
	require.ErrorAs(t, err, &scopeErr)
}

func appendHeader(t *testing.T, env *Env, n common.BlockNumber, hash, parent common.Hash) {
	t.Helper()
	txn := env.BeginRWTxn()
	require.NoError(t, txn.AppendHeader(&common.StorageBlockHeader{
		BlockNumber: n, BlockHash: hash, ParentHash: parent, StarknetVersion: "0.13.0",
	}))
	require.NoError(t, txn.AppendBody(n, nil))
	require.NoError(t, txn.AdvanceMarker(common.MarkerHeader, n+1))
	require.NoError(t, txn.AdvanceMarker(common.MarkerBody, n+1))
	require.NoError(t, txn.Commit())
}

func TestAppendStateDiffRoundTrip(t *testing.T) {
	env, err := Open(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	defer env.Close()

	appendHeader(t, env, 0, common.Hash{1}, common.Hash{})

	diff := &common.ThinStateDiff{
		StorageDiffs: []common.StorageWrite{
			{Address: common.Address{9}, Key: common.Felt{1}, Value: common.Felt{2}},
		},
	}
	txn := env.BeginRWTxn()
	txn.QueueStateDiff(0, diff)
	require.NoError(t, txn.Commit())

	ro, err := env.BeginROTxn()
	require.NoError(t, err)
	defer ro.Release()

	got, err := ro.GetStateDiff(0)
	require.NoError(t, err)
	require.Equal(t, diff, got)

	marker, err := ro.GetMarker(common.MarkerState)
	require.NoError(t, err)
	require.Equal(t, common.BlockNumber(1), marker)
}

func TestBatchedWritesWithholdCommitUntilBatchSize(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Batch = BatchConfig{BatchSize: 2, Enabled: true}
	env, err := Open(cfg)
	require.NoError(t, err)
	defer env.Close()

	appendHeader(t, env, 0, common.Hash{1}, common.Hash{})
	appendHeader(t, env, 1, common.Hash{2}, common.Hash{1})

	txn := env.BeginRWTxn()
	txn.QueueStateDiff(0, &common.ThinStateDiff{})
	require.NoError(t, txn.Commit())

	ro, err := env.BeginROTxn()
	require.NoError(t, err)
	marker, err := ro.GetMarker(common.MarkerState)
	require.NoError(t, err)
	require.Equal(t, common.BlockNumber(0), marker, "state marker must not advance before batch_size is reached")
	ro.Release()

	txn2 := env.BeginRWTxn()
	txn2.QueueStateDiff(1, &common.ThinStateDiff{})
	require.NoError(t, txn2.Commit())

	ro2, err := env.BeginROTxn()
	require.NoError(t, err)
	defer ro2.Release()
	marker2, err := ro2.GetMarker(common.MarkerState)
	require.NoError(t, err)
	require.Equal(t, common.BlockNumber(2), marker2, "reaching batch_size must flush both queued blocks at once")
}

func TestMarkerAdvanceRefusesNonContiguous(t *testing.T) {
	env, err := Open(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	defer env.Close()

	txn := env.BeginRWTxn()
	defer txn.Rollback()
	err = txn.AdvanceMarker(common.MarkerHeader, 5)
	require.Error(t, err)
	var mismatch *ErrMarkerMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestCheckOrderingInvariantsRejectsViolation(t *testing.T) {
	require.NoError(t, CheckOrderingInvariants(map[common.MarkerKind]common.BlockNumber{
		common.MarkerHeader: 5, common.MarkerBody: 5, common.MarkerState: 5,
		common.MarkerClass: 5, common.MarkerCompiledClass: 5, common.MarkerBaseLayerBlock: 5,
	}))
	err := CheckOrderingInvariants(map[common.MarkerKind]common.BlockNumber{
		common.MarkerHeader: 3, common.MarkerState: 5,
	})
	require.Error(t, err)
}

func TestRevertBlockRemovesHeaderBodyAndStateDiff(t *testing.T) {
	env, err := Open(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	defer env.Close()

	appendHeader(t, env, 0, common.Hash{1}, common.Hash{})
	appendHeader(t, env, 1, common.Hash{2}, common.Hash{1})

	txn0 := env.BeginRWTxn()
	txn0.QueueStateDiff(0, &common.ThinStateDiff{})
	require.NoError(t, txn0.Commit())

	txn := env.BeginRWTxn()
	txn.QueueStateDiff(1, &common.ThinStateDiff{})
	require.NoError(t, txn.Commit())

	revertTxn := env.BeginRWTxn()
	hash, err := revertTxn.RevertBlock(1)
	require.NoError(t, err)
	require.Equal(t, common.Hash{2}, hash)
	require.NoError(t, revertTxn.Commit())

	ro, err := env.BeginROTxn()
	require.NoError(t, err)
	defer ro.Release()

	headerMarker, err := ro.GetMarker(common.MarkerHeader)
	require.NoError(t, err)
	require.Equal(t, common.BlockNumber(1), headerMarker)

	h, err := ro.GetHeader(1)
	require.NoError(t, err)
	require.Nil(t, h)

	diff, err := ro.GetStateDiff(1)
	require.NoError(t, err)
	require.Nil(t, diff)

	remaining, err := ro.GetHeader(0)
	require.NoError(t, err)
	require.NotNil(t, remaining)
	require.Equal(t, common.Hash{1}, remaining.BlockHash)
}
