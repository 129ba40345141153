package centralsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apollo-node/sequencer/common"
	"github.com/apollo-node/sequencer/storage"
)

func TestIsRecoverableExhaustive(t *testing.T) {
	require.False(t, IsRecoverable(&ErrSequencerPubKeyChanged{}))
	require.True(t, IsRecoverable(&ErrCentralSource{Err: errors.New("x")}))
	require.True(t, IsRecoverable(&ErrPendingSource{Err: errors.New("x")}))
	require.True(t, IsRecoverable(&ErrBaseLayerSource{Err: errors.New("x")}))
	require.True(t, IsRecoverable(&ErrStall{}))
	require.True(t, IsRecoverable(&storage.ErrParentBlockHashMismatch{}))
	require.True(t, IsRecoverable(&storage.ErrBaseLayerHashMismatch{}))
	require.True(t, IsRecoverable(&storage.ErrInner{Err: errors.New("disk hiccup")}))
	require.True(t, IsRecoverable(context.Canceled))
	require.False(t, IsRecoverable(errors.New("unclassified")))
}

func openTestEnv(t *testing.T) *storage.Env {
	t.Helper()
	cfg := storage.DefaultConfig(t.TempDir())
	env, err := storage.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

type fakeCentralSource struct {
	headers map[common.BlockNumber]*common.StorageBlockHeader
	bodies  map[common.BlockNumber][]common.Hash
	diffs   map[common.BlockNumber]*common.ThinStateDiff
	latest  common.BlockNumber
}

func (f *fakeCentralSource) LatestBlockNumber(context.Context) (common.BlockNumber, bool, error) {
	return f.latest, f.latest > 0, nil
}

func (f *fakeCentralSource) GetBlock(_ context.Context, n common.BlockNumber) (*common.StorageBlockHeader, []common.Hash, []byte, error) {
	return f.headers[n], f.bodies[n], nil, nil
}

func (f *fakeCentralSource) GetStateDiff(_ context.Context, n common.BlockNumber) (*common.ThinStateDiff, map[common.ClassHash][]byte, map[common.ClassHash][]byte, error) {
	return f.diffs[n], nil, nil, nil
}

func (f *fakeCentralSource) GetCompiledClass(context.Context, common.ClassHash) (*common.CasmContractClass, bool, error) {
	return nil, true, nil
}

func (f *fakeCentralSource) SequencerPubKey(context.Context) ([]byte, error) {
	return []byte("pubkey-1"), nil
}

type fakeBaseLayerSource struct{}

func (fakeBaseLayerSource) LatestProvedBlock(context.Context) (common.BlockNumber, common.Hash, bool, error) {
	return 0, common.Hash{}, false, nil
}

func TestStoreBlockAdvancesHeaderMarker(t *testing.T) {
	env := openTestEnv(t)
	s := New(env, &fakeCentralSource{}, fakeBaseLayerSource{}, nil, DefaultConfig())

	header := &common.StorageBlockHeader{BlockNumber: 0, BlockHash: common.Hash{1}, StarknetVersion: "0.13.0"}
	err := s.storeBlock(context.Background(), BlockAvailable{Number: 0, Header: header, Body: nil})
	require.NoError(t, err)

	ro, err := env.BeginROTxn()
	require.NoError(t, err)
	defer ro.Release()
	marker, err := ro.GetMarker(common.MarkerHeader)
	require.NoError(t, err)
	require.Equal(t, common.BlockNumber(1), marker)
}

func TestStoreBlockRejectsParentHashMismatch(t *testing.T) {
	env := openTestEnv(t)
	s := New(env, &fakeCentralSource{}, fakeBaseLayerSource{}, nil, DefaultConfig())

	genesis := &common.StorageBlockHeader{BlockNumber: 0, BlockHash: common.Hash{1}, StarknetVersion: "0.13.0"}
	require.NoError(t, s.storeBlock(context.Background(), BlockAvailable{Number: 0, Header: genesis}))

	bad := &common.StorageBlockHeader{BlockNumber: 1, BlockHash: common.Hash{2}, ParentHash: common.Hash{99}, StarknetVersion: "0.13.0"}
	err := s.storeBlock(context.Background(), BlockAvailable{Number: 1, Header: bad})
	require.Error(t, err)
	var mismatch *storage.ErrParentBlockHashMismatch
	require.True(t, errors.As(err, &mismatch))
	require.True(t, IsRecoverable(err))
}

func TestStoreBlockIsIdempotent(t *testing.T) {
	env := openTestEnv(t)
	s := New(env, &fakeCentralSource{}, fakeBaseLayerSource{}, nil, DefaultConfig())

	header := &common.StorageBlockHeader{BlockNumber: 0, BlockHash: common.Hash{1}, StarknetVersion: "0.13.0"}
	require.NoError(t, s.storeBlock(context.Background(), BlockAvailable{Number: 0, Header: header}))
	// replaying the same event (e.g. after a stream restart) must be a no-op
	require.NoError(t, s.storeBlock(context.Background(), BlockAvailable{Number: 0, Header: header}))

	ro, err := env.BeginROTxn()
	require.NoError(t, err)
	defer ro.Release()
	marker, err := ro.GetMarker(common.MarkerHeader)
	require.NoError(t, err)
	require.Equal(t, common.BlockNumber(1), marker)
}

func TestStoreStateDiffAdvancesOnlyAfterHeader(t *testing.T) {
	env := openTestEnv(t)
	s := New(env, &fakeCentralSource{}, fakeBaseLayerSource{}, nil, DefaultConfig())

	header := &common.StorageBlockHeader{BlockNumber: 0, BlockHash: common.Hash{1}, StarknetVersion: "0.13.0"}
	require.NoError(t, s.storeBlock(context.Background(), BlockAvailable{Number: 0, Header: header}))

	diff := &common.ThinStateDiff{}
	require.NoError(t, s.storeStateDiff(context.Background(), StateDiffAvailable{Number: 0, Diff: diff}))

	ro, err := env.BeginROTxn()
	require.NoError(t, err)
	defer ro.Release()
	marker, err := ro.GetMarker(common.MarkerState)
	require.NoError(t, err)
	require.Equal(t, common.BlockNumber(1), marker)
}

func TestStoreBaseLayerBlockRequiresMatchingHeader(t *testing.T) {
	env := openTestEnv(t)
	s := New(env, &fakeCentralSource{}, fakeBaseLayerSource{}, nil, DefaultConfig())

	err := s.storeBaseLayerBlock(context.Background(), NewBaseLayerBlock{Number: 0, Hash: common.Hash{1}})
	require.Error(t, err)
	var notFound *storage.ErrBaseLayerBlockWithoutMatchingHeader
	require.True(t, errors.As(err, &notFound))
}

func TestStoreBaseLayerBlockAdvancesOnMatch(t *testing.T) {
	env := openTestEnv(t)
	s := New(env, &fakeCentralSource{}, fakeBaseLayerSource{}, nil, DefaultConfig())

	header := &common.StorageBlockHeader{BlockNumber: 0, BlockHash: common.Hash{7}, StarknetVersion: "0.13.0"}
	require.NoError(t, s.storeBlock(context.Background(), BlockAvailable{Number: 0, Header: header}))

	require.NoError(t, s.storeBaseLayerBlock(context.Background(), NewBaseLayerBlock{Number: 0, Hash: common.Hash{7}}))

	ro, err := env.BeginROTxn()
	require.NoError(t, err)
	defer ro.Release()
	marker, err := ro.GetMarker(common.MarkerBaseLayerBlock)
	require.NoError(t, err)
	require.Equal(t, common.BlockNumber(1), marker)
}

func TestStoreBaseLayerBlockRejectsHashMismatch(t *testing.T) {
	env := openTestEnv(t)
	s := New(env, &fakeCentralSource{}, fakeBaseLayerSource{}, nil, DefaultConfig())

	header := &common.StorageBlockHeader{BlockNumber: 0, BlockHash: common.Hash{7}, StarknetVersion: "0.13.0"}
	require.NoError(t, s.storeBlock(context.Background(), BlockAvailable{Number: 0, Header: header}))

	err := s.storeBaseLayerBlock(context.Background(), NewBaseLayerBlock{Number: 0, Hash: common.Hash{8}})
	require.Error(t, err)
	var mismatch *storage.ErrBaseLayerHashMismatch
	require.True(t, errors.As(err, &mismatch))
}

func TestTrackSequencerPubKeyDetectsChange(t *testing.T) {
	env := openTestEnv(t)
	src := &fakeCentralSource{}
	s := New(env, src, fakeBaseLayerSource{}, nil, DefaultConfig())

	require.NoError(t, s.trackSequencerPubKey(context.Background()))
	require.NoError(t, s.trackSequencerPubKey(context.Background()))

	s.sequencerPubKey = []byte("old-key")
	err := s.trackSequencerPubKey(context.Background())
	require.Error(t, err)
	require.False(t, IsRecoverable(err))
}

func TestProcessSyncEventNoProgressIsStallError(t *testing.T) {
	env := openTestEnv(t)
	s := New(env, &fakeCentralSource{}, fakeBaseLayerSource{}, nil, DefaultConfig())

	err := s.processSyncEvent(context.Background(), NoProgress{})
	require.Error(t, err)
	var stall *ErrStall
	require.True(t, errors.As(err, &stall))
	require.True(t, IsRecoverable(err))
}
