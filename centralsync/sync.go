package centralsync

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apollo-node/sequencer/common"
	"github.com/apollo-node/sequencer/log"
	"github.com/apollo-node/sequencer/storage"
)

// Sync drives the Storage Engine forward from upstream sources, §4.2.
// Grounded on node/sc/subbridge.go's long-running event-loop-over-channels
// style, generalized from a single ticker-driven select to five
// independently paced producer goroutines feeding one consumer.
type Sync struct {
	env          *storage.Env
	source       CentralSource
	base         BaseLayerSource
	pending      PendingSource
	classManager ClassManagerClient
	cfg          Config
	lg           log.Logger

	sequencerPubKey []byte
}

func New(env *storage.Env, source CentralSource, base BaseLayerSource, classManager ClassManagerClient, cfg Config) *Sync {
	return &Sync{
		env:          env,
		source:       source,
		base:         base,
		pending:      noopPendingSource{},
		classManager: classManager,
		cfg:          cfg,
		lg:           log.NewModuleLogger(log.CentralSync),
	}
}

// Run implements §4.2's outer loop: sync_while_ok runs until it returns an
// error; a recoverable error sleeps and restarts, a fatal one propagates.
func (s *Sync) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.syncWhileOk(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}
		if !IsRecoverable(err) {
			s.lg.Error("fatal sync error", "err", err)
			return err
		}
		s.lg.Warn("recoverable sync error, sleeping", "err", err)
		t := time.NewTimer(s.cfg.RecoverableErrorSleepDuration)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

func (s *Sync) syncWhileOk(ctx context.Context) error {
	if s.cfg.VerifyBlocks {
		if err := s.trackSequencerPubKey(ctx); err != nil {
			return err
		}
	}
	if err := s.handleBlockReverts(ctx); err != nil {
		return err
	}

	events := make(chan SyncEvent, s.cfg.EventChannelBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.blockStream(gctx, events) })
	g.Go(func() error { return s.stateDiffStream(gctx, events) })
	g.Go(func() error { return s.compiledClassStream(gctx, events) })
	g.Go(func() error { return s.baseLayerStream(gctx, events) })
	g.Go(func() error { return s.watchdogStream(gctx, events) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case ev := <-events:
				if err := s.processSyncEvent(ctx, ev); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}

// trackSequencerPubKey implements §4.2 "Sequencer pub-key tracking".
func (s *Sync) trackSequencerPubKey(ctx context.Context) error {
	key, err := s.source.SequencerPubKey(ctx)
	if err != nil {
		return &ErrCentralSource{Err: err}
	}
	if s.sequencerPubKey == nil {
		s.sequencerPubKey = key
		return nil
	}
	if !bytes.Equal(s.sequencerPubKey, key) {
		return &ErrSequencerPubKeyChanged{Old: s.sequencerPubKey, New: key}
	}
	return nil
}

// handleBlockReverts implements §4.2 "Revert detection": walk down from
// header_marker-1 while the central source disagrees, reverting one block
// at a time.
func (s *Sync) handleBlockReverts(ctx context.Context) error {
	for {
		ro, err := s.env.BeginROTxn()
		if err != nil {
			return err
		}
		headerMarker, err := ro.GetMarker(common.MarkerHeader)
		if err != nil {
			ro.Release()
			return err
		}
		if headerMarker == 0 {
			ro.Release()
			return nil
		}
		n := headerMarker - 1
		stored, err := ro.GetHeader(n)
		ro.Release()
		if err != nil {
			return err
		}

		upstream, _, _, err := s.source.GetBlock(ctx, n)
		if err != nil {
			return &ErrCentralSource{Err: err}
		}
		if upstream != nil && stored != nil && upstream.BlockHash == stored.BlockHash {
			return nil
		}

		txn := s.env.BeginRWTxn()
		reverted, err := txn.RevertBlock(n)
		if err != nil {
			txn.Rollback()
			return err
		}
		if err := txn.Commit(); err != nil {
			return err
		}
		s.lg.Warn("reverted block", "number", n, "hash", reverted)
	}
}

// processSyncEvent implements §4.2's per-event handling; idempotent at the
// block-number level — every branch either advances a marker exactly once
// or is a no-op when the marker has already moved past the event.
func (s *Sync) processSyncEvent(ctx context.Context, ev SyncEvent) error {
	switch e := ev.(type) {
	case BlockAvailable:
		return s.storeBlock(ctx, e)
	case StateDiffAvailable:
		return s.storeStateDiff(ctx, e)
	case CompiledClassAvailable:
		return s.storeCompiledClass(ctx, e)
	case NewBaseLayerBlock:
		return s.storeBaseLayerBlock(ctx, e)
	case NoProgress:
		return &ErrStall{}
	default:
		return fmt.Errorf("centralsync: unknown sync event %T", ev)
	}
}

// starknetVersionPrecedesCompiler reports whether header.StarknetVersion
// predates the compiler version that introduced CASM streaming — the
// version string comparison itself is delegated to the (Non-goal) VM/
// protocol layer in a full build; this repository only needs the boolean.
func starknetVersionPrecedesCompiler(v string) bool {
	return v < "0.11.0"
}

func (s *Sync) storeBlock(ctx context.Context, ev BlockAvailable) error {
	txn := s.env.BeginRWTxn()
	if ev.Number > 0 {
		ro, err := s.env.BeginROTxn()
		if err != nil {
			txn.Rollback()
			return err
		}
		prev, err := ro.GetHeader(ev.Number - 1)
		ro.Release()
		if err != nil {
			txn.Rollback()
			return err
		}
		if prev != nil && prev.BlockHash != ev.Header.ParentHash {
			txn.Rollback()
			return &storage.ErrParentBlockHashMismatch{BlockNumber: ev.Number, Expected: ev.Header.ParentHash, Stored: prev.BlockHash}
		}
	}

	headerMarker, err := txn.GetMarker(common.MarkerHeader)
	if err != nil {
		txn.Rollback()
		return err
	}
	if headerMarker != ev.Number {
		txn.Rollback()
		return nil // already applied, idempotent no-op
	}

	if err := txn.AppendHeader(ev.Header); err != nil {
		txn.Rollback()
		return err
	}
	if err := txn.AppendSignature(ev.Number, ev.Signature); err != nil {
		txn.Rollback()
		return err
	}
	if err := txn.AppendBody(ev.Number, ev.Body); err != nil {
		txn.Rollback()
		return err
	}
	if err := txn.AdvanceMarker(common.MarkerHeader, ev.Number+1); err != nil {
		txn.Rollback()
		return err
	}
	if starknetVersionPrecedesCompiler(ev.Header.StarknetVersion) {
		cur, err := txn.GetMarker(common.MarkerCompilerBackwardCompatibility)
		if err == nil && cur == ev.Number {
			if err := txn.AdvanceMarker(common.MarkerCompilerBackwardCompatibility, ev.Number+1); err != nil {
				txn.Rollback()
				return err
			}
		}
	}
	return txn.Commit()
}

func (s *Sync) storeStateDiff(ctx context.Context, ev StateDiffAvailable) error {
	txn := s.env.BeginRWTxn()
	stateMarker, err := txn.GetMarker(common.MarkerState)
	if err != nil {
		txn.Rollback()
		return err
	}
	if stateMarker != ev.Number {
		txn.Rollback()
		return nil
	}

	backwardCompat, _ := txn.GetMarker(common.MarkerCompilerBackwardCompatibility)
	if s.classManager != nil && backwardCompat <= ev.Number {
		declared := make(map[common.ClassHash]common.CompiledClassHash, len(ev.Diff.DeclaredClasses))
		for _, dc := range ev.Diff.DeclaredClasses {
			declared[dc.ClassHash] = dc.CompiledClassHash
		}
		for h, sierra := range ev.DeployedClassDefs {
			got, err := s.classManager.SendClass(ctx, h, sierra)
			if err != nil {
				txn.Rollback()
				return &ErrCentralSource{Err: err}
			}
			if want, ok := declared[h]; ok && got != want {
				txn.Rollback()
				return &ErrCentralSource{Err: fmt.Errorf("class manager returned mismatched compiled hash for %s", h)}
			}
		}
		for h, bytecode := range ev.DeprecatedClassDefs {
			if err := s.classManager.SendDeprecatedClass(ctx, h, bytecode); err != nil {
				txn.Rollback()
				return &ErrCentralSource{Err: err}
			}
		}
		cmMarker, err := txn.GetMarker(common.MarkerClassManagerBlock)
		if err == nil && cmMarker == ev.Number {
			if err := txn.AdvanceMarker(common.MarkerClassManagerBlock, ev.Number+1); err != nil {
				txn.Rollback()
				return err
			}
		}
	}

	txn.QueueStateDiff(ev.Number, ev.Diff)
	if s.cfg.StoreSierrasAndCasms {
		for h, b := range ev.DeployedClassDefs {
			txn.QueueClass(ev.Number, h, b)
		}
		for h, b := range ev.DeprecatedClassDefs {
			txn.QueueDeprecatedClass(ev.Number, h, b)
		}
	}
	return txn.Commit()
}

func (s *Sync) storeCompiledClass(ctx context.Context, ev CompiledClassAvailable) error {
	if ev.Casm == nil {
		return nil // no declared classes this block; nothing to store
	}
	txn := s.env.BeginRWTxn()

	if !ev.IsBackwardCompat && s.classManager != nil {
		ro, err := s.env.BeginROTxn()
		if err != nil {
			txn.Rollback()
			return err
		}
		class, err := ro.GetClass(ev.ClassHash)
		ro.Release()
		if err != nil {
			txn.Rollback()
			return err
		}
		if class != nil {
			err := s.classManager.AddClassAndExecutableUnsafe(ctx, ev.ClassHash, class.Version, class.Sierra)
			if err != nil {
				var dup *ErrDuplicateKey
				if !isDuplicateKey(err, &dup) {
					txn.Rollback()
					return &ErrCentralSource{Err: err}
				}
			}
		}
	}

	if s.cfg.StoreSierrasAndCasms {
		txn.QueueCasm(ev.Number, ev.Casm.CompiledClassHash, ev.Casm.Bytecode)
	}

	classMarker, err := txn.GetMarker(common.MarkerCompiledClass)
	if err == nil && classMarker == ev.Number {
		if err := txn.AdvanceMarker(common.MarkerCompiledClass, ev.Number+1); err != nil {
			txn.Rollback()
			return err
		}
	}
	return txn.Commit()
}

func isDuplicateKey(err error, target **ErrDuplicateKey) bool {
	d, ok := err.(*ErrDuplicateKey)
	if ok {
		*target = d
	}
	return ok
}

func (s *Sync) storeBaseLayerBlock(ctx context.Context, ev NewBaseLayerBlock) error {
	ro, err := s.env.BeginROTxn()
	if err != nil {
		return err
	}
	header, err := ro.GetHeader(ev.Number)
	ro.Release()
	if err != nil {
		return err
	}
	if header == nil {
		return &storage.ErrBaseLayerBlockWithoutMatchingHeader{BlockNumber: ev.Number}
	}
	if header.BlockHash != ev.Hash {
		return &storage.ErrBaseLayerHashMismatch{BlockNumber: ev.Number, Expected: ev.Hash, Stored: header.BlockHash}
	}

	txn := s.env.BeginRWTxn()
	marker, err := txn.GetMarker(common.MarkerBaseLayerBlock)
	if err != nil {
		txn.Rollback()
		return err
	}
	if marker != ev.Number {
		txn.Rollback()
		return nil
	}
	if err := txn.AdvanceMarker(common.MarkerBaseLayerBlock, ev.Number+1); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}
