package centralsync

import (
	"context"
	"time"

	"github.com/apollo-node/sequencer/common"
)

// send pushes ev onto out, honoring cancellation — every stream uses this
// so a cancelled sync never deadlocks on a full buffer.
func send(ctx context.Context, out chan<- SyncEvent, ev SyncEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// blockStream implements §4.2 stream 1.
func (s *Sync) blockStream(ctx context.Context, out chan<- SyncEvent) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ro, err := s.env.BeginROTxn()
		if err != nil {
			return err
		}
		headerMarker, err := ro.GetMarker(common.MarkerHeader)
		stateMarker, _ := ro.GetMarker(common.MarkerState)
		ro.Release()
		if err != nil {
			return err
		}

		centralMarker, ok, err := s.source.LatestBlockNumber(ctx)
		if err != nil {
			return &ErrCentralSource{Err: err}
		}
		if !ok || headerMarker >= centralMarker {
			if s.cfg.CollectPendingData && stateMarker == headerMarker {
				if s.pending != nil {
					if err := s.pending.PollPendingData(ctx); err != nil {
						return &ErrPendingSource{Err: err}
					}
				}
				if err := sleep(ctx, s.cfg.PendingSleepDuration); err != nil {
					return err
				}
			} else if err := sleep(ctx, s.cfg.BlockPropagationSleep); err != nil {
				return err
			}
			continue
		}

		upTo := headerMarker + common.BlockNumber(s.cfg.BlocksMaxStreamSize)
		if upTo > centralMarker {
			upTo = centralMarker
		}
		for n := headerMarker; n < upTo; n++ {
			header, body, sig, err := s.source.GetBlock(ctx, n)
			if err != nil {
				return &ErrCentralSource{Err: err}
			}
			if err := send(ctx, out, BlockAvailable{Number: n, Header: header, Body: body, Signature: sig}); err != nil {
				return err
			}
		}
	}
}

// stateDiffStream implements §4.2 stream 2, symmetric to the block stream
// but bounded by the header marker rather than the central source.
func (s *Sync) stateDiffStream(ctx context.Context, out chan<- SyncEvent) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ro, err := s.env.BeginROTxn()
		if err != nil {
			return err
		}
		headerMarker, err := ro.GetMarker(common.MarkerHeader)
		stateMarker, _ := ro.GetMarker(common.MarkerState)
		ro.Release()
		if err != nil {
			return err
		}

		if stateMarker >= headerMarker {
			if err := sleep(ctx, s.cfg.BlockPropagationSleep); err != nil {
				return err
			}
			continue
		}

		upTo := stateMarker + common.BlockNumber(s.cfg.BlocksMaxStreamSize)
		if upTo > headerMarker {
			upTo = headerMarker
		}
		for n := stateMarker; n < upTo; n++ {
			diff, deployed, deprecated, err := s.source.GetStateDiff(ctx, n)
			if err != nil {
				return &ErrCentralSource{Err: err}
			}
			ev := StateDiffAvailable{Number: n, Diff: diff, DeployedClassDefs: deployed, DeprecatedClassDefs: deprecated}
			if err := send(ctx, out, ev); err != nil {
				return err
			}
		}
	}
}

// compiledClassStream implements §4.2 stream 3: walks the classes
// declared by state diffs between the Class and State markers, requesting
// each compiled class from the source. The backward-compatible clamp
// (homogeneous-per-stream, suspend when classes are no longer needed) is
// decided once per iteration from the current CompiledClass marker.
func (s *Sync) compiledClassStream(ctx context.Context, out chan<- SyncEvent) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ro, err := s.env.BeginROTxn()
		if err != nil {
			return err
		}
		classMarker, err := ro.GetMarker(common.MarkerClass)
		stateMarker, _ := ro.GetMarker(common.MarkerState)

		if err != nil {
			ro.Release()
			return err
		}

		backwardCompatible := classMarker >= s.backwardCompatMarker()
		if backwardCompatible && !s.cfg.StoreSierrasAndCasms {
			ro.Release()
			if err := sleep(ctx, s.cfg.BlockPropagationSleep); err != nil {
				return err
			}
			continue
		}

		if classMarker >= stateMarker {
			ro.Release()
			if err := sleep(ctx, s.cfg.BlockPropagationSleep); err != nil {
				return err
			}
			continue
		}

		var hashesThisBlock []common.ClassHash
		diff, diffErr := ro.GetStateDiff(classMarker)
		ro.Release()
		if diffErr != nil {
			return diffErr
		}
		if diff != nil {
			for _, dc := range diff.DeclaredClasses {
				hashesThisBlock = append(hashesThisBlock, dc.ClassHash)
			}
		}
		for _, h := range hashesThisBlock {
			casm, isBC, err := s.source.GetCompiledClass(ctx, h)
			if err != nil {
				return &ErrCentralSource{Err: err}
			}
			ev := CompiledClassAvailable{ClassHash: h, Casm: casm, IsBackwardCompat: isBC, Number: classMarker}
			if err := send(ctx, out, ev); err != nil {
				return err
			}
		}
		if len(hashesThisBlock) == 0 {
			if err := send(ctx, out, CompiledClassAvailable{Number: classMarker, IsBackwardCompat: backwardCompatible}); err != nil {
				return err
			}
		}
	}
}

// backwardCompatMarker reads the CompilerBackwardCompatibility marker.
func (s *Sync) backwardCompatMarker() common.BlockNumber {
	ro, err := s.env.BeginROTxn()
	if err != nil {
		return 0
	}
	defer ro.Release()
	m, _ := ro.GetMarker(common.MarkerCompilerBackwardCompatibility)
	return m
}

// baseLayerStream implements §4.2 stream 4.
func (s *Sync) baseLayerStream(ctx context.Context, out chan<- SyncEvent) error {
	for {
		if err := sleep(ctx, s.cfg.BaseLayerPropagationSleep); err != nil {
			return err
		}
		n, hash, ok, err := s.base.LatestProvedBlock(ctx)
		if err != nil {
			return &ErrBaseLayerSource{Err: err}
		}
		if !ok {
			continue
		}
		ro, err := s.env.BeginROTxn()
		if err != nil {
			return err
		}
		headerMarker, err := ro.GetMarker(common.MarkerHeader)
		ro.Release()
		if err != nil {
			return err
		}
		if n <= headerMarker {
			if err := send(ctx, out, NewBaseLayerBlock{Number: n, Hash: hash}); err != nil {
				return err
			}
		}
	}
}

// watchdogStream implements §4.2 stream 5.
func (s *Sync) watchdogStream(ctx context.Context, out chan<- SyncEvent) error {
	var lastHeader, lastState, lastClass, lastCasm common.BlockNumber
	first := true
	for {
		if err := sleep(ctx, s.cfg.ProgressCheckInterval); err != nil {
			return err
		}
		ro, err := s.env.BeginROTxn()
		if err != nil {
			return err
		}
		header, _ := ro.GetMarker(common.MarkerHeader)
		state, _ := ro.GetMarker(common.MarkerState)
		class, _ := ro.GetMarker(common.MarkerClass)
		casm, _ := ro.GetMarker(common.MarkerCompiledClass)
		backwardCompat, _ := ro.GetMarker(common.MarkerCompilerBackwardCompatibility)
		ro.Release()

		if !first {
			progressed := header != lastHeader || state != lastState || class != lastClass
			casmMatters := casm < backwardCompat || s.cfg.StoreSierrasAndCasms
			casmProgressed := !casmMatters || casm != lastCasm
			if !progressed && !casmProgressed {
				if err := send(ctx, out, NoProgress{}); err != nil {
					return err
				}
			}
		}
		first = false
		lastHeader, lastState, lastClass, lastCasm = header, state, class, casm
	}
}
