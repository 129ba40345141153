// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package propeller

import (
	"encoding/binary"

	"github.com/klauspost/reedsolomon"
)

// ChannelParams fixes a channel's erasure-coding shape, §3 "per channel".
type ChannelParams struct {
	DataShards   int // D
	CodingShards int // C
	Pad          bool
	Authenticity MessageAuthenticity
}

func (p ChannelParams) Total() int { return p.DataShards + p.CodingShards }

// padMessage prefixes msg with its 4-byte little-endian length and
// right-pads with zeros to the smallest multiple of 2*D that
// accommodates len(msg)+4, §4.4 "Encoding".
func padMessage(msg []byte, dataShards int) []byte {
	unit := 2 * dataShards
	if unit <= 0 {
		unit = 1
	}
	need := len(msg) + 4
	total := ((need + unit - 1) / unit) * unit
	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out[:4], uint32(len(msg)))
	copy(out[4:], msg)
	return out
}

// unpadMessage reverses padMessage using the length prefix.
func unpadMessage(padded []byte) ([]byte, error) {
	if len(padded) < 4 {
		return nil, ErrUnequalShardLengths
	}
	n := binary.LittleEndian.Uint32(padded[:4])
	if int(n)+4 > len(padded) {
		return nil, ErrUnequalShardLengths
	}
	return padded[4 : 4+n], nil
}

// encodeShards splits msg (padded per params.Pad) into D data shards and
// computes C coding shards via Reed-Solomon, returning all D+C shards in
// index order.
func encodeShards(params ChannelParams, msg []byte) ([][]byte, error) {
	enc, err := reedsolomon.New(params.DataShards, params.CodingShards)
	if err != nil {
		return nil, err
	}
	payload := msg
	if params.Pad {
		payload = padMessage(msg, params.DataShards)
	} else {
		// reedsolomon.Split requires an exact multiple of DataShards;
		// zero-pad without a length prefix when padding is disabled.
		if rem := len(payload) % params.DataShards; rem != 0 {
			payload = append(append([]byte{}, payload...), make([]byte, params.DataShards-rem)...)
		}
	}
	dataShards, err := enc.Split(payload)
	if err != nil {
		return nil, err
	}
	shards := make([][]byte, params.Total())
	copy(shards, dataShards)
	for i := params.DataShards; i < params.Total(); i++ {
		shards[i] = make([]byte, len(dataShards[0]))
	}
	if err := enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// reconstruct fills in any nil entries of shards (len == D+C, missing
// slots nil) via Reed-Solomon and returns the decoded message plus the
// canonical (now-complete) shard set. When params.Pad, the 4-byte
// length-prefix scheme is reversed; otherwise the full concatenated data
// shards are returned unmodified (the caller's payload was already
// shard-aligned at encode time).
func reconstruct(params ChannelParams, shards [][]byte) ([]byte, [][]byte, error) {
	enc, err := reedsolomon.New(params.DataShards, params.CodingShards)
	if err != nil {
		return nil, nil, err
	}
	work := make([][]byte, len(shards))
	copy(work, shards)
	if err := enc.Reconstruct(work); err != nil {
		return nil, nil, err
	}
	var buf []byte
	for i := 0; i < params.DataShards; i++ {
		buf = append(buf, work[i]...)
	}
	msg := buf
	if params.Pad {
		msg, err = unpadMessage(buf)
		if err != nil {
			return nil, nil, err
		}
	}
	// regenerate coding shards from the (now complete) data shards to
	// recompute the root over a canonical shard set, §4.4 "rejects if the
	// recomputed root != claimed root".
	if err := enc.Encode(work); err != nil {
		return nil, nil, err
	}
	return msg, work, nil
}
