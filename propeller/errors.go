// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package propeller

import "errors"

// Validation and reconstruction failures, §4.4 / §7 "client-induced,
// surface to caller unchanged, never crash".
var (
	ErrChannelNotRegistered  = errors.New("propeller: channel not registered")
	ErrUnknownPublisher      = errors.New("propeller: publisher key does not match peer id")
	ErrBadSignature          = errors.New("propeller: signature verification failed")
	ErrBadMerkleProof        = errors.New("propeller: merkle proof does not verify")
	ErrMismatchedMessageRoot = errors.New("propeller: reconstructed root does not match claimed root")
	ErrUnequalShardLengths   = errors.New("propeller: shards have unequal lengths")
	ErrFinalized             = errors.New("propeller: message already finalized, shard dropped")
)
