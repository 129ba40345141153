// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package propeller

import "github.com/libp2p/go-libp2p/core/peer"

// Event is the tagged union of outcomes a processor reports back to the
// Behaviour, the same closed-interface idiom as centralsync.SyncEvent.
type Event interface {
	isPropellerEvent()
}

// MessageReceived is emitted at most once per (Publisher, MessageRoot),
// §5 "Ordering guarantees".
type MessageReceived struct {
	Channel     ChannelID
	Publisher   peer.ID
	MessageRoot MessageRoot
	Message     []byte
}

// ShardValidationFailed is emitted for a shard that fails registration,
// publisher-key, signature or Merkle-proof checks, §4.4 step 2.
type ShardValidationFailed struct {
	Channel     ChannelID
	Publisher   peer.ID
	MessageRoot MessageRoot
	ShardIndex  ShardIndex
	Reason      error
}

// ReconstructionFailed is emitted when enough shards arrived to attempt a
// rebuild but the recomputed root or shard lengths disagree, §4.4 step 3.
type ReconstructionFailed struct {
	Channel     ChannelID
	Publisher   peer.ID
	MessageRoot MessageRoot
	Reason      error
}

func (MessageReceived) isPropellerEvent()       {}
func (ShardValidationFailed) isPropellerEvent() {}
func (ReconstructionFailed) isPropellerEvent()  {}
