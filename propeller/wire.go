// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package propeller implements the libp2p-based erasure-coded multicast
// protocol of §4.4: a publisher Reed-Solomon-encodes a message into
// D-data/C-coding shards, commits to them with a Merkle tree, and sends
// each shard once to the peer a weighted dissemination tree assigns it;
// receivers reconstruct, rebroadcast their own shard, and emit the decoded
// message exactly once. Enriched from AKJUS-bsc-erigon's go.mod
// (github.com/libp2p/go-libp2p) combined with the teacher's
// networks/p2p/discover peer-table idiom for the tree's bookkeeping — see
// DESIGN.md.
package propeller

import (
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ChannelID names one dissemination channel, e.g. "consensus" or
// "mempool_tx". Each channel has its own weighted peer set and tree.
type ChannelID string

// MessageRoot is the Merkle root committing to all D+C shards of one
// message, content-addressing the message the way a tx_hash
// content-addresses a transaction.
type MessageRoot [32]byte

// ShardIndex identifies one of the D+C shards of an encoded message.
type ShardIndex int

// MessageAuthenticity selects whether units carry a signature over the
// message root, §4.4 "Encoding".
type MessageAuthenticity int

const (
	AuthenticitySigned MessageAuthenticity = iota
	AuthenticityAnonymous
)

// PropellerUnit is the unit of network transfer: one shard plus enough
// metadata for a receiver to validate and place it, §3 "Propeller state".
type PropellerUnit struct {
	Channel     ChannelID
	Publisher   peer.ID
	MessageRoot MessageRoot
	Signature   []byte // over MessageRoot, absent when AuthenticityAnonymous
	ShardIndex  ShardIndex
	ShardBytes  []byte
	MerkleProof MerkleProof
}

// signRoot signs root with priv under AuthenticitySigned, nil otherwise.
func signRoot(priv crypto.PrivKey, mode MessageAuthenticity, root MessageRoot) ([]byte, error) {
	if mode != AuthenticitySigned {
		return nil, nil
	}
	return priv.Sign(root[:])
}

// verifyRootSignature checks u's signature against pub under
// AuthenticitySigned; AuthenticityAnonymous units are always accepted.
func verifyRootSignature(pub crypto.PubKey, mode MessageAuthenticity, root MessageRoot, sig []byte) error {
	if mode != AuthenticitySigned {
		return nil
	}
	ok, err := pub.Verify(root[:], sig)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}
