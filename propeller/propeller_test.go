// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package propeller

import (
	crand "crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestShardRoundTrip(t *testing.T) {
	params := ChannelParams{DataShards: 4, CodingShards: 2, Pad: true}
	msg := []byte("hello world")

	shards, err := encodeShards(params, msg)
	require.NoError(t, err)
	require.Len(t, shards, 6)

	root, proofs := buildMerkleTree(shards)
	for i, s := range shards {
		require.True(t, verifyMerkleProof(s, proofs[i], root), "shard %d proof", i)
	}

	// drop two shards, reconstruct from the remaining four.
	partial := make([][]byte, 6)
	copy(partial, shards)
	partial[0] = nil
	partial[4] = nil

	decoded, full, err := reconstruct(params, partial)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
	recomputedRoot, _ := buildMerkleTree(full)
	require.Equal(t, root, recomputedRoot)
}

func TestMerkleProofRejectsTamperedShard(t *testing.T) {
	shards := [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc"), []byte("dddd")}
	root, proofs := buildMerkleTree(shards)
	require.True(t, verifyMerkleProof(shards[2], proofs[2], root))

	tampered := append([]byte{}, shards[2]...)
	tampered[0] ^= 0xFF
	require.False(t, verifyMerkleProof(tampered, proofs[2], root))
}

// memTransport wires peers together for an in-process end-to-end test.
type memTransport struct {
	behaviours map[peer.ID]*Behaviour
}

func (m *memTransport) Send(to peer.ID, u PropellerUnit) error {
	b, ok := m.behaviours[to]
	if !ok {
		return nil
	}
	go b.HandleUnit(u)
	return nil
}

func genPeer(t *testing.T) (peer.ID, crypto.PrivKey, crypto.PubKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateEd25519Key(crand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)
	return id, priv, pub
}

func TestBroadcastDeliversMessageExactlyOnce(t *testing.T) {
	// D=4, C=2: six distinct receiver peers so the publisher's first
	// broadcast directly covers every shard index once, §4.4 "sends
	// shard i to exactly one peer — the peer the tree assigns to
	// ShardIndex(i)". The publisher itself is not a registered peer of
	// the channel (it only sends, never needs to decode its own echo).
	params := ChannelParams{DataShards: 4, CodingShards: 2, Pad: true}
	const channel ChannelID = "test-channel"

	pubID, pubPriv, pubPub := genPeer(t)
	type node struct {
		id  peer.ID
		pub crypto.PubKey
	}
	nodes := make([]node, 6)
	peers := make(map[peer.ID]int)
	for i := range nodes {
		id, _, pub := genPeer(t)
		nodes[i] = node{id: id, pub: pub}
		peers[id] = 10 - i
	}

	transport := &memTransport{behaviours: make(map[peer.ID]*Behaviour)}

	registerKeys := func(b *Behaviour) {
		b.SetPeerPublicKey(pubID, pubPub)
		for _, n := range nodes {
			b.SetPeerPublicKey(n.id, n.pub)
		}
	}

	publisher := NewBehaviour(Config{SelfID: pubID, PrivKey: pubPriv, Transport: transport, FinalizedTTL: time.Minute})
	publisher.RegisterChannel(channel, params, peers)
	registerKeys(publisher)
	transport.behaviours[pubID] = publisher

	receivers := make([]*Behaviour, len(nodes))
	for i, n := range nodes {
		b := NewBehaviour(Config{SelfID: n.id, Transport: transport, FinalizedTTL: time.Minute})
		b.RegisterChannel(channel, params, peers)
		registerKeys(b)
		transport.behaviours[n.id] = b
		receivers[i] = b
	}

	res := <-publisher.Broadcast(channel, []byte("hello world"))
	require.NoError(t, res.Err)

	for _, recv := range receivers {
		select {
		case ev := <-recv.Events():
			mr, ok := ev.(MessageReceived)
			require.True(t, ok, "expected MessageReceived, got %T", ev)
			require.Equal(t, "hello world", string(mr.Message))
			require.Equal(t, res.Root, mr.MessageRoot)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for MessageReceived")
		}
		// exactly one MessageReceived per (publisher, root): no second
		// event should arrive.
		select {
		case ev := <-recv.Events():
			t.Fatalf("unexpected second event: %#v", ev)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestHandleUnitRejectsBadMerkleProof(t *testing.T) {
	params := ChannelParams{DataShards: 4, CodingShards: 2, Pad: true}
	const channel ChannelID = "test-channel"

	pubID, pubPriv, pubPub := genPeer(t)
	recvID, _, _ := genPeer(t)

	transport := &memTransport{behaviours: make(map[peer.ID]*Behaviour)}
	recv := NewBehaviour(Config{SelfID: recvID, Transport: transport})
	recv.RegisterChannel(channel, params, map[peer.ID]int{pubID: 1, recvID: 1})
	recv.SetPeerPublicKey(pubID, pubPub)
	transport.behaviours[recvID] = recv

	shards, err := encodeShards(params, []byte("hello world"))
	require.NoError(t, err)
	root, proofs := buildMerkleTree(shards)
	sig, err := pubPriv.Sign(root[:])
	require.NoError(t, err)

	bad := proofs[0]
	bad.Siblings[0][0] ^= 0xFF
	recv.HandleUnit(PropellerUnit{
		Channel: channel, Publisher: pubID, MessageRoot: root,
		ShardIndex: 0, ShardBytes: shards[0], MerkleProof: bad, Signature: sig,
	})

	select {
	case ev := <-recv.Events():
		failed, ok := ev.(ShardValidationFailed)
		require.True(t, ok, "expected ShardValidationFailed, got %T", ev)
		require.Equal(t, ErrBadMerkleProof, failed.Reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ShardValidationFailed")
	}
}

func TestRegisterChannelPeersKeepsPreviousSnapshotForInFlightProcessor(t *testing.T) {
	params := ChannelParams{DataShards: 2, CodingShards: 1, Pad: true}
	aID, _, _ := genPeer(t)
	bID, _, _ := genPeer(t)
	cID, _, _ := genPeer(t)

	cs := newChannelState(params)
	cs.registerPeers(map[peer.ID]int{aID: 1, bID: 1})
	oldTree := cs.currentTree()

	cs.registerPeers(map[peer.ID]int{aID: 1, bID: 1, cID: 1})
	newTree := cs.currentTree()

	require.NotSame(t, oldTree, newTree)
	require.Len(t, oldTree.peers(), 2)
	require.Len(t, newTree.peers(), 3)
}
