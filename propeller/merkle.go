// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package propeller

import "crypto/sha256"

// MerkleProof is the authentication path from one leaf shard to the root:
// one sibling hash per level at which the leaf's running hash is paired
// (a level where it is carried up unpaired adds none), ordered
// leaf-to-root. Hand-rolled:
// no pack repo or named ecosystem library implements a bare Merkle tree
// more simply than this, and the proof format must match our own
// leaf-hashing and sibling-ordering exactly — see DESIGN.md.
type MerkleProof struct {
	Siblings [][32]byte
	// LeftAt[i] is true when the leaf's running hash is the LEFT input to
	// Siblings[i]'s parent hash at that level.
	LeftAt []bool
}

func leafHash(shard []byte) [32]byte {
	return sha256.Sum256(append([]byte{0x00}, shard...))
}

func nodeHash(left, right [32]byte) [32]byte {
	buf := make([]byte, 0, 1+32+32)
	buf = append(buf, 0x01)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}

// buildMerkleTree hashes shards into leaves and returns the root plus the
// proof for every leaf index, level-by-level. The last node of an
// odd-sized level is carried up to the next level unchanged, not
// duplicated, and its leaves get no sibling for that level.
func buildMerkleTree(shards [][]byte) (root [32]byte, proofs []MerkleProof) {
	level := make([][32]byte, len(shards))
	for i, s := range shards {
		level[i] = leafHash(s)
	}
	proofs = make([]MerkleProof, len(shards))
	// track which original leaf index each position in the current level
	// descends from, fanned out as we climb; start 1:1.
	indices := make([][]int, len(level))
	for i := range indices {
		indices[i] = []int{i}
	}
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		nextIdx := make([][]int, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				// odd one out carries forward unchanged.
				next = append(next, level[i])
				nextIdx = append(nextIdx, indices[i])
				continue
			}
			l, r := level[i], level[i+1]
			parent := nodeHash(l, r)
			for _, leaf := range indices[i] {
				proofs[leaf].Siblings = append(proofs[leaf].Siblings, r)
				proofs[leaf].LeftAt = append(proofs[leaf].LeftAt, true)
			}
			for _, leaf := range indices[i+1] {
				proofs[leaf].Siblings = append(proofs[leaf].Siblings, l)
				proofs[leaf].LeftAt = append(proofs[leaf].LeftAt, false)
			}
			next = append(next, parent)
			nextIdx = append(nextIdx, append(append([]int{}, indices[i]...), indices[i+1]...))
		}
		level = next
		indices = nextIdx
	}
	if len(level) == 1 {
		root = level[0]
	}
	return root, proofs
}

// verifyMerkleProof recomputes the root from shard and its proof,
// returning whether it equals want.
func verifyMerkleProof(shard []byte, proof MerkleProof, want [32]byte) bool {
	h := leafHash(shard)
	for i, sib := range proof.Siblings {
		if proof.LeftAt[i] {
			h = nodeHash(h, sib)
		} else {
			h = nodeHash(sib, h)
		}
	}
	return h == want
}
