// Copyright 2016 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merkle

import (
	"fmt"
	"sort"

	"github.com/verifidb/verifidb/digest"
)

// proofKey identifies one sibling subtree needed to recompute a root: the
// subtree rooted at tree-depth depth whose path-from-root bits are
// prefix[0:depth]. It depends only on the set of keys a proof was
// requested for, never on the tree's actual contents, which is what lets
// Prove (which has the tree) and ComputeRoot (which doesn't) agree on
// exactly which siblings are required.
type proofKey struct {
	depth  int
	prefix [digest.Size]byte
}

// siblingKey builds the proofKey for the sibling of the subtree
// containing oppositeSideKey's path, at the branch taken at tree-depth
// depth, where the sibling itself branches with siblingBit.
func siblingKey(oppositeSideKey digest.D, depth, siblingBit int) proofKey {
	var prefix [digest.Size]byte
	copy(prefix[:], oppositeSideKey[:])
	zeroBitsFrom(&prefix, depth)
	setBit(&prefix, depth, siblingBit)
	return proofKey{depth: depth + 1, prefix: prefix}
}

func zeroBitsFrom(b *[digest.Size]byte, bit int) {
	byteIdx := bit / 8
	bitIdx := uint(bit % 8)
	if bitIdx != 0 {
		mask := byte(0xFF) << (8 - bitIdx)
		b[byteIdx] &= mask
		byteIdx++
	}
	for ; byteIdx < digest.Size; byteIdx++ {
		b[byteIdx] = 0
	}
}

func setBit(b *[digest.Size]byte, bit, val int) {
	byteIdx := bit / 8
	bitIdx := uint(7 - bit%8)
	if val == 0 {
		b[byteIdx] &^= 1 << bitIdx
	} else {
		b[byteIdx] |= 1 << bitIdx
	}
}

// Proof is a compact multi-leaf Sparse Merkle Tree proof: the minimal set
// of sibling hashes needed to recompute the root for a specific set of
// keys, from any candidate set of values for those keys.
type Proof struct {
	siblings map[proofKey]digest.D
}

// NumSiblings returns how many distinct sibling hashes the proof carries,
// mostly useful for logging/metrics.
func (p *Proof) NumSiblings() int {
	if p == nil {
		return 0
	}
	return len(p.siblings)
}

// Encode renders the proof as a sequence of (depth, prefix, hash)
// entries sorted by (depth, prefix) for a canonical, reproducible wire
// encoding.
func (p *Proof) Encode() []ProofEntry {
	entries := make([]ProofEntry, 0, len(p.siblings))
	for k, v := range p.siblings {
		entries = append(entries, ProofEntry{Depth: k.depth, Prefix: k.prefix, Hash: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Depth != entries[j].Depth {
			return entries[i].Depth < entries[j].Depth
		}
		for b := 0; b < digest.Size; b++ {
			if entries[i].Prefix[b] != entries[j].Prefix[b] {
				return entries[i].Prefix[b] < entries[j].Prefix[b]
			}
		}
		return false
	})
	return entries
}

// ProofEntry is one sibling-hash entry of an encoded Proof.
type ProofEntry struct {
	Depth  int
	Prefix [digest.Size]byte
	Hash   digest.D
}

// DecodeProof rebuilds a Proof from its wire entries.
func DecodeProof(entries []ProofEntry) (*Proof, error) {
	p := &Proof{siblings: make(map[proofKey]digest.D, len(entries))}
	for _, e := range entries {
		if e.Depth < 0 || e.Depth > Depth {
			return nil, fmt.Errorf("merkle: decode proof: invalid depth %d", e.Depth)
		}
		p.siblings[proofKey{depth: e.Depth, prefix: e.Prefix}] = e.Hash
	}
	return p, nil
}
