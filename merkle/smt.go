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

// Package merkle implements an in-memory sparse Merkle tree (C3): a
// mapping from 32-byte keys to 32-byte values, of fixed depth 256, hashed
// with Blake2b-256. Only non-zero leaves are materialized; everything
// else is one of the precomputed "empty subtree" hashes (hasher.go).
//
// Unlike github.com/google/trillian/merkle's SparseMerkleTreeWriter, this
// tree is not sharded across goroutine workers: spec.md explicitly puts
// horizontal sharding of the SMT out of scope, and the single-writer
// discipline enforced by the root lock (commitment.Manager) means there
// is never more than one mutator in flight. What's kept from the teacher
// is the shape of the read/write API (Reader-ish Root/Prove, Writer-ish
// Update) and the "compact multi-leaf proof" idea referenced by
// storage/cache's import of merkle/compact in the teacher repo.
package merkle

import (
	"fmt"

	"github.com/verifidb/verifidb/digest"
)

// node is one internal or leaf node of the sparse tree. Only nodes on a
// path to a non-zero leaf are ever allocated.
type node struct {
	left, right *node
	leaf        bool
	value       digest.D // meaningful only if leaf
	hash        digest.D // cached subtree root hash
}

func hashOf(n *node, depth int) digest.D {
	if n == nil {
		return EmptyHashAt(depth)
	}
	return n.hash
}

// Tree is an in-memory sparse Merkle tree. The zero value is an empty
// tree. Tree is not safe for concurrent use; callers serialize access
// through the root lock (see commitment.Manager).
type Tree struct {
	root  *node
	count int // number of non-zero leaves currently held
	index *leafIndex
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{index: newLeafIndex()}
}

// Root returns the current root hash.
func (t *Tree) Root() digest.D {
	return hashOf(t.root, 0)
}

// Size returns the number of non-zero leaves in the tree.
func (t *Tree) Size() int {
	return t.count
}

// Update sets the leaf at key to value. A zero value deletes the leaf.
func (t *Tree) Update(key, value digest.D) {
	t.UpdateBatch([]LeafUpdate{{Key: key, Value: value}})
}

// UpdateBatch applies a batch of leaf updates and returns the resulting
// root. This is the entry point C5 and C7 use; it keeps leaf-count
// bookkeeping exact regardless of how many of the updates are creates,
// updates, or deletes.
func (t *Tree) UpdateBatch(leaves []LeafUpdate) digest.D {
	if t.index == nil {
		t.index = newLeafIndex()
	}
	for _, l := range leaves {
		existed := t.Get(l.Key) != digest.Zero
		t.root = updateNode(t.root, 0, l.Key, l.Value)
		nowExists := l.Value != digest.Zero
		switch {
		case !existed && nowExists:
			t.count++
			t.index.set(l.Key, l.Value)
		case existed && !nowExists:
			t.count--
			t.index.delete(l.Key)
		case existed && nowExists:
			t.index.set(l.Key, l.Value)
		}
	}
	return t.Root()
}

// Leaves returns every non-zero leaf currently held, ordered by key
// bytes ascending - the same left-to-right order Prove walks the tree
// in. Backed by an ordered btree index maintained alongside the node
// tree, so it costs no depth-256 walk.
func (t *Tree) Leaves() []LeafUpdate {
	if t.index == nil {
		return nil
	}
	out := make([]LeafUpdate, 0, t.index.len())
	t.index.ascend(func(key, value digest.D) {
		out = append(out, LeafUpdate{Key: key, Value: value})
	})
	return out
}

// Get returns the current leaf value at key, or digest.Zero if absent.
func (t *Tree) Get(key digest.D) digest.D {
	n := t.root
	for depth := 0; depth < Depth; depth++ {
		if n == nil {
			return digest.Zero
		}
		if key.Bit(depth) == 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	if n == nil {
		return digest.Zero
	}
	return n.value
}

func updateNode(n *node, depth int, key, value digest.D) *node {
	if depth == Depth {
		if value.IsZero() {
			return nil
		}
		return &node{leaf: true, value: value, hash: value}
	}
	var left, right *node
	if n != nil {
		left, right = n.left, n.right
	}
	if key.Bit(depth) == 0 {
		left = updateNode(left, depth+1, key, value)
	} else {
		right = updateNode(right, depth+1, key, value)
	}
	if left == nil && right == nil {
		return nil
	}
	return &node{
		left:  left,
		right: right,
		hash:  hashChildren(hashOf(left, depth+1), hashOf(right, depth+1)),
	}
}

// LeafUpdate is a single (key, value) pair used both for tree mutation
// and for the pure root-recomputation in ComputeRoot.
type LeafUpdate struct {
	Key   digest.D
	Value digest.D
}

// Prove returns a compact multi-leaf proof: the union of siblings along
// the root-to-leaf paths of every key in keys, deduplicated wherever two
// requested paths share a prefix.
func (t *Tree) Prove(keys []digest.D) (*Proof, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("merkle: prove: empty key set")
	}
	p := &Proof{siblings: make(map[proofKey]digest.D)}
	t.proveRec(t.root, 0, dedupeKeys(keys), p)
	return p, nil
}

func (t *Tree) proveRec(n *node, depth int, keys []digest.D, p *Proof) {
	if depth == Depth || len(keys) == 0 {
		return
	}
	left, right := partition(keys, depth)
	var leftNode, rightNode *node
	if n != nil {
		leftNode, rightNode = n.left, n.right
	}
	switch {
	case len(left) > 0 && len(right) > 0:
		t.proveRec(leftNode, depth+1, left, p)
		t.proveRec(rightNode, depth+1, right, p)
	case len(left) > 0:
		p.siblings[siblingKey(left[0], depth, 1)] = hashOf(rightNode, depth+1)
		t.proveRec(leftNode, depth+1, left, p)
	default:
		p.siblings[siblingKey(right[0], depth, 0)] = hashOf(leftNode, depth+1)
		t.proveRec(rightNode, depth+1, right, p)
	}
}

// ComputeRoot is the pure recomputation half of C3/C4: given a proof and
// a candidate set of leaf values, it recomputes the root those leaves
// would produce, without touching the live tree. It is the function both
// the write engine (to compute proposed_root) and the proof verifier
// (twice, for the old and new leaf sets) call.
func ComputeRoot(proof *Proof, leaves []LeafUpdate) (digest.D, error) {
	if len(leaves) == 0 {
		return digest.D{}, fmt.Errorf("merkle: compute_root: empty leaf set")
	}
	valueOf := make(map[digest.D]digest.D, len(leaves))
	keys := make([]digest.D, 0, len(leaves))
	for _, l := range leaves {
		if existing, ok := valueOf[l.Key]; ok {
			if existing != l.Value {
				return digest.D{}, fmt.Errorf("merkle: compute_root: conflicting values for key %x", l.Key)
			}
			continue
		}
		valueOf[l.Key] = l.Value
		keys = append(keys, l.Key)
	}
	return computeRec(proof, 0, keys, valueOf)
}

func computeRec(proof *Proof, depth int, keys []digest.D, valueOf map[digest.D]digest.D) (digest.D, error) {
	if depth == Depth {
		if len(keys) != 1 {
			return digest.D{}, fmt.Errorf("merkle: compute_root: %d keys collapsed to one leaf, want 1", len(keys))
		}
		return valueOf[keys[0]], nil
	}
	left, right := partition(keys, depth)
	switch {
	case len(left) > 0 && len(right) > 0:
		lh, err := computeRec(proof, depth+1, left, valueOf)
		if err != nil {
			return digest.D{}, err
		}
		rh, err := computeRec(proof, depth+1, right, valueOf)
		if err != nil {
			return digest.D{}, err
		}
		return hashChildren(lh, rh), nil
	case len(left) > 0:
		sib, ok := proof.siblings[siblingKey(left[0], depth, 1)]
		if !ok {
			sib = EmptyHashAt(depth + 1)
		}
		lh, err := computeRec(proof, depth+1, left, valueOf)
		if err != nil {
			return digest.D{}, err
		}
		return hashChildren(lh, sib), nil
	default:
		sib, ok := proof.siblings[siblingKey(right[0], depth, 0)]
		if !ok {
			sib = EmptyHashAt(depth + 1)
		}
		rh, err := computeRec(proof, depth+1, right, valueOf)
		if err != nil {
			return digest.D{}, err
		}
		return hashChildren(sib, rh), nil
	}
}

// partition splits keys (assumed pre-sorted/deduped is not required) into
// those whose bit at depth is 0 and those whose bit is 1, preserving
// relative order.
func partition(keys []digest.D, depth int) (left, right []digest.D) {
	for _, k := range keys {
		if k.Bit(depth) == 0 {
			left = append(left, k)
		} else {
			right = append(right, k)
		}
	}
	return left, right
}

func dedupeKeys(keys []digest.D) []digest.D {
	seen := make(map[digest.D]bool, len(keys))
	out := make([]digest.D, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
