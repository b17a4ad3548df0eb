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
	"crypto/sha256"
	"testing"

	"github.com/verifidb/verifidb/digest"
)

func keyFor(s string) digest.D {
	return sha256.Sum256([]byte(s))
}

func TestEmptyTreeRootIsWellKnown(t *testing.T) {
	tr := New()
	if got, want := tr.Root(), EmptyHashAt(0); got != want {
		t.Errorf("empty tree root = %x, want %x", got, want)
	}
}

func TestUpdateThenProveRoundTrips(t *testing.T) {
	tr := New()
	k1, k2, k3 := keyFor("a"), keyFor("b"), keyFor("c")
	v1, v2, v3 := keyFor("v1"), keyFor("v2"), keyFor("v3")

	tr.UpdateBatch([]LeafUpdate{{Key: k1, Value: v1}, {Key: k2, Value: v2}, {Key: k3, Value: v3}})
	root := tr.Root()

	proof, err := tr.Prove([]digest.D{k1, k2, k3})
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	got, err := ComputeRoot(proof, []LeafUpdate{{Key: k1, Value: v1}, {Key: k2, Value: v2}, {Key: k3, Value: v3}})
	if err != nil {
		t.Fatalf("ComputeRoot: %v", err)
	}
	if got != root {
		t.Errorf("ComputeRoot(Prove(keys), current values) = %x, want %x", got, root)
	}
}

func TestProveSubsetStillVerifiesSingleKeyUpdate(t *testing.T) {
	tr := New()
	k1, k2 := keyFor("x"), keyFor("y")
	v1, v2 := keyFor("v1"), keyFor("v2")
	tr.UpdateBatch([]LeafUpdate{{Key: k1, Value: v1}, {Key: k2, Value: v2}})

	proof, err := tr.Prove([]digest.D{k1})
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	oldRoot, err := ComputeRoot(proof, []LeafUpdate{{Key: k1, Value: v1}})
	if err != nil {
		t.Fatalf("ComputeRoot(old): %v", err)
	}
	if oldRoot != tr.Root() {
		t.Fatalf("ComputeRoot with old value = %x, want current root %x", oldRoot, tr.Root())
	}

	v1New := keyFor("v1-new")
	newRoot, err := ComputeRoot(proof, []LeafUpdate{{Key: k1, Value: v1New}})
	if err != nil {
		t.Fatalf("ComputeRoot(new): %v", err)
	}
	tr.Update(k1, v1New)
	if newRoot != tr.Root() {
		t.Errorf("ComputeRoot with new value = %x, want post-update root %x", newRoot, tr.Root())
	}
}

func TestDeleteLeafReturnsToEmptySubtree(t *testing.T) {
	tr := New()
	k := keyFor("solo")
	v := keyFor("value")
	tr.Update(k, v)
	if tr.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", tr.Size())
	}
	tr.Update(k, digest.Zero)
	if tr.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", tr.Size())
	}
	if got, want := tr.Root(), EmptyHashAt(0); got != want {
		t.Errorf("root after delete = %x, want empty root %x", got, want)
	}
}

func TestComputeRootDeterministicAcrossInsertionOrder(t *testing.T) {
	keys := []digest.D{keyFor("1"), keyFor("2"), keyFor("3"), keyFor("4")}
	vals := []digest.D{keyFor("v1"), keyFor("v2"), keyFor("v3"), keyFor("v4")}

	forward := New()
	for i := range keys {
		forward.Update(keys[i], vals[i])
	}

	backward := New()
	for i := len(keys) - 1; i >= 0; i-- {
		backward.Update(keys[i], vals[i])
	}

	if forward.Root() != backward.Root() {
		t.Errorf("root depends on insertion order: %x vs %x", forward.Root(), backward.Root())
	}
}

func TestLeavesReturnsAscendingKeyOrder(t *testing.T) {
	tr := New()
	k1, k2, k3 := keyFor("a"), keyFor("b"), keyFor("c")
	v1, v2, v3 := keyFor("v1"), keyFor("v2"), keyFor("v3")
	// Inserted out of key order; Leaves must still come back sorted.
	tr.UpdateBatch([]LeafUpdate{{Key: k3, Value: v3}, {Key: k1, Value: v1}, {Key: k2, Value: v2}})

	leaves := tr.Leaves()
	if len(leaves) != 3 {
		t.Fatalf("Leaves() returned %d entries, want 3", len(leaves))
	}
	for i := 1; i < len(leaves); i++ {
		if bytesCompare(leaves[i-1].Key, leaves[i].Key) >= 0 {
			t.Errorf("Leaves()[%d].Key >= Leaves()[%d].Key, not ascending", i-1, i)
		}
	}

	tr.Update(k2, digest.Zero)
	leaves = tr.Leaves()
	if len(leaves) != 2 {
		t.Errorf("Leaves() after delete returned %d entries, want 2", len(leaves))
	}
	for _, l := range leaves {
		if l.Key == k2 {
			t.Error("deleted key still present in Leaves()")
		}
	}
}

func bytesCompare(a, b digest.D) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func TestComputeRootRejectsConflictingValuesForSameKey(t *testing.T) {
	k := keyFor("dup")
	_, err := ComputeRoot(&Proof{siblings: map[proofKey]digest.D{}}, []LeafUpdate{
		{Key: k, Value: keyFor("v1")},
		{Key: k, Value: keyFor("v2")},
	})
	if err == nil {
		t.Fatal("expected error for conflicting duplicate-key values")
	}
}
