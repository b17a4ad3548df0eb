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
	"golang.org/x/crypto/blake2b"

	"github.com/verifidb/verifidb/digest"
)

// Depth is the fixed depth of the sparse Merkle tree: one level per bit of
// a 32-byte key.
const Depth = digest.Size * 8

// hashChildren combines a left and right child hash into their parent's
// hash using Blake2b-256, per spec §4.3.
func hashChildren(left, right digest.D) digest.D {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on a bad key, and we never pass one.
		panic(err)
	}
	h.Write(left[:])
	h.Write(right[:])
	var out digest.D
	copy(out[:], h.Sum(nil))
	return out
}

// emptyHashes[d] is the root hash of a perfectly empty subtree of depth
// (Depth-d), i.e. the hash you'd get from a subtree at tree-depth d all of
// whose leaves are digest.Zero. emptyHashes[Depth] is digest.Zero itself.
var emptyHashes = computeEmptyHashes()

func computeEmptyHashes() []digest.D {
	out := make([]digest.D, Depth+1)
	out[Depth] = digest.Zero
	for d := Depth - 1; d >= 0; d-- {
		out[d] = hashChildren(out[d+1], out[d+1])
	}
	return out
}

// EmptyHashAt returns the well-known hash of a fully-empty subtree rooted
// at tree-depth d (0 is the root, Depth is a leaf).
func EmptyHashAt(d int) digest.D {
	return emptyHashes[d]
}
