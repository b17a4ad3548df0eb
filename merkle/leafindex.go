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
	"bytes"

	"github.com/google/btree"

	"github.com/verifidb/verifidb/digest"
)

// leafItem is a btree.Item ordering leaves by key bytes, the same
// left-to-right order Prove/ComputeRoot walk the tree in.
type leafItem struct {
	key   digest.D
	value digest.D
}

func (a leafItem) Less(than btree.Item) bool {
	b := than.(leafItem)
	return bytes.Compare(a.key[:], b.key[:]) < 0
}

// leafIndex is an ordered side index of every non-zero leaf currently
// in the tree, kept in lockstep with the node tree by UpdateBatch. The
// node tree itself has no cheap way to enumerate its leaves in order
// (that requires a full depth-256 walk); this index backs Tree.Leaves,
// which the startup rehydration diagnostic uses to list every leaf in
// deterministic left-to-right order without that walk. Prove does not
// consult it.
type leafIndex struct {
	tree *btree.BTree
}

func newLeafIndex() *leafIndex {
	return &leafIndex{tree: btree.New(32)}
}

func (idx *leafIndex) set(key, value digest.D) {
	idx.tree.ReplaceOrInsert(leafItem{key: key, value: value})
}

func (idx *leafIndex) delete(key digest.D) {
	idx.tree.Delete(leafItem{key: key})
}

func (idx *leafIndex) ascend(fn func(key, value digest.D)) {
	idx.tree.Ascend(func(it btree.Item) bool {
		li := it.(leafItem)
		fn(li.key, li.value)
		return true
	})
}

func (idx *leafIndex) len() int {
	return idx.tree.Len()
}
