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

package nodestore

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/verifidb/verifidb/merkle"
)

// Rehydrate replays every entry in store into tree, rebuilding the
// in-memory sparse Merkle tree C3 needs at process startup: the tree
// itself holds no durable state, only the leaf key/value pairs this
// store persists. Returns the number of leaves applied.
func Rehydrate(ctx context.Context, store Store, tree *merkle.Tree) (int, error) {
	var leaves []merkle.LeafUpdate
	err := store.ScanAll(ctx, func(e Entry) error {
		leaves = append(leaves, merkle.LeafUpdate{Key: e.Hash, Value: e.Value})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("nodestore: rehydrate scan: %w", err)
	}
	if len(leaves) == 0 {
		return 0, nil
	}
	tree.UpdateBatch(leaves)

	ordered := tree.Leaves()
	glog.Infof("nodestore: rehydrated %d leaves, key range %x..%x",
		len(ordered), ordered[0].Key, ordered[len(ordered)-1].Key)
	return len(leaves), nil
}
