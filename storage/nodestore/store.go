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

// Package nodestore implements the SMT Node Store (C2): a durable
// Digest→Digest map backing the in-memory sparse Merkle tree (merkle.Tree),
// so the tree can be rehydrated after a restart without replaying every
// write.
//
// Grounded on original_source/src/storage/smt/{store.rs,postgres.rs}: the
// merkle_nodes table and its upsert-on-conflict semantics are carried over
// directly; the Go surface follows the teacher's storage/cache package in
// spirit (a narrow interface, one SQL-backed implementation, one in-memory
// fake for tests).
package nodestore

import (
	"context"
	"database/sql"

	"github.com/verifidb/verifidb/digest"
)

// Entry is one row of the merkle_nodes table.
type Entry struct {
	Hash  digest.D
	Value digest.D
}

// Store is the durable backing for SMT node hashes (spec.md C2). Its
// methods run outside any caller transaction; the write path instead
// uses TxStore.UpsertInTx, so that node-store updates commit
// atomically with the row write and the root advance (spec.md §4.5).
type Store interface {
	// Upsert writes entries outside of any particular transaction
	// (used by the rebuild coordinator's bulk repopulation).
	Upsert(ctx context.Context, entries []Entry) error
	// Get looks up a single node value by hash, found=false if absent.
	Get(ctx context.Context, hash digest.D) (value digest.D, found bool, err error)
	// ScanAll streams every stored node, for rehydrating an in-memory
	// merkle.Tree at startup.
	ScanAll(ctx context.Context, fn func(Entry) error) error
	// Truncate removes every stored node (used before a full rebuild).
	Truncate(ctx context.Context) error
}

// TxStore is implemented by Store implementations that can also
// participate in an ambient SQL transaction, so node writes commit
// atomically with the row write in writeengine (spec.md §4.5 step 7).
type TxStore interface {
	Store
	UpsertInTx(ctx context.Context, tx *sql.Tx, entries []Entry) error
}
