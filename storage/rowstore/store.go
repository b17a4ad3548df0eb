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

// Package rowstore implements the relational row contract spec.md §3
// assumes: one table per Model, a primary key column, and a write path
// that returns the post-write row as canonical JSON so the write engine
// (C5) can hash it without a second round trip.
//
// Grounded on original_source/src/app/database_service.rs's
// create_records/update_records, generalized per spec.md §9's Open
// Question decision: no heuristic column-type fallback, every touched
// column must carry explicit metadata via model.Model.ColumnType.
package rowstore

import (
	"context"
	"database/sql"

	"github.com/verifidb/verifidb/storage/model"
)

// Row is a single record, keyed by column name.
type Row = map[string]interface{}

// Store is the relational contract the write engine depends on. All
// mutating methods run inside an ambient *sql.Tx so the row write, the
// SMT proof, and the node-store update commit atomically (spec.md
// §4.5).
type Store interface {
	// BeginTx starts a transaction for one write-engine operation.
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// CreateInTx inserts record into m's table and returns the
	// post-write row as canonical-ready data (already decoded into a
	// map, ready for hash.RowValue), along with the generated primary
	// key value formatted as a string for use in hash.Key.
	CreateInTx(ctx context.Context, tx *sql.Tx, m model.Model, record Row) (pk string, row Row, err error)

	// UpsertInTx inserts or updates the row identified by pk and
	// returns the post-write row. It also returns whether the row
	// previously existed, needed by the write engine to decide whether
	// the prior leaf value was zero (spec.md §4.4).
	UpsertInTx(ctx context.Context, tx *sql.Tx, m model.Model, pk string, record Row) (row Row, existed bool, err error)

	// GetInTx reads the current row for pk, found=false if absent.
	GetInTx(ctx context.Context, tx *sql.Tx, m model.Model, pk string) (row Row, found bool, err error)

	// EnsureTable executes m's CreateTableSQL if the table does not
	// already exist.
	EnsureTable(ctx context.Context, m model.Model) error

	// TruncateTable empties m's table (used by the Clear operation,
	// spec.md §6; the rebuild coordinator, C7, only reads row tables).
	TruncateTable(ctx context.Context, m model.Model) error

	// ScanTable streams every row of m's table in primary-key order,
	// for the rebuild coordinator's full SMT rebuild.
	ScanTable(ctx context.Context, m model.Model, fn func(pk string, row Row) error) error

	// TryAdvisoryLock attempts to acquire a process-wide advisory lock
	// identified by id, used to enforce the single-writer discipline
	// across process restarts (spec.md's concurrency model). Returns
	// held=false if another process already holds it.
	TryAdvisoryLock(ctx context.Context, id int64) (held bool, err error)

	// ReleaseAdvisoryLock releases a lock acquired by TryAdvisoryLock.
	ReleaseAdvisoryLock(ctx context.Context, id int64) error
}
