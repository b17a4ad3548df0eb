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

package writeengine

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"sync"

	"github.com/verifidb/verifidb/digest"
	"github.com/verifidb/verifidb/storage/model"
	"github.com/verifidb/verifidb/storage/rowstore"
)

// fakeRowStore is an in-memory rowstore.Store for writeengine tests. It
// does not use real *sql.Tx values — BeginTx returns nil and every
// method ignores the tx argument — which is safe here because the fake
// has no separate durable medium to roll back; CreateBatch/UpsertBatch
// never dereference tx themselves.
type fakeRowStore struct {
	mu           sync.Mutex
	tables       map[string]map[string]rowstore.Row
	nextPK       map[string]int64
	lockedN      map[int64]bool
	beginTxCalls int
}

func newFakeRowStore() *fakeRowStore {
	return &fakeRowStore{
		tables:  make(map[string]map[string]rowstore.Row),
		nextPK:  make(map[string]int64),
		lockedN: make(map[int64]bool),
	}
}

func (f *fakeRowStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	f.mu.Lock()
	f.beginTxCalls++
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeRowStore) CreateInTx(ctx context.Context, tx *sql.Tx, m model.Model, record rowstore.Row) (string, rowstore.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := f.tables[m.TableName()]
	if table == nil {
		table = make(map[string]rowstore.Row)
		f.tables[m.TableName()] = table
	}
	f.nextPK[m.TableName()]++
	pk := strconv.FormatInt(f.nextPK[m.TableName()], 10)

	row := make(rowstore.Row, len(record)+1)
	for k, v := range record {
		row[k] = v
	}
	row[m.PrimaryKeyField()] = pk
	table[pk] = row
	return pk, cloneRow(row), nil
}

func (f *fakeRowStore) UpsertInTx(ctx context.Context, tx *sql.Tx, m model.Model, pk string, record rowstore.Row) (rowstore.Row, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := f.tables[m.TableName()]
	if table == nil {
		table = make(map[string]rowstore.Row)
		f.tables[m.TableName()] = table
	}
	_, existed := table[pk]

	row := make(rowstore.Row, len(record)+1)
	for k, v := range record {
		row[k] = v
	}
	row[m.PrimaryKeyField()] = pk
	table[pk] = row
	return cloneRow(row), existed, nil
}

func (f *fakeRowStore) GetInTx(ctx context.Context, tx *sql.Tx, m model.Model, pk string) (rowstore.Row, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.tables[m.TableName()][pk]
	if !ok {
		return nil, false, nil
	}
	return cloneRow(row), true, nil
}

func (f *fakeRowStore) EnsureTable(ctx context.Context, m model.Model) error { return nil }

func (f *fakeRowStore) TruncateTable(ctx context.Context, m model.Model) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[m.TableName()] = make(map[string]rowstore.Row)
	return nil
}

func (f *fakeRowStore) ScanTable(ctx context.Context, m model.Model, fn func(pk string, row rowstore.Row) error) error {
	f.mu.Lock()
	table := f.tables[m.TableName()]
	pks := make([]string, 0, len(table))
	for pk := range table {
		pks = append(pks, pk)
	}
	sort.Strings(pks)
	snapshot := make([]rowstore.Row, len(pks))
	for i, pk := range pks {
		snapshot[i] = cloneRow(table[pk])
	}
	f.mu.Unlock()

	for i, pk := range pks {
		if err := fn(pk, snapshot[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRowStore) TryAdvisoryLock(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockedN[id] {
		return false, nil
	}
	f.lockedN[id] = true
	return true, nil
}

func (f *fakeRowStore) ReleaseAdvisoryLock(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lockedN, id)
	return nil
}

func cloneRow(r rowstore.Row) rowstore.Row {
	out := make(rowstore.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// simpleLocker is a RootLocker with a plain mutex, standing in for
// commitment.Manager in writeengine's own unit tests.
type simpleLocker struct {
	mu   sync.Mutex
	root digest.D
}

func (s *simpleLocker) WithRootLock(ctx context.Context, fn func(trustedRoot digest.D) (digest.D, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newRoot, err := fn(s.root)
	if err != nil {
		return err
	}
	s.root = newRoot
	return nil
}
