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

package service

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

// fakeRowStore is an in-memory rowstore.Store for service tests. As in
// writeengine's own fake, BeginTx returns a nil *sql.Tx: every method
// ignores it, so there is nothing to dereference.
type fakeRowStore struct {
	mu     sync.Mutex
	tables map[string]map[string]rowstore.Row
	nextPK map[string]int64
}

func newFakeRowStore() *fakeRowStore {
	return &fakeRowStore{
		tables: make(map[string]map[string]rowstore.Row),
		nextPK: make(map[string]int64),
	}
}

func (f *fakeRowStore) BeginTx(ctx context.Context) (*sql.Tx, error) { return nil, nil }

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

	row := cloneRow(record)
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
	row := cloneRow(record)
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

func (f *fakeRowStore) TryAdvisoryLock(ctx context.Context, id int64) (bool, error) { return true, nil }
func (f *fakeRowStore) ReleaseAdvisoryLock(ctx context.Context, id int64) error     { return nil }

func cloneRow(r rowstore.Row) rowstore.Row {
	out := make(rowstore.Row, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// fakeAnchor is an in-process commitment.Anchor fake.
type fakeAnchor struct {
	mu   sync.Mutex
	root digest.D
}

func (a *fakeAnchor) Initialize(ctx context.Context) error { return nil }

func (a *fakeAnchor) ReadRoot(ctx context.Context) (digest.D, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.root, nil
}

func (a *fakeAnchor) WriteRoot(ctx context.Context, root digest.D) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.root = root
	return nil
}
