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

package rebuild

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/verifidb/verifidb/digest"
	"github.com/verifidb/verifidb/storage/model"
	"github.com/verifidb/verifidb/storage/nodestore"
	"github.com/verifidb/verifidb/storage/rowstore"
)

// fakeRowStore is a minimal read-only-enough rowstore.Store fake: the
// coordinator only ever calls ScanTable, so every other method is a
// stub that satisfies the interface without being exercised.
type fakeRowStore struct {
	mu     sync.Mutex
	tables map[string]map[string]rowstore.Row
}

func newFakeRowStore() *fakeRowStore {
	return &fakeRowStore{tables: make(map[string]map[string]rowstore.Row)}
}

func (f *fakeRowStore) seed(table, pk string, row rowstore.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables[table] == nil {
		f.tables[table] = make(map[string]rowstore.Row)
	}
	f.tables[table][pk] = row
}

func (f *fakeRowStore) BeginTx(ctx context.Context) (*sql.Tx, error) { return nil, nil }

func (f *fakeRowStore) CreateInTx(ctx context.Context, tx *sql.Tx, m model.Model, record rowstore.Row) (string, rowstore.Row, error) {
	return "", nil, nil
}

func (f *fakeRowStore) UpsertInTx(ctx context.Context, tx *sql.Tx, m model.Model, pk string, record rowstore.Row) (rowstore.Row, bool, error) {
	return nil, false, nil
}

func (f *fakeRowStore) GetInTx(ctx context.Context, tx *sql.Tx, m model.Model, pk string) (rowstore.Row, bool, error) {
	return nil, false, nil
}

func (f *fakeRowStore) EnsureTable(ctx context.Context, m model.Model) error     { return nil }
func (f *fakeRowStore) TruncateTable(ctx context.Context, m model.Model) error   { return nil }
func (f *fakeRowStore) TryAdvisoryLock(ctx context.Context, id int64) (bool, error) {
	return true, nil
}
func (f *fakeRowStore) ReleaseAdvisoryLock(ctx context.Context, id int64) error { return nil }

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
		snapshot[i] = table[pk]
	}
	f.mu.Unlock()

	for i, pk := range pks {
		if err := fn(pk, snapshot[i]); err != nil {
			return err
		}
	}
	return nil
}

// fakeNodeStore is an in-memory nodestore.Store fake.
type fakeNodeStore struct {
	mu      sync.Mutex
	entries map[digest.D]digest.D
}

func newFakeNodeStore() *fakeNodeStore {
	return &fakeNodeStore{entries: make(map[digest.D]digest.D)}
}

func (f *fakeNodeStore) Upsert(ctx context.Context, entries []nodestore.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		f.entries[e.Hash] = e.Value
	}
	return nil
}

func (f *fakeNodeStore) Get(ctx context.Context, hash digest.D) (digest.D, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[hash]
	return v, ok, nil
}

func (f *fakeNodeStore) ScanAll(ctx context.Context, fn func(nodestore.Entry) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h, v := range f.entries {
		if err := fn(nodestore.Entry{Hash: h, Value: v}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeNodeStore) Truncate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[digest.D]digest.D)
	return nil
}

func (f *fakeNodeStore) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// fakeLocker is a RootLocker with a plain mutex, standing in for
// commitment.Manager in the coordinator's own unit tests.
type fakeLocker struct {
	mu   sync.Mutex
	root digest.D
}

func (l *fakeLocker) WithForcedRootLock(ctx context.Context, fn func() (digest.D, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	newRoot, err := fn()
	if err != nil {
		return err
	}
	l.root = newRoot
	return nil
}
