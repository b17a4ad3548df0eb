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
	"database/sql"
	"sync"

	"github.com/verifidb/verifidb/digest"
)

// Memory is an in-process Store, used by nodestore/writeengine/service
// tests in place of a real database.
type Memory struct {
	mu    sync.RWMutex
	nodes map[digest.D]digest.D
}

var (
	_ Store   = (*Memory)(nil)
	_ TxStore = (*Memory)(nil)
)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{nodes: make(map[digest.D]digest.D)}
}

func (m *Memory) Upsert(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.nodes[e.Hash] = e.Value
	}
	return nil
}

// UpsertInTx ignores tx: Memory has no real transactional boundary, so
// its writes are applied immediately, matching how an in-memory fake
// stands in for a transactional store in the teacher's own cache tests.
func (m *Memory) UpsertInTx(ctx context.Context, _ *sql.Tx, entries []Entry) error {
	return m.Upsert(ctx, entries)
}

func (m *Memory) Get(_ context.Context, hash digest.D) (digest.D, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.nodes[hash]
	return v, ok, nil
}

func (m *Memory) ScanAll(_ context.Context, fn func(Entry) error) error {
	m.mu.RLock()
	snapshot := make([]Entry, 0, len(m.nodes))
	for h, v := range m.nodes {
		snapshot = append(snapshot, Entry{Hash: h, Value: v})
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Truncate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[digest.D]digest.D)
	return nil
}
