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
	"path/filepath"
	"testing"
	"time"

	"github.com/verifidb/verifidb/commitment"
	"github.com/verifidb/verifidb/merkle"
	"github.com/verifidb/verifidb/rebuild"
	"github.com/verifidb/verifidb/storage/model"
	"github.com/verifidb/verifidb/storage/nodestore"
	"github.com/verifidb/verifidb/storage/rowstore"
	"github.com/verifidb/verifidb/writeengine"
)

func widgetsModel() *model.Dynamic {
	return model.NewDynamic("widgets", "id", "serial", "CREATE TABLE widgets (id SERIAL PRIMARY KEY, label TEXT)",
		[]model.Column{{Name: "label", Type: "text"}})
}

func newTestEngine(t *testing.T) (*Engine, *fakeRowStore) {
	t.Helper()
	rows := newFakeRowStore()
	nodes := nodestore.NewMemory()
	tree := merkle.New()
	reg := model.NewRegistry()
	reg.Register("widgets", widgetsModel())

	path := filepath.Join(t.TempDir(), "trusted-state.json")
	mgr, err := commitment.New(&fakeAnchor{}, commitment.NewTrustedState(path), 1)
	if err != nil {
		t.Fatalf("commitment.New: %v", err)
	}
	if err := mgr.Start(context.Background(), time.Hour); err != nil {
		t.Fatalf("commitment.Start: %v", err)
	}
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	writer := writeengine.New(rows, nodes, tree, mgr)
	rebuilder := rebuild.New(rows, nodes, tree, reg, mgr, 4)

	return New(rows, nodes, tree, reg, writer, mgr, rebuilder), rows
}

func TestWriteBatchReturnsProofAndAdvancesRoot(t *testing.T) {
	e, _ := newTestEngine(t)
	m := widgetsModel()

	rootBefore := e.CurrentRoot()
	result, err := e.WriteBatch(context.Background(), m, []rowstore.Row{
		{"label": "first"},
		{"label": "second"},
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if !result.Committed {
		t.Fatal("WriteBatch: Committed = false")
	}
	if len(result.Records) != 2 {
		t.Fatalf("WriteBatch: %d records, want 2", len(result.Records))
	}
	if result.Proof == nil {
		t.Fatal("WriteBatch: Proof is nil")
	}
	if result.ProposedRoot != e.CurrentRoot() {
		t.Errorf("ProposedRoot = %s, want current root %s", result.ProposedRoot.Hex(), e.CurrentRoot().Hex())
	}
	if e.CurrentRoot() == rootBefore {
		t.Error("CurrentRoot did not advance after WriteBatch")
	}
}

func TestUpsertBatchThenReadWithProofRoundtrips(t *testing.T) {
	e, _ := newTestEngine(t)
	m := widgetsModel()

	if _, err := e.UpsertBatch(context.Background(), m, map[string]rowstore.Row{
		"7": {"label": "seven"},
	}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	read, err := e.ReadWithProof(context.Background(), m, []string{"7"})
	if err != nil {
		t.Fatalf("ReadWithProof: %v", err)
	}
	if len(read.Records) != 1 || read.Records[0]["label"] != "seven" {
		t.Fatalf("ReadWithProof: got %+v, want one row with label=seven", read.Records)
	}
	if read.Proof == nil {
		t.Fatal("ReadWithProof: Proof is nil")
	}
	if read.Root != e.CurrentRoot() {
		t.Errorf("ReadWithProof root = %s, want current root %s", read.Root.Hex(), e.CurrentRoot().Hex())
	}
}

func TestReadWithProofSkipsMissingIDs(t *testing.T) {
	e, _ := newTestEngine(t)
	m := widgetsModel()

	if _, err := e.UpsertBatch(context.Background(), m, map[string]rowstore.Row{
		"1": {"label": "present"},
	}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	read, err := e.ReadWithProof(context.Background(), m, []string{"1", "does-not-exist"})
	if err != nil {
		t.Fatalf("ReadWithProof: %v", err)
	}
	if len(read.Records) != 1 {
		t.Fatalf("ReadWithProof: %d records, want 1 (missing id silently skipped)", len(read.Records))
	}
}

func TestReadWithProofRejectsEmptyIDs(t *testing.T) {
	e, _ := newTestEngine(t)
	m := widgetsModel()

	if _, err := e.ReadWithProof(context.Background(), m, nil); err == nil {
		t.Fatal("ReadWithProof with no ids: want error, got nil")
	}
}

func TestReadLatestHonorsLimitAndFilter(t *testing.T) {
	e, _ := newTestEngine(t)
	m := widgetsModel()

	records := map[string]rowstore.Row{
		"1": {"label": "keep"},
		"2": {"label": "drop"},
		"3": {"label": "keep"},
	}
	if _, err := e.UpsertBatch(context.Background(), m, records); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	read, err := e.ReadLatest(context.Background(), m, 0, func(r rowstore.Row) bool {
		return r["label"] == "keep"
	})
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(read.Records) != 2 {
		t.Fatalf("ReadLatest filtered count = %d, want 2", len(read.Records))
	}
	if read.Proof == nil {
		t.Error("ReadLatest: Proof is nil despite non-empty result")
	}
}

func TestRebuildReproducesRootFromRows(t *testing.T) {
	e, _ := newTestEngine(t)
	m := widgetsModel()

	if _, err := e.UpsertBatch(context.Background(), m, map[string]rowstore.Row{
		"1": {"label": "a"},
		"2": {"label": "b"},
	}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	rootBeforeRebuild := e.CurrentRoot()

	result, err := e.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if result.LeafCount != 2 {
		t.Errorf("Rebuild LeafCount = %d, want 2", result.LeafCount)
	}
	if result.NewRoot != rootBeforeRebuild {
		t.Errorf("Rebuild NewRoot = %s, want unchanged %s", result.NewRoot.Hex(), rootBeforeRebuild.Hex())
	}
	if e.CurrentRoot() != result.NewRoot {
		t.Errorf("CurrentRoot after Rebuild = %s, want %s", e.CurrentRoot().Hex(), result.NewRoot.Hex())
	}
}

func TestClearResetsRootAndEmptiesTables(t *testing.T) {
	e, rows := newTestEngine(t)
	m := widgetsModel()

	if _, err := e.UpsertBatch(context.Background(), m, map[string]rowstore.Row{
		"1": {"label": "a"},
	}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if e.CurrentRoot().IsZero() {
		t.Fatal("precondition: root should be non-zero before Clear")
	}

	if err := e.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !e.CurrentRoot().IsZero() {
		t.Errorf("CurrentRoot after Clear = %s, want zero", e.CurrentRoot().Hex())
	}

	rows.mu.Lock()
	remaining := len(rows.tables["widgets"])
	rows.mu.Unlock()
	if remaining != 0 {
		t.Errorf("widgets table after Clear has %d rows, want 0", remaining)
	}
}
