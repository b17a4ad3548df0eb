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

// Package rebuild implements the Rebuild Coordinator (C7): a full
// recomputation of the Sparse Merkle Tree from the authoritative row
// tables, used after a canonical-serialization or schema change that
// leaves the persisted SMT node store stale.
//
// Grounded on spec.md §4.7's six-step procedure. Step 4's per-table
// scan is fanned out with golang.org/x/sync/errgroup, the same
// bounded-concurrency primitive the teacher's own tree population
// workers use, since spec.md's rebuild idempotence property (S6:
// "rebuild ∘ rebuild = rebuild", independent of insertion order) holds
// regardless of which table finishes streaming first.
package rebuild

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/golang/glog"

	"github.com/verifidb/verifidb/digest"
	"github.com/verifidb/verifidb/hash"
	"github.com/verifidb/verifidb/merkle"
	"github.com/verifidb/verifidb/storage/model"
	"github.com/verifidb/verifidb/storage/nodestore"
	"github.com/verifidb/verifidb/storage/rowstore"
)

// RootLocker is the subset of commitment.Manager's interface the
// coordinator needs: a single root-lock acquisition that ends with
// force_set semantics rather than the ordinary advance() semantics
// writeengine.RootLocker uses.
type RootLocker interface {
	WithForcedRootLock(ctx context.Context, fn func() (newRoot digest.D, err error)) error
}

// Coordinator drives the rebuild procedure described by spec.md §4.7.
type Coordinator struct {
	rows     rowstore.Store
	nodes    nodestore.Store
	tree     *merkle.Tree
	registry *model.Registry
	locker   RootLocker

	tableConcurrency int
}

// New constructs a Coordinator. tableConcurrency bounds how many
// tables are streamed at once (0 or negative means unbounded).
func New(rows rowstore.Store, nodes nodestore.Store, tree *merkle.Tree, registry *model.Registry, locker RootLocker, tableConcurrency int) *Coordinator {
	return &Coordinator{
		rows:             rows,
		nodes:            nodes,
		tree:             tree,
		registry:         registry,
		locker:           locker,
		tableConcurrency: tableConcurrency,
	}
}

// Result summarizes a completed rebuild, for logging and the service
// facade's response to a rebuild request.
type Result struct {
	NewRoot   digest.D
	LeafCount int
}

// Rebuild runs spec.md §4.7 steps 1-6 as a single call to
// WithForcedRootLock, so the entire truncate-rescan-force_set sequence
// is one continuous critical section: no writer can observe C3 or C2
// mid-rebuild, and nothing can force_set a root computed from a
// partial scan.
func (c *Coordinator) Rebuild(ctx context.Context) (Result, error) {
	var result Result
	err := c.locker.WithForcedRootLock(ctx, func() (digest.D, error) {
		if err := c.nodes.Truncate(ctx); err != nil {
			return digest.Zero, fmt.Errorf("rebuild: truncate node store: %w", err)
		}
		*c.tree = *merkle.New()

		if err := c.rescanTables(ctx); err != nil {
			return digest.Zero, err
		}

		newRoot := c.tree.Root()
		result = Result{NewRoot: newRoot, LeafCount: c.tree.Size()}
		return newRoot, nil
	})
	if err != nil {
		return Result{}, err
	}
	glog.Infof("rebuild: completed, new_root=%s leaf_count=%d", result.NewRoot.Hex(), result.LeafCount)
	return result, nil
}

// rescanTables streams every registered table and applies each row's
// (K, V) pair to C3 (in memory) and C2 (durably), spec.md §4.7 step 4.
// Tables are scanned concurrently; each table's (K, V) pairs are
// buffered, and the tree and node store are updated once, after every
// scan has finished, since the tree is not safe for concurrent
// mutation.
func (c *Coordinator) rescanTables(ctx context.Context) error {
	models := c.registry.All()

	type kv struct {
		key   digest.D
		value digest.D
	}
	rowsByTable := make([][]kv, len(models))

	g, gctx := errgroup.WithContext(ctx)
	if c.tableConcurrency > 0 {
		g.SetLimit(c.tableConcurrency)
	}
	for i, m := range models {
		i, m := i, m
		g.Go(func() error {
			var collected []kv
			err := c.rows.ScanTable(gctx, m, func(pk string, row rowstore.Row) error {
				value, err := hash.RowValue(row)
				if err != nil {
					return fmt.Errorf("rebuild: hash row %s/%s: %w", m.TableName(), pk, err)
				}
				collected = append(collected, kv{key: hash.Key(m.TableName(), pk), value: value})
				return nil
			})
			if err != nil {
				return fmt.Errorf("rebuild: scan table %q: %w", m.TableName(), err)
			}
			rowsByTable[i] = collected
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Applying to the tree and node store happens after every table has
	// finished scanning, single-threaded: merkle.Tree and the node-store
	// bulk Upsert are not meant for concurrent mutation, and rebuild
	// idempotence only promises the final root is insertion-order
	// independent, not that application itself may race.
	var entries []nodestore.Entry
	var leaves []merkle.LeafUpdate
	for _, table := range rowsByTable {
		for _, r := range table {
			leaves = append(leaves, merkle.LeafUpdate{Key: r.key, Value: r.value})
			entries = append(entries, nodestore.Entry{Hash: r.key, Value: r.value})
		}
	}
	c.tree.UpdateBatch(leaves)
	if len(entries) > 0 {
		if err := c.nodes.Upsert(ctx, entries); err != nil {
			return fmt.Errorf("rebuild: bulk upsert node store: %w", err)
		}
	}
	return nil
}
