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

package model

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// Registry maps model/table names to their Model implementations, and
// persists dynamically-registered schemas to the verifiable_models table
// (spec.md §6) so they survive a restart — "warm start" behavior from
// original_source/src/domain/model/registry.rs.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

// Register adds (or replaces) a model under name.
func (r *Registry) Register(name string, m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = m
}

// Get returns the model registered under name, or ok=false.
func (r *Registry) Get(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Names lists every registered model name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.models))
	for name := range r.models {
		out = append(out, name)
	}
	return out
}

// All returns every registered model, for use by the rebuild coordinator
// (C7), which needs to scan every managed table.
func (r *Registry) All() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// verifiableModelsDDL creates the registry's own persistence table. It is
// executed once at startup, the same way the teacher's storage packages
// create their schema tables.
const verifiableModelsDDL = `CREATE TABLE IF NOT EXISTS verifiable_models (
	table_name TEXT PRIMARY KEY,
	primary_key_field TEXT NOT NULL,
	primary_key_kind TEXT NOT NULL,
	columns JSONB NOT NULL,
	create_table_sql TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema creates the verifiable_models table if it does not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, verifiableModelsDDL); err != nil {
		return fmt.Errorf("model: ensure verifiable_models schema: %w", err)
	}
	return nil
}

// Save persists a Dynamic model's definition so LoadFromDB can recover it
// after a restart.
func Save(ctx context.Context, db *sql.DB, d *Dynamic) error {
	cols, err := MarshalColumns(d.Columns)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO verifiable_models (table_name, primary_key_field, primary_key_kind, columns, create_table_sql, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (table_name) DO UPDATE SET
			primary_key_field = $2, primary_key_kind = $3, columns = $4, create_table_sql = $5, updated_at = now()`,
		d.Table, d.PKField, d.PKKind, cols, d.CreateSQL)
	if err != nil {
		return fmt.Errorf("model: save %q: %w", d.Table, err)
	}
	return nil
}

// LoadFromDB rebuilds a Registry of Dynamic models from the
// verifiable_models table. A missing table (pre-migration database) is
// not an error: it just yields an empty registry.
func LoadFromDB(ctx context.Context, db *sql.DB) (*Registry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name, primary_key_field, primary_key_kind, columns, create_table_sql
		FROM verifiable_models`)
	if err != nil {
		glog.Warningf("model: load_from_db: verifiable_models unavailable, starting empty: %v", err)
		return NewRegistry(), nil
	}
	defer rows.Close()

	reg := NewRegistry()
	for rows.Next() {
		var table, pkField, pkKind, createSQL string
		var columnsJSON []byte
		if err := rows.Scan(&table, &pkField, &pkKind, &columnsJSON, &createSQL); err != nil {
			return nil, fmt.Errorf("model: scan verifiable_models row: %w", err)
		}
		cols, err := UnmarshalColumns(columnsJSON)
		if err != nil {
			return nil, fmt.Errorf("model: decode columns for %q: %w", table, err)
		}
		reg.Register(table, NewDynamic(table, pkField, pkKind, createSQL, cols))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("model: iterate verifiable_models: %w", err)
	}
	return reg, nil
}
