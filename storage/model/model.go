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

// Package model defines the contract a caller-provided row schema must
// satisfy to participate in the verifiable write path (the "model's
// contract" referenced throughout spec.md §4.5), and a registry that
// persists schema metadata so it survives a restart.
//
// Grounded on original_source/src/domain/model/{mod,registry,dynamic}.rs,
// adapted into idiomatic Go: an interface instead of a trait object, and
// a required (not heuristic-fallback) ColumnType per spec.md §9's Open
// Question decision.
package model

import (
	"encoding/json"
	"fmt"
)

// Model is the contract the write engine, rebuild coordinator and read
// path all use without knowing a table's specific schema or business
// rules.
type Model interface {
	// TableName is the backing SQL table.
	TableName() string
	// PrimaryKeyField is the column used as the row identity (spec.md §3).
	PrimaryKeyField() string
	// CreateTableSQL is executed once during schema registration.
	CreateTableSQL() string
	// ColumnType returns the explicit SQL type for column, used for
	// parameter casting on INSERT. It MUST return ok=true for every
	// column a write touches: spec.md §9 requires failing closed rather
	// than guessing from the column name.
	ColumnType(column string) (sqlType string, ok bool)
	// ValidateCreate is the caller-provided validation hook from
	// spec.md §4.5 step 1. Dynamic rejects any column it has no
	// registered type for and accepts everything else.
	ValidateCreate(record map[string]interface{}) error
	// ValidateUpdate is the upsert-path analogue of ValidateCreate.
	ValidateUpdate(record map[string]interface{}) error
}

// Column describes one column's name and explicit SQL type, the unit of
// metadata persisted in the verifiable_models registry table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// MarshalColumns is a small helper for registry.go to persist a model's
// column metadata as the `columns` JSONB value.
func MarshalColumns(cols []Column) ([]byte, error) {
	b, err := json.Marshal(cols)
	if err != nil {
		return nil, fmt.Errorf("model: marshal columns: %w", err)
	}
	return b, nil
}

// UnmarshalColumns is the inverse of MarshalColumns.
func UnmarshalColumns(b []byte) ([]Column, error) {
	var cols []Column
	if err := json.Unmarshal(b, &cols); err != nil {
		return nil, fmt.Errorf("model: unmarshal columns: %w", err)
	}
	return cols, nil
}
