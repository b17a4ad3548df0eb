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

import "fmt"

// Dynamic is a Model built entirely from data — the runtime-registered
// schema that lets a caller define a new verifiable table without
// recompiling the service (original_source/src/domain/model/dynamic.rs).
type Dynamic struct {
	Table     string
	PKField   string
	PKKind    string // e.g. "serial", "bigserial", "text", "uuid"
	Columns   []Column
	CreateSQL string

	columnTypes map[string]string
}

var _ Model = (*Dynamic)(nil)

// NewDynamic builds a Dynamic model, indexing its column types for fast
// ColumnType lookups.
func NewDynamic(table, pkField, pkKind, createSQL string, columns []Column) *Dynamic {
	d := &Dynamic{
		Table:       table,
		PKField:     pkField,
		PKKind:      pkKind,
		Columns:     columns,
		CreateSQL:   createSQL,
		columnTypes: make(map[string]string, len(columns)+1),
	}
	for _, c := range columns {
		d.columnTypes[c.Name] = c.Type
	}
	// The primary key's own SQL type is derived from its declared kind:
	// serial/bigserial columns are integer-typed once returned from the
	// database (registry.go maps these on load as well).
	switch pkKind {
	case "serial":
		d.columnTypes[pkField] = "int4"
	case "bigserial":
		d.columnTypes[pkField] = "int8"
	default:
		if _, ok := d.columnTypes[pkField]; !ok {
			d.columnTypes[pkField] = pkKind
		}
	}
	return d
}

func (d *Dynamic) TableName() string       { return d.Table }
func (d *Dynamic) PrimaryKeyField() string { return d.PKField }
func (d *Dynamic) CreateTableSQL() string  { return d.CreateSQL }

func (d *Dynamic) ColumnType(column string) (string, bool) {
	t, ok := d.columnTypes[column]
	return t, ok
}

func (d *Dynamic) ValidateCreate(record map[string]interface{}) error {
	return validateKnownColumns(d, record)
}

func (d *Dynamic) ValidateUpdate(record map[string]interface{}) error {
	return validateKnownColumns(d, record)
}

func validateKnownColumns(m Model, record map[string]interface{}) error {
	for col := range record {
		if _, ok := m.ColumnType(col); !ok {
			return fmt.Errorf("model: column %q has no registered type metadata for table %q", col, m.TableName())
		}
	}
	return nil
}
