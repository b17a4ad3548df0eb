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

package rowstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	// Registers the "postgres" sql.DB driver.
	_ "github.com/lib/pq"

	"github.com/verifidb/verifidb/storage/model"
)

// Postgres is the primary rowstore.Store implementation.
//
// Grounded on original_source/src/app/database_service.rs: the
// row_to_json(...) RETURNING pattern mirrors that file's approach of
// getting the exact post-write row back from Postgres in one round
// trip rather than re-querying it, so the write engine hashes exactly
// what was committed.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an open *sql.DB.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("rowstore: begin: %w", err)
	}
	return tx, nil
}

func (p *Postgres) EnsureTable(ctx context.Context, m model.Model) error {
	if _, err := p.db.ExecContext(ctx, m.CreateTableSQL()); err != nil {
		return fmt.Errorf("rowstore: ensure table %q: %w", m.TableName(), err)
	}
	return nil
}

func (p *Postgres) TruncateTable(ctx context.Context, m model.Model) error {
	stmt := fmt.Sprintf("TRUNCATE TABLE %s", pqIdent(m.TableName()))
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("rowstore: truncate %q: %w", m.TableName(), err)
	}
	return nil
}

func (p *Postgres) CreateInTx(ctx context.Context, tx *sql.Tx, m model.Model, record Row) (string, Row, error) {
	if err := requireColumnTypes(m, record); err != nil {
		return "", nil, err
	}

	cols := sortedColumns(record)
	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		typ, _ := m.ColumnType(col)
		placeholders[i] = fmt.Sprintf("$%d::%s", i+1, typ)
		args[i] = record[col]
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING row_to_json(%s.*), %s",
			pqIdent(m.TableName()), pqIdent(m.TableName()), pqIdent(m.PrimaryKeyField()))
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING row_to_json(%s.*), %s",
			pqIdent(m.TableName()), pqIdentList(cols), strings.Join(placeholders, ", "),
			pqIdent(m.TableName()), pqIdent(m.PrimaryKeyField()))
	}

	var rowJSON []byte
	var pkValue interface{}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&rowJSON, &pkValue); err != nil {
		return "", nil, fmt.Errorf("rowstore: create into %q: %w", m.TableName(), err)
	}

	row, err := decodeRow(rowJSON)
	if err != nil {
		return "", nil, err
	}
	return pkString(pkValue), row, nil
}

func (p *Postgres) UpsertInTx(ctx context.Context, tx *sql.Tx, m model.Model, pk string, record Row) (Row, bool, error) {
	if err := requireColumnTypes(m, record); err != nil {
		return nil, false, err
	}

	existing, existed, err := p.GetInTx(ctx, tx, m, pk)
	if err != nil {
		return nil, false, err
	}
	_ = existing

	pkType, ok := m.ColumnType(m.PrimaryKeyField())
	if !ok {
		return nil, false, fmt.Errorf("rowstore: no column type metadata for primary key %q of table %q", m.PrimaryKeyField(), m.TableName())
	}

	cols := sortedColumns(record)
	allCols := append([]string{m.PrimaryKeyField()}, cols...)
	placeholders := make([]string, len(allCols))
	args := make([]interface{}, len(allCols))

	placeholders[0] = fmt.Sprintf("$1::%s", pkType)
	args[0] = pk
	for i, col := range cols {
		typ, _ := m.ColumnType(col)
		placeholders[i+1] = fmt.Sprintf("$%d::%s", i+2, typ)
		args[i+1] = record[col]
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", pqIdent(col), pqIdent(col))
	}
	var onConflict string
	if len(sets) == 0 {
		onConflict = fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", pqIdent(m.PrimaryKeyField()))
	} else {
		onConflict = fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", pqIdent(m.PrimaryKeyField()), strings.Join(sets, ", "))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s RETURNING row_to_json(%s.*)",
		pqIdent(m.TableName()), pqIdentList(allCols), strings.Join(placeholders, ", "), onConflict, pqIdent(m.TableName()))

	var rowJSON []byte
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&rowJSON); err != nil {
		return nil, false, fmt.Errorf("rowstore: upsert into %q: %w", m.TableName(), err)
	}

	row, err := decodeRow(rowJSON)
	if err != nil {
		return nil, false, err
	}
	return row, existed, nil
}

func (p *Postgres) GetInTx(ctx context.Context, tx *sql.Tx, m model.Model, pk string) (Row, bool, error) {
	pkType, ok := m.ColumnType(m.PrimaryKeyField())
	if !ok {
		return nil, false, fmt.Errorf("rowstore: no column type metadata for primary key %q of table %q", m.PrimaryKeyField(), m.TableName())
	}
	query := fmt.Sprintf("SELECT row_to_json(%s.*) FROM %s WHERE %s = $1::%s",
		pqIdent(m.TableName()), pqIdent(m.TableName()), pqIdent(m.PrimaryKeyField()), pkType)

	var rowJSON []byte
	err := tx.QueryRowContext(ctx, query, pk).Scan(&rowJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rowstore: get from %q: %w", m.TableName(), err)
	}
	row, err := decodeRow(rowJSON)
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

func (p *Postgres) ScanTable(ctx context.Context, m model.Model, fn func(pk string, row Row) error) error {
	query := fmt.Sprintf("SELECT %s, row_to_json(%s.*) FROM %s ORDER BY %s",
		pqIdent(m.PrimaryKeyField()), pqIdent(m.TableName()), pqIdent(m.TableName()), pqIdent(m.PrimaryKeyField()))

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("rowstore: scan table %q: %w", m.TableName(), err)
	}
	defer rows.Close()

	for rows.Next() {
		var pkValue interface{}
		var rowJSON []byte
		if err := rows.Scan(&pkValue, &rowJSON); err != nil {
			return fmt.Errorf("rowstore: scan table %q row: %w", m.TableName(), err)
		}
		row, err := decodeRow(rowJSON)
		if err != nil {
			return err
		}
		if err := fn(pkString(pkValue), row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// TryAdvisoryLock uses Postgres's session-level advisory lock, the
// mechanism original_source/src/app/database_service.rs uses
// (pg_try_advisory_lock) to enforce single-instance writes without a
// separate coordination service.
func (p *Postgres) TryAdvisoryLock(ctx context.Context, id int64) (bool, error) {
	var held bool
	if err := p.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&held); err != nil {
		return false, fmt.Errorf("rowstore: try_advisory_lock(%d): %w", id, err)
	}
	return held, nil
}

func (p *Postgres) ReleaseAdvisoryLock(ctx context.Context, id int64) error {
	if _, err := p.db.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, id); err != nil {
		return fmt.Errorf("rowstore: advisory_unlock(%d): %w", id, err)
	}
	return nil
}

func requireColumnTypes(m model.Model, record Row) error {
	for col := range record {
		if _, ok := m.ColumnType(col); !ok {
			return fmt.Errorf("rowstore: column %q has no registered type metadata for table %q", col, m.TableName())
		}
	}
	return nil
}

func sortedColumns(record Row) []string {
	cols := make([]string, 0, len(record))
	for c := range record {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func decodeRow(rowJSON []byte) (Row, error) {
	var row Row
	if err := json.Unmarshal(rowJSON, &row); err != nil {
		return nil, fmt.Errorf("rowstore: decode row_to_json result: %w", err)
	}
	return row, nil
}

func pkString(v interface{}) string {
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10)
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// pqIdent quotes a SQL identifier.
func pqIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func pqIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pqIdent(n)
	}
	return strings.Join(quoted, ", ")
}
