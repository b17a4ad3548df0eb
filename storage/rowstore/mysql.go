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
	"fmt"
	"strconv"
	"strings"

	// Registers the "mysql" sql.DB driver.
	_ "github.com/go-sql-driver/mysql"

	"github.com/verifidb/verifidb/storage/model"
)

// MySQL is the alternate rowstore.Store backend selected by a
// mysql:// DATABASE_URL, carrying the same Store contract as Postgres
// over a dialect with no RETURNING clause: every write reads the
// affected row back with a follow-up SELECT inside the same tx.
type MySQL struct {
	db *sql.DB
}

var _ Store = (*MySQL)(nil)

// NewMySQL wraps an open *sql.DB.
func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

func (m *MySQL) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("rowstore: begin: %w", err)
	}
	return tx, nil
}

func (m *MySQL) EnsureTable(ctx context.Context, model model.Model) error {
	if _, err := m.db.ExecContext(ctx, model.CreateTableSQL()); err != nil {
		return fmt.Errorf("rowstore: ensure table %q: %w", model.TableName(), err)
	}
	return nil
}

func (m *MySQL) TruncateTable(ctx context.Context, model model.Model) error {
	stmt := fmt.Sprintf("TRUNCATE TABLE %s", myIdent(model.TableName()))
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("rowstore: truncate %q: %w", model.TableName(), err)
	}
	return nil
}

func (m *MySQL) CreateInTx(ctx context.Context, tx *sql.Tx, mdl model.Model, record Row) (string, Row, error) {
	if err := requireColumnTypes(mdl, record); err != nil {
		return "", nil, err
	}

	cols := sortedColumns(record)
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		args[i] = record[col]
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s () VALUES ()", myIdent(mdl.TableName()))
	} else {
		placeholders := strings.Repeat("?, ", len(cols))
		placeholders = placeholders[:len(placeholders)-2]
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", myIdent(mdl.TableName()), myIdentList(cols), placeholders)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("rowstore: create into %q: %w", mdl.TableName(), err)
	}
	insertID, err := res.LastInsertId()
	if err != nil {
		return "", nil, fmt.Errorf("rowstore: create into %q: last_insert_id: %w", mdl.TableName(), err)
	}
	pk := strconv.FormatInt(insertID, 10)

	row, found, err := m.GetInTx(ctx, tx, mdl, pk)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, fmt.Errorf("rowstore: create into %q: row %s vanished before read-back", mdl.TableName(), pk)
	}
	return pk, row, nil
}

func (m *MySQL) UpsertInTx(ctx context.Context, tx *sql.Tx, mdl model.Model, pk string, record Row) (Row, bool, error) {
	if err := requireColumnTypes(mdl, record); err != nil {
		return nil, false, err
	}

	_, existed, err := m.GetInTx(ctx, tx, mdl, pk)
	if err != nil {
		return nil, false, err
	}

	cols := sortedColumns(record)
	allCols := append([]string{mdl.PrimaryKeyField()}, cols...)
	args := make([]interface{}, len(allCols))
	args[0] = pk
	for i, col := range cols {
		args[i+1] = record[col]
	}
	placeholders := strings.Repeat("?, ", len(allCols))
	placeholders = placeholders[:len(placeholders)-2]

	var updateClause string
	if len(cols) == 0 {
		// Nothing beyond the primary key to update; touch it to a
		// no-op assignment so MySQL still runs the UPDATE branch.
		updateClause = fmt.Sprintf("%s = %s", myIdent(mdl.PrimaryKeyField()), myIdent(mdl.PrimaryKeyField()))
	} else {
		sets := make([]string, len(cols))
		for i, col := range cols {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", myIdent(col), myIdent(col))
		}
		updateClause = strings.Join(sets, ", ")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		myIdent(mdl.TableName()), myIdentList(allCols), placeholders, updateClause)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, false, fmt.Errorf("rowstore: upsert into %q: %w", mdl.TableName(), err)
	}

	row, found, err := m.GetInTx(ctx, tx, mdl, pk)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, fmt.Errorf("rowstore: upsert into %q: row %s vanished before read-back", mdl.TableName(), pk)
	}
	return row, existed, nil
}

func (m *MySQL) GetInTx(ctx context.Context, tx *sql.Tx, mdl model.Model, pk string) (Row, bool, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", myIdent(mdl.TableName()), myIdent(mdl.PrimaryKeyField()))
	rows, err := tx.QueryContext(ctx, query, pk)
	if err != nil {
		return nil, false, fmt.Errorf("rowstore: get from %q: %w", mdl.TableName(), err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	row, err := scanGenericRow(rows)
	if err != nil {
		return nil, false, fmt.Errorf("rowstore: get from %q: %w", mdl.TableName(), err)
	}
	return row, true, nil
}

func (m *MySQL) ScanTable(ctx context.Context, mdl model.Model, fn func(pk string, row Row) error) error {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s", myIdent(mdl.TableName()), myIdent(mdl.PrimaryKeyField()))
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("rowstore: scan table %q: %w", mdl.TableName(), err)
	}
	defer rows.Close()

	for rows.Next() {
		row, err := scanGenericRow(rows)
		if err != nil {
			return fmt.Errorf("rowstore: scan table %q row: %w", mdl.TableName(), err)
		}
		pk := pkString(row[mdl.PrimaryKeyField()])
		if err := fn(pk, row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// TryAdvisoryLock uses MySQL's GET_LOCK, the closest analogue to
// Postgres's pg_try_advisory_lock: a named, session-scoped lock rather
// than one keyed by an arbitrary 64-bit integer, so id is rendered to
// a deterministic string name.
func (m *MySQL) TryAdvisoryLock(ctx context.Context, id int64) (bool, error) {
	var held int64
	name := lockName(id)
	if err := m.db.QueryRowContext(ctx, `SELECT GET_LOCK(?, 0)`, name).Scan(&held); err != nil {
		return false, fmt.Errorf("rowstore: get_lock(%s): %w", name, err)
	}
	return held == 1, nil
}

func (m *MySQL) ReleaseAdvisoryLock(ctx context.Context, id int64) error {
	name := lockName(id)
	if _, err := m.db.ExecContext(ctx, `SELECT RELEASE_LOCK(?)`, name); err != nil {
		return fmt.Errorf("rowstore: release_lock(%s): %w", name, err)
	}
	return nil
}

func lockName(id int64) string {
	return "verifidb:" + strconv.FormatInt(id, 10)
}

// scanGenericRow decodes the current row of rows into a Row, with
// []byte values (MySQL's representation for TEXT/VARCHAR/DECIMAL
// columns read generically) converted to string so hash.RowValue's
// canonical JSON encoding matches what Postgres's row_to_json produces
// for the same logical value.
func scanGenericRow(rows *sql.Rows) (Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(Row, len(cols))
	for i, col := range cols {
		if b, ok := values[i].([]byte); ok {
			row[col] = string(b)
		} else {
			row[col] = values[i]
		}
	}
	return row, nil
}

// myIdent quotes a SQL identifier with MySQL's backtick syntax.
func myIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func myIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = myIdent(n)
	}
	return strings.Join(quoted, ", ")
}
