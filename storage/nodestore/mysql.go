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
	"fmt"

	// Registers the "mysql" sql.DB driver, the alternate rowstore/nodestore
	// backend named in spec.md's storage contract.
	_ "github.com/go-sql-driver/mysql"

	"github.com/verifidb/verifidb/digest"
)

const merkleNodesDDLMySQL = `CREATE TABLE IF NOT EXISTS merkle_nodes (
	node_hash  VARBINARY(32) PRIMARY KEY,
	node_value VARBINARY(32) NOT NULL
)`

const upsertSQLMySQL = `INSERT INTO merkle_nodes (node_hash, node_value)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE node_value = VALUES(node_value)`

// MySQL is the alternate nodestore.Store implementation for deployments
// running a MySQL-family rowstore instead of Postgres.
type MySQL struct {
	db *sql.DB
}

var (
	_ Store   = (*MySQL)(nil)
	_ TxStore = (*MySQL)(nil)
)

// NewMySQL wraps an open *sql.DB and ensures the merkle_nodes table
// exists.
func NewMySQL(ctx context.Context, db *sql.DB) (*MySQL, error) {
	if _, err := db.ExecContext(ctx, merkleNodesDDLMySQL); err != nil {
		return nil, fmt.Errorf("nodestore: ensure merkle_nodes schema: %w", err)
	}
	return &MySQL{db: db}, nil
}

func (m *MySQL) Upsert(ctx context.Context, entries []Entry) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("nodestore: begin: %w", err)
	}
	if err := m.UpsertInTx(ctx, tx, entries); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (m *MySQL) UpsertInTx(ctx context.Context, tx *sql.Tx, entries []Entry) error {
	stmt, err := tx.PrepareContext(ctx, upsertSQLMySQL)
	if err != nil {
		return fmt.Errorf("nodestore: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Hash.Bytes(), e.Value.Bytes()); err != nil {
			return fmt.Errorf("nodestore: upsert %x: %w", e.Hash.Bytes(), err)
		}
	}
	return nil
}

func (m *MySQL) Get(ctx context.Context, hash digest.D) (digest.D, bool, error) {
	var valueBytes []byte
	err := m.db.QueryRowContext(ctx, `SELECT node_value FROM merkle_nodes WHERE node_hash = ?`, hash.Bytes()).Scan(&valueBytes)
	if err == sql.ErrNoRows {
		return digest.Zero, false, nil
	}
	if err != nil {
		return digest.Zero, false, fmt.Errorf("nodestore: get %x: %w", hash.Bytes(), err)
	}
	value, err := digestFromBytes(valueBytes)
	if err != nil {
		return digest.Zero, false, err
	}
	return value, true, nil
}

func (m *MySQL) ScanAll(ctx context.Context, fn func(Entry) error) error {
	rows, err := m.db.QueryContext(ctx, `SELECT node_hash, node_value FROM merkle_nodes`)
	if err != nil {
		return fmt.Errorf("nodestore: scan_all query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hashBytes, valueBytes []byte
		if err := rows.Scan(&hashBytes, &valueBytes); err != nil {
			return fmt.Errorf("nodestore: scan_all row: %w", err)
		}
		hash, err := digestFromBytes(hashBytes)
		if err != nil {
			return err
		}
		value, err := digestFromBytes(valueBytes)
		if err != nil {
			return err
		}
		if err := fn(Entry{Hash: hash, Value: value}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (m *MySQL) Truncate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `TRUNCATE TABLE merkle_nodes`); err != nil {
		return fmt.Errorf("nodestore: truncate: %w", err)
	}
	return nil
}
