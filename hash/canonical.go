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

// Package hash implements the canonical, domain-separated hashing scheme
// (C1) used to derive Sparse Merkle Tree leaf keys and leaf values from
// row identities and row contents.
//
// Two tags keep the two hash families from ever colliding with each
// other: a leaf-value hash can never be mistaken for a leaf-key hash,
// regardless of what bytes a row happens to serialize to.
package hash

import (
	"crypto/sha256"
	"fmt"

	"github.com/verifidb/verifidb/digest"
)

const (
	// tagLeaf domain-separates row-value hashes (H1).
	tagLeaf = "VERIFLEAF"
	// tagNode domain-separates (table, primary key) hashes (H2).
	tagNode = "VERIFNODE"
)

// Value computes H1(row) = SHA256(TAG_LEAF || canonical_json(row)).
//
// canonicalJSON must already have sorted object keys and compact
// formatting; see Canonicalize.
func Value(canonicalJSON []byte) digest.D {
	h := sha256.New()
	h.Write([]byte(tagLeaf))
	h.Write(canonicalJSON)
	var out digest.D
	copy(out[:], h.Sum(nil))
	return out
}

// Key computes H2(table, pk) = SHA256(TAG_NODE || table || pk).
//
// table and pk are appended positionally with no separator; tagNode has
// constant length so the concatenation is unambiguous across distinct
// (table, pk) pairs.
func Key(table, primaryKey string) digest.D {
	h := sha256.New()
	h.Write([]byte(tagNode))
	h.Write([]byte(table))
	h.Write([]byte(primaryKey))
	var out digest.D
	copy(out[:], h.Sum(nil))
	return out
}

// RowValue canonicalizes row and computes H1 of the result in one step.
func RowValue(row interface{}) (digest.D, error) {
	canon, err := Canonicalize(row)
	if err != nil {
		return digest.D{}, fmt.Errorf("hash: canonicalize row: %w", err)
	}
	return Value(canon), nil
}
