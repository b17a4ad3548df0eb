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

// Package verify implements the Proof Verifier (C4): a pure function
// over (old root, new root, keys, old values, new values, proof).
//
// Grounded on original_source's verify_smt_multi_update_proof_with_old_values
// (src/domain/verify/verifier.rs): unlike that prototype's earlier,
// unsafe helpers which assumed the prior leaf value was always zero, the
// only entry point kept here requires explicit old values, since the
// write engine supports upsert (spec.md §4.4 "why old values are
// required").
package verify

import (
	"github.com/verifidb/verifidb/digest"
	"github.com/verifidb/verifidb/merkle"
)

// Transition verifies that, for the given keys, oldValues is consistent
// with trustedRoot and newValues is consistent with proposedRoot, both
// against the same proof. It never panics or returns an error: a
// malformed proof or mismatched slice lengths simply yields false.
func Transition(trustedRoot, proposedRoot digest.D, keys []digest.D, oldValues, newValues []digest.D, proof *merkle.Proof) bool {
	if len(keys) == 0 || len(keys) != len(oldValues) || len(keys) != len(newValues) {
		return false
	}

	oldLeaves := make([]merkle.LeafUpdate, len(keys))
	newLeaves := make([]merkle.LeafUpdate, len(keys))
	for i, k := range keys {
		oldLeaves[i] = merkle.LeafUpdate{Key: k, Value: oldValues[i]}
		newLeaves[i] = merkle.LeafUpdate{Key: k, Value: newValues[i]}
	}

	gotOldRoot, err := merkle.ComputeRoot(proof, oldLeaves)
	if err != nil || gotOldRoot != trustedRoot {
		return false
	}

	gotNewRoot, err := merkle.ComputeRoot(proof, newLeaves)
	if err != nil || gotNewRoot != proposedRoot {
		return false
	}

	return true
}

// Inclusion verifies that a single (key, value) leaf is consistent with
// root under proof — the read-path check (spec.md §2 "data flow for a
// read").
func Inclusion(root digest.D, key, value digest.D, proof *merkle.Proof) bool {
	got, err := merkle.ComputeRoot(proof, []merkle.LeafUpdate{{Key: key, Value: value}})
	if err != nil {
		return false
	}
	return got == root
}
