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

package hash

import "testing"

func TestValueIsDomainSeparatedFromKey(t *testing.T) {
	canon, err := Canonicalize(map[string]interface{}{"a": 1})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	v := Value(canon)
	k := Key("widgets", "1")
	if v == k {
		t.Error("Value and Key produced the same digest for overlapping byte content")
	}
}

func TestValueIsDeterministic(t *testing.T) {
	canon, err := Canonicalize(map[string]interface{}{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if Value(canon) != Value(canon) {
		t.Error("Value is not deterministic for identical input")
	}
}

func TestKeyDiffersAcrossTablesForSamePK(t *testing.T) {
	if Key("widgets", "1") == Key("gadgets", "1") {
		t.Error("Key collided across distinct tables for the same primary key")
	}
}

func TestKeyDiffersAcrossPKsForSameTable(t *testing.T) {
	if Key("widgets", "1") == Key("widgets", "2") {
		t.Error("Key collided across distinct primary keys in the same table")
	}
}

func TestRowValueCanonicalizesThenHashes(t *testing.T) {
	row := map[string]interface{}{"b": 2, "a": 1}
	got, err := RowValue(row)
	if err != nil {
		t.Fatalf("RowValue: %v", err)
	}
	canon, err := Canonicalize(row)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if want := Value(canon); got != want {
		t.Errorf("RowValue = %x, want %x", got, want)
	}
}

func TestRowValueRejectsUnsupportedType(t *testing.T) {
	if _, err := RowValue(map[string]interface{}{"a": make(chan int)}); err == nil {
		t.Fatal("RowValue accepted an unsupported field type")
	}
}
