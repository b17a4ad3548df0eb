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

// Package digest defines the 32-byte digest type shared by the hashing,
// Merkle tree, verifier and storage layers.
package digest

import (
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of every digest in the system.
const Size = 32

// D is an opaque 32-byte digest. The zero value denotes an absent leaf.
type D [Size]byte

// Zero is the well-known "absent leaf" digest.
var Zero = D{}

// IsZero reports whether d is the all-zero digest.
func (d D) IsZero() bool {
	return d == Zero
}

// Hex returns the lowercase hex encoding of d.
func (d D) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d D) String() string {
	return d.Hex()
}

// Bytes returns a fresh copy of the underlying bytes.
func (d D) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

// FromBytes copies b into a D, erroring if b is not exactly Size bytes.
func FromBytes(b []byte) (D, error) {
	var d D
	if len(b) != Size {
		return d, fmt.Errorf("digest: want %d bytes, got %d", Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// FromHex decodes a hex string into a D.
func FromHex(s string) (D, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return D{}, fmt.Errorf("digest: invalid hex: %w", err)
	}
	return FromBytes(b)
}

// Bit returns the i-th most significant bit of d, where i=0 is the top bit.
// Used to walk the sparse Merkle tree from the root (depth 0) to the leaf
// (depth Size*8).
func (d D) Bit(i int) int {
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	return int((d[byteIdx] >> bitIdx) & 1)
}
