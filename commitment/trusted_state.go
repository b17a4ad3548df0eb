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

package commitment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/verifidb/verifidb/digest"
)

// trustedStateJSON is the on-disk shape from spec.md §6: {"root":
// hex_32_bytes, "timestamp": unsigned_seconds}.
type trustedStateJSON struct {
	Root      string `json:"root"`
	Timestamp int64  `json:"timestamp"`
}

// TrustedState is the crash-consistent local record of the last
// temp_root. Rewritten in full on every advance via write-to-temp +
// rename, since a bare overwrite is not atomic on every filesystem.
type TrustedState struct {
	path string
}

// NewTrustedState wraps the file at path.
func NewTrustedState(path string) *TrustedState {
	return &TrustedState{path: path}
}

// Load reads the trusted-state file, returning (nil, nil) if it does
// not exist yet (first-ever startup).
func (t *TrustedState) Load() (*LoadedState, error) {
	b, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("commitment: read trusted-state file %q: %w", t.path, err)
	}

	var raw trustedStateJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("commitment: parse trusted-state file %q: %w", t.path, err)
	}
	root, err := digest.FromHex(raw.Root)
	if err != nil {
		return nil, fmt.Errorf("commitment: trusted-state file %q has a malformed root: %w", t.path, err)
	}
	return &LoadedState{Root: root, Timestamp: time.Unix(raw.Timestamp, 0)}, nil
}

// Save overwrites the trusted-state file with root and timestamp,
// atomically via write-to-temp-then-rename.
func (t *TrustedState) Save(root digest.D, timestamp time.Time) error {
	raw := trustedStateJSON{Root: root.Hex(), Timestamp: timestamp.Unix()}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("commitment: encode trusted state: %w", err)
	}

	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, ".trusted-state-*.tmp")
	if err != nil {
		return fmt.Errorf("commitment: create temp trusted-state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("commitment: write temp trusted-state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("commitment: sync temp trusted-state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("commitment: close temp trusted-state file: %w", err)
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		return fmt.Errorf("commitment: rename trusted-state file into place: %w", err)
	}
	return nil
}

// LoadedState is the decoded contents of the trusted-state file.
type LoadedState struct {
	Root      digest.D
	Timestamp time.Time
}
