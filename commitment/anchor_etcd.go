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
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/verifidb/verifidb/digest"
)

// EtcdAnchor is the primary Anchor implementation: a single etcd key
// holds the most recently committed root. etcd's linearizable reads
// give read_root the "strongly consistent after write_root
// acknowledges" guarantee spec.md §6 requires without any extra
// coordination.
//
// Grounded on the teacher's own use of go.etcd.io/etcd/client/v3 for
// its own coordination needs; adapted here from a tree-storage
// coordination role into the single-slot commitment role spec.md
// assigns the anchor.
type EtcdAnchor struct {
	client *clientv3.Client
	key    string
}

var _ Anchor = (*EtcdAnchor)(nil)

// NewEtcdAnchor wraps an existing etcd client. key is the single slot
// the anchor root is stored at (e.g. "/verifidb/anchor_root").
func NewEtcdAnchor(client *clientv3.Client, key string) *EtcdAnchor {
	return &EtcdAnchor{client: client, key: key}
}

func (a *EtcdAnchor) Initialize(ctx context.Context) error {
	resp, err := a.client.Get(ctx, a.key)
	if err != nil {
		return fmt.Errorf("commitment: etcd anchor get %q: %w", a.key, err)
	}
	if len(resp.Kvs) > 0 {
		return nil
	}
	if _, err := a.client.Put(ctx, a.key, digest.Zero.Hex()); err != nil {
		return fmt.Errorf("commitment: etcd anchor seed %q: %w", a.key, err)
	}
	return nil
}

func (a *EtcdAnchor) ReadRoot(ctx context.Context) (digest.D, error) {
	// A linearizable (the default) read, not WithSerializable: spec.md
	// §6 requires read_root to be strongly consistent after write_root
	// acknowledges.
	resp, err := a.client.Get(ctx, a.key)
	if err != nil {
		return digest.Zero, fmt.Errorf("commitment: etcd anchor read_root: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return digest.Zero, nil
	}
	root, err := digest.FromHex(string(resp.Kvs[0].Value))
	if err != nil {
		return digest.Zero, fmt.Errorf("commitment: etcd anchor malformed root at %q: %w", a.key, err)
	}
	return root, nil
}

func (a *EtcdAnchor) WriteRoot(ctx context.Context, root digest.D) error {
	if _, err := a.client.Put(ctx, a.key, root.Hex()); err != nil {
		return fmt.Errorf("commitment: etcd anchor write_root: %w", err)
	}
	return nil
}
