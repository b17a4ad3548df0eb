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

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/verifidb/verifidb/digest"
)

// RPCAnchor is the alternate Anchor implementation, for deployments
// that point ANCHOR_RPC_URL at a JSON-RPC-speaking anchor program
// instead of etcd — the shape original_source/src/infra/solana/client.rs
// talks to, generalized here to a plain JSON-RPC transport rather than
// Solana's wire format, since no Solana client library is available in
// this module's dependency pack.
//
// The three anchor methods are modeled as JSON-RPC methods scoped to
// programID: "verifidb_initialize", "verifidb_readRoot",
// "verifidb_writeRoot".
type RPCAnchor struct {
	client    *rpc.Client
	programID string
}

var _ Anchor = (*RPCAnchor)(nil)

// DialRPCAnchor connects to rpcURL (ANCHOR_RPC_URL) for the account
// identified by programID (ANCHOR_PROGRAM_ID).
func DialRPCAnchor(ctx context.Context, rpcURL, programID string) (*RPCAnchor, error) {
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("commitment: dial anchor rpc %q: %w", rpcURL, err)
	}
	return &RPCAnchor{client: client, programID: programID}, nil
}

func (a *RPCAnchor) Initialize(ctx context.Context) error {
	if err := a.client.CallContext(ctx, nil, "verifidb_initialize", a.programID); err != nil {
		return fmt.Errorf("commitment: rpc anchor initialize: %w", err)
	}
	return nil
}

func (a *RPCAnchor) ReadRoot(ctx context.Context) (digest.D, error) {
	var hexRoot string
	if err := a.client.CallContext(ctx, &hexRoot, "verifidb_readRoot", a.programID); err != nil {
		return digest.Zero, fmt.Errorf("commitment: rpc anchor read_root: %w", err)
	}
	root, err := digest.FromHex(hexRoot)
	if err != nil {
		return digest.Zero, fmt.Errorf("commitment: rpc anchor malformed root: %w", err)
	}
	return root, nil
}

func (a *RPCAnchor) WriteRoot(ctx context.Context, root digest.D) error {
	if err := a.client.CallContext(ctx, nil, "verifidb_writeRoot", a.programID, root.Hex()); err != nil {
		return fmt.Errorf("commitment: rpc anchor write_root: %w", err)
	}
	return nil
}

func (a *RPCAnchor) Close() {
	a.client.Close()
}
