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
	"errors"
	"sync"

	"github.com/verifidb/verifidb/digest"
)

var errAnchorInjected = errors.New("commitment: injected anchor failure")

// memoryAnchor is an in-process Anchor fake for manager_test.go. It
// counts WriteRoot calls so tests can assert on S4/S5's "exactly once
// per batch boundary" expectation.
type memoryAnchor struct {
	mu         sync.Mutex
	root       digest.D
	writeCount int
	failNext   bool
}

var _ Anchor = (*memoryAnchor)(nil)

func newMemoryAnchor() *memoryAnchor {
	return &memoryAnchor{}
}

func (a *memoryAnchor) Initialize(ctx context.Context) error { return nil }

func (a *memoryAnchor) ReadRoot(ctx context.Context) (digest.D, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.root, nil
}

func (a *memoryAnchor) WriteRoot(ctx context.Context, root digest.D) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.writeCount++
	if a.failNext {
		a.failNext = false
		return errAnchorInjected
	}
	a.root = root
	return nil
}

func (a *memoryAnchor) WriteCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeCount
}
