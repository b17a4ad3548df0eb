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

// Package commitment implements the Commitment (Root) Manager (C6):
// the dual-root system that advances a fast in-memory temp_root on
// every write, batches it into a slow anchor_root published to an
// external anchor store, and enforces the single-writer root lock
// every mutating operation in the system goes through.
//
// Grounded on original_source/src/domain/commitment/root_manager.rs:
// the startup divergence check, the write-before-memory-update
// ordering in advance(), the spin-wait on commit-in-progress, and
// force_set's reset of the update counter are all carried over from
// that file, restructured around a sync.Mutex root lock and a
// goroutine-based background committer instead of an async task.
package commitment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/verifidb/verifidb/digest"
	"github.com/verifidb/verifidb/writeengine"
)

// Anchor is the external single-slot commitment store (spec.md §6's
// anchor store contract).
type Anchor interface {
	Initialize(ctx context.Context) error
	ReadRoot(ctx context.Context) (digest.D, error)
	WriteRoot(ctx context.Context, root digest.D) error
}

var _ writeengine.RootLocker = (*Manager)(nil)

// Manager holds temp_root and anchor_root, serializes every mutation
// through a single root lock, and runs a background goroutine that
// periodically commits temp_root to anchor once BatchCommitSize writes
// have accumulated.
type Manager struct {
	anchor     Anchor
	state      *TrustedState
	batchSize  int
	clock      func() time.Time

	mu           sync.Mutex // the root lock
	tempRoot     digest.D
	anchorRoot   digest.D
	n            int
	commitInProg bool

	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New constructs a Manager. batchSize is spec.md's BATCH_COMMIT_SIZE
// (B); it must be >= 1.
func New(anchor Anchor, state *TrustedState, batchSize int) (*Manager, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("commitment: BATCH_COMMIT_SIZE must be >= 1, got %d", batchSize)
	}
	return &Manager{
		anchor:    anchor,
		state:     state,
		batchSize: batchSize,
		clock:     time.Now,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start runs the startup protocol (spec.md §4.6) and launches the
// background committer. tickInterval bounds how long a pending batch
// can wait for a trigger signal before the committer re-checks anyway.
func (m *Manager) Start(ctx context.Context, tickInterval time.Duration) error {
	if err := m.anchor.Initialize(ctx); err != nil {
		return fmt.Errorf("commitment: anchor initialize: %w", err)
	}
	anchorRoot, err := m.anchor.ReadRoot(ctx)
	if err != nil {
		return fmt.Errorf("commitment: anchor read_root: %w", err)
	}

	m.mu.Lock()
	m.anchorRoot = anchorRoot

	fileState, err := m.state.Load()
	switch {
	case err != nil:
		m.mu.Unlock()
		return fmt.Errorf("commitment: load trusted state: %w", err)
	case fileState != nil && fileState.Root != anchorRoot:
		glog.Warningf("commitment: startup divergence: trusted-state root %s != anchor root %s; a pending batch was not yet anchored",
			fileState.Root.Hex(), anchorRoot.Hex())
		m.tempRoot = fileState.Root
	default:
		m.tempRoot = anchorRoot
		if err := m.state.Save(m.tempRoot, m.clock()); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("commitment: write trusted state: %w", err)
		}
	}
	m.mu.Unlock()

	go m.runBackgroundCommitter(ctx, tickInterval)
	return nil
}

// CurrentRoot returns temp_root. It takes the root lock only long
// enough to copy the value out; a stale read past that point is
// acceptable for the common case (the read path combines it with a
// proof verification that will fail on a genuinely stale root).
func (m *Manager) CurrentRoot() digest.D {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tempRoot
}

// WithRootLock implements writeengine.RootLocker: it holds the root
// lock for the entire duration of fn, spin-waiting first if a
// background commit is in progress (spec.md §4.6 step 1 of advance).
func (m *Manager) WithRootLock(ctx context.Context, fn func(trustedRoot digest.D) (digest.D, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.commitInProg {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			m.mu.Lock()
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
		m.mu.Lock()
	}

	newRoot, err := fn(m.tempRoot)
	if err != nil {
		return err
	}
	return m.advanceLocked(newRoot)
}

// advanceLocked implements advance(new_root) from spec.md §4.6; the
// caller must already hold m.mu.
func (m *Manager) advanceLocked(newRoot digest.D) error {
	if err := m.state.Save(newRoot, m.clock()); err != nil {
		return fmt.Errorf("commitment: persist trusted state: %w", err)
	}
	m.tempRoot = newRoot
	m.n++
	if m.n%m.batchSize == 0 {
		select {
		case m.triggerCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// ForceSet implements force_set(new_root) from spec.md §4.7, used
// directly by tests and by callers that have already computed
// new_root outside the root lock.
func (m *Manager) ForceSet(ctx context.Context, newRoot digest.D) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forceSetLocked(ctx, newRoot)
}

// WithForcedRootLock holds the root lock for the duration of fn (the
// rebuild coordinator's truncate-then-rescan of every table) and, only
// if fn succeeds, applies force_set to the root fn returns — all
// without releasing the lock in between, so no write can observe the
// tree mid-rebuild or between the rebuild finishing and both roots
// being aligned.
func (m *Manager) WithForcedRootLock(ctx context.Context, fn func() (newRoot digest.D, err error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.commitInProg {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			m.mu.Lock()
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
		m.mu.Lock()
	}

	newRoot, err := fn()
	if err != nil {
		return err
	}
	return m.forceSetLocked(ctx, newRoot)
}

// forceSetLocked is the body of force_set(); the caller must hold m.mu.
func (m *Manager) forceSetLocked(ctx context.Context, newRoot digest.D) error {
	m.commitInProg = true
	defer func() { m.commitInProg = false }()

	if err := m.state.Save(newRoot, m.clock()); err != nil {
		return fmt.Errorf("commitment: persist trusted state: %w", err)
	}
	m.tempRoot = newRoot
	m.anchorRoot = newRoot
	m.n = 0

	if err := m.anchor.WriteRoot(ctx, newRoot); err != nil {
		return fmt.Errorf("commitment: force_set anchor write_root: %w", err)
	}
	return nil
}

// Shutdown implements graceful shutdown from spec.md §4.6: if
// temp_root and anchor_root have diverged, commit synchronously before
// stopping the background committer.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.stopCh)
	<-m.doneCh

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tempRoot == m.anchorRoot {
		return nil
	}
	if err := m.anchor.WriteRoot(ctx, m.tempRoot); err != nil {
		return fmt.Errorf("commitment: shutdown anchor commit: %w", err)
	}
	m.anchorRoot = m.tempRoot
	return nil
}

func (m *Manager) runBackgroundCommitter(ctx context.Context, tickInterval time.Duration) {
	defer close(m.doneCh)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-m.triggerCh:
			m.checkAndCommit(ctx)
		case <-ticker.C:
			m.checkAndCommit(ctx)
		}
	}
}

// checkAndCommit implements the background committer step of spec.md
// §4.6: commit temp_root to the anchor if a batch boundary has been
// reached and the two roots have diverged. The decision and the
// commitInProg flag are taken under the root lock; the lock is then
// released for the anchor RPC itself, and a writer arriving meanwhile
// spin-waits in WithRootLock until commitInProg clears.
func (m *Manager) checkAndCommit(ctx context.Context) {
	m.mu.Lock()
	shouldCommit := m.n > 0 && m.n%m.batchSize == 0 && m.tempRoot != m.anchorRoot
	if !shouldCommit {
		m.mu.Unlock()
		return
	}
	m.commitInProg = true
	root := m.tempRoot
	m.mu.Unlock()

	err := m.anchor.WriteRoot(ctx, root)

	m.mu.Lock()
	if err != nil {
		glog.Errorf("commitment: background anchor commit failed, will retry: %v", err)
	} else {
		m.anchorRoot = root
	}
	m.commitInProg = false
	m.mu.Unlock()
}
