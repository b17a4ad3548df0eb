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
	"time"

	"github.com/go-redis/redis"
	"github.com/golang/glog"

	"github.com/verifidb/verifidb/digest"
)

// CachedStore wraps a Store with a Redis-backed read-through cache,
// playing the same role for node lookups that the teacher's subtree
// cache plays for tree subtrees: absorb repeat Get traffic so a hot
// proof-serving path doesn't round-trip to the rowstore's database for
// every sibling hash.
//
// Grounded in spirit on storage/cache's fill-then-serve pattern
// (subtree_cache_test.go's TestCacheFillOnlyReadsSubtrees /
// TestCacheGetNodesReadsSubtrees): misses fall through to the backing
// Store and populate the cache; writes go to the backing Store first
// and invalidate (rather than optimistically update) the cache entry,
// since a crash between the two would otherwise leave a stale read-hit.
type CachedStore struct {
	back  Store
	rdb   *redis.Client
	ttl   time.Duration
	keyfn func(digest.D) string
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps back with a Redis client's cache. ttl bounds how
// long a cached node value may be served without reconfirming against
// back; nodestore entries are content-addressed and therefore immutable
// for a given hash, so ttl exists only to bound unbounded cache growth,
// not for correctness.
func NewCachedStore(back Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		back: back,
		rdb:  rdb,
		ttl:  ttl,
		keyfn: func(h digest.D) string {
			return "merkle_node:" + h.Hex()
		},
	}
}

func (c *CachedStore) Get(ctx context.Context, hash digest.D) (digest.D, bool, error) {
	key := c.keyfn(hash)
	if b, err := c.rdb.Get(key).Bytes(); err == nil {
		v, derr := digestFromBytes(b)
		if derr == nil {
			return v, true, nil
		}
		glog.Warningf("nodestore: cache: discarding corrupt cached entry for %s: %v", key, derr)
	} else if err != redis.Nil {
		glog.Warningf("nodestore: cache: redis GET %s failed, falling through: %v", key, err)
	}

	v, found, err := c.back.Get(ctx, hash)
	if err != nil || !found {
		return v, found, err
	}
	if err := c.rdb.Set(key, v.Bytes(), c.ttl).Err(); err != nil {
		glog.Warningf("nodestore: cache: redis SET %s failed: %v", key, err)
	}
	return v, true, nil
}

func (c *CachedStore) Upsert(ctx context.Context, entries []Entry) error {
	if err := c.back.Upsert(ctx, entries); err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.rdb.Del(c.keyfn(e.Hash)).Err(); err != nil {
			glog.Warningf("nodestore: cache: redis DEL %s failed: %v", c.keyfn(e.Hash), err)
		}
	}
	return nil
}

func (c *CachedStore) ScanAll(ctx context.Context, fn func(Entry) error) error {
	return c.back.ScanAll(ctx, fn)
}

func (c *CachedStore) Truncate(ctx context.Context) error {
	if err := c.back.Truncate(ctx); err != nil {
		return err
	}
	// Best-effort: a full FLUSHDB would affect unrelated keys, so the
	// cache is left to expire via ttl instead of being swept here.
	return nil
}
