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

// Package config loads the service's environment-variable configuration
// (spec.md §6) into a single typed Config. This is the one ambient
// concern the corpus carries on the standard library rather than a
// third-party flags/config library: the teacher's own server binaries
// read os.Getenv directly rather than reaching for viper/envconfig/etc.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	// DatabaseURL selects both the relational backend and its DSN. The
	// scheme picks the driver: postgres:// or mysql://.
	DatabaseURL string

	// AnchorRPCURL, when set, selects the JSON-RPC Anchor implementation
	// instead of the default etcd one.
	AnchorRPCURL string
	// AnchorProgramID scopes the anchor's single slot (ANCHOR_PROGRAM_ID).
	AnchorProgramID string
	// EtcdEndpoints is used when AnchorRPCURL is empty (the default path).
	EtcdEndpoints []string
	// EtcdAnchorKey is the single key the default Anchor uses.
	EtcdAnchorKey string

	// BatchCommitSize is spec.md's B: the number of root advances between
	// background anchor commits.
	BatchCommitSize int
	// CommitTickInterval bounds how long a pending batch waits for a
	// trigger signal before the background committer re-checks anyway.
	CommitTickInterval time.Duration

	// TrustedStatePath is the on-disk crash-consistency file C6 owns.
	TrustedStatePath string

	// AllowMultiInstance opts out of the single-instance advisory-lock
	// guard (spec.md §5); every time it is honored it is logged at
	// glog.Warningf level by the caller.
	AllowMultiInstance bool
	// ClearDB, if set, tells the server to run service.Engine.Clear
	// before serving traffic. Clear runs after commitment.Manager.Start,
	// so a startup divergence warning from Start is still logged; the
	// flag does not suppress it.
	ClearDB bool

	// GRPCAddr is the listen address for grpcapi.
	GRPCAddr string
	// MetricsAddr, if non-empty, serves /metrics on this address.
	MetricsAddr string

	// StackdriverProjectID, if set, enables the optional opencensus
	// Stackdriver trace exporter.
	StackdriverProjectID string

	// RedisAddr, if set, fronts the node store with a read-through
	// cache (storage/nodestore.CachedStore).
	RedisAddr string
	// RedisCacheTTL bounds how long a cached node value is served
	// before the cache re-confirms against the backing store.
	RedisCacheTTL time.Duration

	// RebuildConcurrency bounds how many tables the rebuild coordinator
	// (C7) scans at once. 0 means unbounded.
	RebuildConcurrency int
}

// Load reads and validates configuration from the environment. It fails
// closed: any required variable that is missing or malformed is an
// error, never a silently-applied default, except where noted below.
func Load() (*Config, error) {
	c := &Config{
		EtcdAnchorKey:      getenv("ANCHOR_ETCD_KEY", "/verifidb/anchor_root"),
		TrustedStatePath:   getenv("TRUSTED_STATE_PATH", "/var/lib/verifidb/trusted-state.json"),
		GRPCAddr:           getenv("GRPC_ADDR", ":7070"),
		MetricsAddr:        getenv("METRICS_ADDR", ""),
		CommitTickInterval: 5 * time.Second,
	}

	c.DatabaseURL = os.Getenv("DATABASE_URL")
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	c.AnchorRPCURL = os.Getenv("ANCHOR_RPC_URL")
	c.AnchorProgramID = os.Getenv("ANCHOR_PROGRAM_ID")
	if c.AnchorRPCURL != "" && c.AnchorProgramID == "" {
		return nil, fmt.Errorf("config: ANCHOR_PROGRAM_ID is required when ANCHOR_RPC_URL is set")
	}
	if endpoints := os.Getenv("ETCD_ENDPOINTS"); endpoints != "" {
		c.EtcdEndpoints = splitCSV(endpoints)
	} else if c.AnchorRPCURL == "" {
		return nil, fmt.Errorf("config: one of ETCD_ENDPOINTS or ANCHOR_RPC_URL is required")
	}

	rawBatchSize := os.Getenv("BATCH_COMMIT_SIZE")
	if rawBatchSize == "" {
		return nil, fmt.Errorf("config: BATCH_COMMIT_SIZE is required")
	}
	batchSize, err := strconv.Atoi(rawBatchSize)
	if err != nil {
		return nil, fmt.Errorf("config: BATCH_COMMIT_SIZE: %w", err)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("config: BATCH_COMMIT_SIZE must be >= 1, got %d", batchSize)
	}
	c.BatchCommitSize = batchSize

	if interval := os.Getenv("COMMIT_TICK_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("config: COMMIT_TICK_INTERVAL: %w", err)
		}
		c.CommitTickInterval = d
	}

	allowMulti, err := getenvBool("ALLOW_MULTI_INSTANCE", false)
	if err != nil {
		return nil, err
	}
	c.AllowMultiInstance = allowMulti

	clearDB, err := getenvBool("CLEAR_DB", false)
	if err != nil {
		return nil, err
	}
	c.ClearDB = clearDB

	c.StackdriverProjectID = os.Getenv("STACKDRIVER_PROJECT_ID")

	c.RedisAddr = os.Getenv("REDIS_ADDR")
	if ttl := os.Getenv("REDIS_CACHE_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("config: REDIS_CACHE_TTL: %w", err)
		}
		c.RedisCacheTTL = d
	} else {
		c.RedisCacheTTL = 10 * time.Minute
	}

	rebuildConcurrency, err := getenvInt("REBUILD_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	c.RebuildConcurrency = rebuildConcurrency

	return c, nil
}

// Redacted returns a copy of c with DatabaseURL's credentials elided,
// suitable for logging or echoing back to an operator terminal (used by
// cmd/verifidb-preflight).
func (c *Config) Redacted() Config {
	cp := *c
	cp.DatabaseURL = redactDSN(c.DatabaseURL)
	return cp
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
