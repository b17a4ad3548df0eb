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

// Command verifidb-server assembles C1-C7 behind the gRPC admin/health
// surface (package grpcapi): the data-plane API a real deployment would
// front this with is out of scope (spec.md §1's non-goals), so this
// binary's job ends at wiring storage, the commitment manager, and the
// write/rebuild/service layers together and keeping them alive.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis"
	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	_ "github.com/lib/pq"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/verifidb/verifidb/commitment"
	"github.com/verifidb/verifidb/config"
	"github.com/verifidb/verifidb/grpcapi"
	"github.com/verifidb/verifidb/merkle"
	"github.com/verifidb/verifidb/metrics"
	"github.com/verifidb/verifidb/rebuild"
	"github.com/verifidb/verifidb/service"
	"github.com/verifidb/verifidb/storage/model"
	"github.com/verifidb/verifidb/storage/nodestore"
	"github.com/verifidb/verifidb/storage/rowstore"
	"github.com/verifidb/verifidb/telemetry"
	"github.com/verifidb/verifidb/writeengine"
)

// singleWriterLockID is the advisory lock every instance contends for
// at startup, carried over from original_source's fixed lock id for
// the single-writer guard.
const singleWriterLockID = 4_240_001

func main() {
	flag.Parse()
	if err := run(); err != nil {
		glog.Exitf("verifidb-server: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	redacted := cfg.Redacted()
	glog.Infof("verifidb-server: starting, config=%+v", redacted)

	db, driver, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := newRowStore(driver, db)
	if err != nil {
		return err
	}

	if err := model.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure model registry schema: %w", err)
	}
	registry, err := model.LoadFromDB(ctx, db)
	if err != nil {
		return fmt.Errorf("load model registry: %w", err)
	}
	glog.Infof("verifidb-server: loaded %d registered models: %v", len(registry.Names()), registry.Names())
	for _, name := range registry.Names() {
		m, _ := registry.Get(name)
		if err := rows.EnsureTable(ctx, m); err != nil {
			return fmt.Errorf("ensure table %q: %w", name, err)
		}
	}

	nodes, scanSource, err := newNodeStore(ctx, driver, db, cfg)
	if err != nil {
		return err
	}

	tree := merkle.New()
	leafCount, err := nodestore.Rehydrate(ctx, scanSource, tree)
	if err != nil {
		return fmt.Errorf("rehydrate tree: %w", err)
	}
	glog.Infof("verifidb-server: rehydrated %d leaves, root %s", leafCount, tree.Root().Hex())

	if cfg.AllowMultiInstance {
		glog.Warningf("verifidb-server: ALLOW_MULTI_INSTANCE set, skipping the single-writer advisory lock")
	} else {
		held, err := rows.TryAdvisoryLock(ctx, singleWriterLockID)
		if err != nil {
			return fmt.Errorf("acquire single-writer lock: %w", err)
		}
		if !held {
			return fmt.Errorf("verifidb-server: another instance already holds the single-writer lock (id %d); set ALLOW_MULTI_INSTANCE=true to override", singleWriterLockID)
		}
		defer func() {
			if err := rows.ReleaseAdvisoryLock(context.Background(), singleWriterLockID); err != nil {
				glog.Errorf("verifidb-server: release single-writer lock: %v", err)
			}
		}()
	}

	anchor, closeAnchor, err := newAnchor(ctx, cfg)
	if err != nil {
		return err
	}
	if closeAnchor != nil {
		defer closeAnchor()
	}

	committer, err := commitment.New(anchor, commitment.NewTrustedState(cfg.TrustedStatePath), cfg.BatchCommitSize)
	if err != nil {
		return err
	}
	if err := committer.Start(ctx, cfg.CommitTickInterval); err != nil {
		return fmt.Errorf("start commitment manager: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := committer.Shutdown(shutdownCtx); err != nil {
			glog.Errorf("verifidb-server: commitment manager shutdown: %v", err)
		}
	}()

	writer := writeengine.New(rows, nodes, tree, committer)
	rebuilder := rebuild.New(rows, nodes, tree, registry, committer, cfg.RebuildConcurrency)
	eng := service.New(rows, nodes, tree, registry, writer, committer, rebuilder)

	if cfg.ClearDB {
		glog.Warningf("verifidb-server: CLEAR_DB set, clearing all data before serving")
		if err := eng.Clear(ctx); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}

	metricsReg := metrics.New()
	metricsReg.MustRegisterAll(eng.MetricsCollectors()...)
	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsReg.Handler()}
		go func() {
			glog.Infof("verifidb-server: serving metrics on %s", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Errorf("verifidb-server: metrics server: %v", err)
			}
		}()
		defer metricsSrv.Close()
	}

	if cfg.StackdriverProjectID != "" {
		exporter, err := telemetry.Start(cfg.StackdriverProjectID)
		if err != nil {
			return fmt.Errorf("start telemetry exporter: %w", err)
		}
		defer exporter.Stop()
	}

	grpcSrv := grpcapi.New()
	grpcSrv.RegisterHealthSource(eng)
	grpcSrv.RefreshHealth()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}
	serveErrCh := make(chan error, 1)
	go func() {
		glog.Infof("verifidb-server: serving gRPC admin/health surface on %s", cfg.GRPCAddr)
		serveErrCh <- grpcSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		glog.Infof("verifidb-server: shutdown signal received")
		grpcSrv.GracefulStop()
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
	}
	return nil
}

// openDatabase opens db for the relational backend selected by
// databaseURL's scheme (postgres/mysql), returning the driver name
// used so callers can pick the matching rowstore.Store/nodestore.Store
// implementations.
func openDatabase(databaseURL string) (*sql.DB, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		return db, "postgres", nil
	case "mysql":
		dsn := strings.TrimPrefix(databaseURL, "mysql://")
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open mysql: %w", err)
		}
		return db, "mysql", nil
	default:
		return nil, "", fmt.Errorf("DATABASE_URL: unsupported scheme %q, want postgres or mysql", u.Scheme)
	}
}

func newRowStore(driver string, db *sql.DB) (rowstore.Store, error) {
	switch driver {
	case "postgres":
		return rowstore.NewPostgres(db), nil
	case "mysql":
		return rowstore.NewMySQL(db), nil
	default:
		return nil, fmt.Errorf("newRowStore: unknown driver %q", driver)
	}
}

// newNodeStore returns both the raw TxStore writeengine/rebuild need
// (CachedStore does not implement TxStore: no UpsertInTx, since writes
// must commit atomically inside the caller's row-write transaction)
// and a plain nodestore.Store used for the one read-heavy path outside
// that transactional discipline: startup rehydration. When REDIS_ADDR
// is set, rehydration scans through the cache decorator instead of the
// raw store. CachedStore.ScanAll reads straight from the backing store,
// so the rehydration scan itself is not served from Redis; the write
// path never touches Redis.
func newNodeStore(ctx context.Context, driver string, db *sql.DB, cfg *config.Config) (nodestore.TxStore, nodestore.Store, error) {
	var base nodestore.TxStore
	switch driver {
	case "postgres":
		store, err := nodestore.NewPostgres(ctx, db)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres node store: %w", err)
		}
		base = store
	case "mysql":
		store, err := nodestore.NewMySQL(ctx, db)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql node store: %w", err)
		}
		base = store
	default:
		return nil, nil, fmt.Errorf("newNodeStore: unknown driver %q", driver)
	}

	if cfg.RedisAddr == "" {
		return base, base, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	glog.Infof("verifidb-server: node store rehydration cached through redis at %s (ttl %s)", cfg.RedisAddr, cfg.RedisCacheTTL)
	return base, nodestore.NewCachedStore(base, rdb, cfg.RedisCacheTTL), nil
}

func newAnchor(ctx context.Context, cfg *config.Config) (commitment.Anchor, func(), error) {
	if cfg.AnchorRPCURL != "" {
		anchor, err := commitment.DialRPCAnchor(ctx, cfg.AnchorRPCURL, cfg.AnchorProgramID)
		if err != nil {
			return nil, nil, fmt.Errorf("dial rpc anchor: %w", err)
		}
		return anchor, anchor.Close, nil
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EtcdEndpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial etcd: %w", err)
	}
	anchor := commitment.NewEtcdAnchor(client, cfg.EtcdAnchorKey)
	return anchor, func() { client.Close() }, nil
}

