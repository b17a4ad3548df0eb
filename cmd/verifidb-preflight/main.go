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

// Command verifidb-preflight validates that a configured environment
// can actually reach its database and anchor store before
// verifidb-server is started against it, echoing the resolved config
// with secrets redacted. It never mutates state.
//
// Grounded on original_source/src/bin/preflight.rs, which checks RPC
// connectivity, payer balance, and PDA existence before a Solana-backed
// deployment starts; this adaptation checks the two collaborators this
// module actually depends on, DATABASE_URL and the anchor store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"bitbucket.org/creachadair/shell"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/verifidb/verifidb/commitment"
	"github.com/verifidb/verifidb/config"
)

func usageAndExit() {
	fmt.Fprintln(os.Stderr, "Usage: verifidb-preflight [-timeout duration]")
	fmt.Fprintln(os.Stderr, "\nRequires the same environment variables as verifidb-server:")
	fmt.Fprintln(os.Stderr, "  DATABASE_URL, BATCH_COMMIT_SIZE, and one of ETCD_ENDPOINTS or ANCHOR_RPC_URL+ANCHOR_PROGRAM_ID")
	os.Exit(2)
}

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "per-check connectivity timeout")
	help := flag.Bool("help", false, "print usage")
	flag.Parse()
	if *help {
		usageAndExit()
	}

	if err := run(*timeout); err != nil {
		fmt.Fprintf(os.Stderr, "preflight: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("> Preflight OK.")
}

func run(timeout time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	printConfig(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := checkDatabase(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("database check: %w", err)
	}
	fmt.Println("  Database is reachable.")

	if err := checkAnchor(ctx, cfg); err != nil {
		return fmt.Errorf("anchor check: %w", err)
	}
	fmt.Println("  Anchor store is reachable.")

	return nil
}

// printConfig echoes the resolved, redacted config. Values are shell-quoted
// so an operator can copy a line straight into an `export` statement
// without a stray space or special character breaking it.
func printConfig(cfg *config.Config) {
	redacted := cfg.Redacted()
	fmt.Println("> Preflight: resolved configuration")
	fmt.Printf("  DATABASE_URL=%s\n", shell.Quote(redacted.DatabaseURL))
	if redacted.AnchorRPCURL != "" {
		fmt.Printf("  ANCHOR_RPC_URL=%s\n", shell.Quote(redacted.AnchorRPCURL))
		fmt.Printf("  ANCHOR_PROGRAM_ID=%s\n", shell.Quote(redacted.AnchorProgramID))
	} else {
		fmt.Printf("  ETCD_ENDPOINTS=%s\n", shell.Quote(strings.Join(redacted.EtcdEndpoints, ",")))
		fmt.Printf("  ANCHOR_ETCD_KEY=%s\n", shell.Quote(redacted.EtcdAnchorKey))
	}
	fmt.Printf("  BATCH_COMMIT_SIZE=%d\n", redacted.BatchCommitSize)
	fmt.Printf("  TRUSTED_STATE_PATH=%s\n", shell.Quote(redacted.TrustedStatePath))
	fmt.Printf("  GRPC_ADDR=%s\n", shell.Quote(redacted.GRPCAddr))
}

func checkDatabase(ctx context.Context, databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}

	var driver, dsn string
	switch u.Scheme {
	case "postgres", "postgresql":
		driver, dsn = "postgres", databaseURL
	case "mysql":
		driver, dsn = "mysql", strings.TrimPrefix(databaseURL, "mysql://")
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", driver, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", driver, err)
	}
	return nil
}

func checkAnchor(ctx context.Context, cfg *config.Config) error {
	if cfg.AnchorRPCURL != "" {
		anchor, err := commitment.DialRPCAnchor(ctx, cfg.AnchorRPCURL, cfg.AnchorProgramID)
		if err != nil {
			return err
		}
		defer anchor.Close()
		_, err = anchor.ReadRoot(ctx)
		return err
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EtcdEndpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("dial etcd: %w", err)
	}
	defer client.Close()

	anchor := commitment.NewEtcdAnchor(client, cfg.EtcdAnchorKey)
	_, err = anchor.ReadRoot(ctx)
	return err
}
