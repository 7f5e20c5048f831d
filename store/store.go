// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store is the backing transactional context of spec.md §5/§6: a
// single Postgres connection pool plus a helper, WithSerializableTx, for
// running a function inside one serialisable transaction. The Postgres
// VariantStore, ClusterIndex, ClusterStats, HistoryLog and MergeLog that
// cmd/snapperctl wires up write through the pool directly, so
// Registrar.Admit and Remover.Remove do not run inside WithSerializableTx
// and their writes are not committed as one unit.
//
// The pool wrapper itself is grounded on other_examples' google-skia-
// buildbot search2.go use of jackc/pgx/v4/pgxpool; the migration runner is
// grounded on TobiSchelling-AICrawler/internal/database's hand-rolled
// migrate.go, adapted from database/sql to pgx.
package store

import (
	"context"
	"fmt"

	"github.com/grailbio/base/log"
	"github.com/grailbio/snapper/snaperr"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// DB wraps a pgx connection pool and exposes it through Pool, plus
// WithSerializableTx for callers that need one serialisable transaction.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and verifies connectivity.
func Open(ctx context.Context, dsn string, maxConns int32) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "parsing dsn")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "connecting to store")
	}
	return &DB{pool: pool}, nil
}

// Close releases the pool's connections.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool exposes the underlying pgxpool.Pool; cmd/snapperctl builds every
// Postgres-backed collaborator, readers and writers alike, on it.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// WithSerializableTx runs fn inside a SERIALIZABLE transaction (spec.md §5:
// "the system... uses the backing transactional store's serialisable
// isolation to enforce [single-writer]"). Commits iff fn returns nil;
// otherwise rolls back. A serialization-failure error from Postgres is
// surfaced as a retriable snaperr.Store error (spec.md §7).
func (db *DB) WithSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return snaperr.E(snaperr.Store, err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error.Printf("store: rollback after error also failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return snaperr.E(snaperr.Store, err, "committing transaction; safe to retry")
	}
	return nil
}

// migrations is the ordered list of DDL statements that bring an empty
// database up to the logical schema of spec.md §6.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS contigs (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		length INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS samples (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		date_added TIMESTAMPTZ NOT NULL DEFAULT now(),
		ignore_sample BOOLEAN NOT NULL DEFAULT false,
		ignore_zscore BOOLEAN NOT NULL DEFAULT false,
		coverage_meta TEXT NOT NULL DEFAULT '',
		nlessness_meta TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS variants (
		sample_id BIGINT NOT NULL REFERENCES samples(id) ON DELETE CASCADE,
		contig_id INTEGER NOT NULL REFERENCES contigs(id),
		a_pos BYTEA NOT NULL,
		c_pos BYTEA NOT NULL,
		g_pos BYTEA NOT NULL,
		t_pos BYTEA NOT NULL,
		n_pos BYTEA NOT NULL,
		gap_pos BYTEA NOT NULL,
		PRIMARY KEY (sample_id, contig_id)
	)`,
	`CREATE TABLE IF NOT EXISTS contig_ignored (
		contig_id INTEGER PRIMARY KEY REFERENCES contigs(id),
		pos BYTEA NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sample_clusters (
		sample_id BIGINT PRIMARY KEY REFERENCES samples(id) ON DELETE CASCADE,
		t0 INTEGER NOT NULL, t5 INTEGER NOT NULL, t10 INTEGER NOT NULL,
		t25 INTEGER NOT NULL, t50 INTEGER NOT NULL, t100 INTEGER NOT NULL, t250 INTEGER NOT NULL,
		t0_mean DOUBLE PRECISION, t5_mean DOUBLE PRECISION, t10_mean DOUBLE PRECISION,
		t25_mean DOUBLE PRECISION, t50_mean DOUBLE PRECISION, t100_mean DOUBLE PRECISION, t250_mean DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS cluster_stats (
		level TEXT NOT NULL,
		cluster_name INTEGER NOT NULL,
		nof_members INTEGER NOT NULL,
		nof_pairwise_dists INTEGER NOT NULL,
		mean_pwise_dist DOUBLE PRECISION,
		stddev DOUBLE PRECISION,
		PRIMARY KEY (level, cluster_name)
	)`,
	`CREATE TABLE IF NOT EXISTS merge_log (
		id BIGSERIAL PRIMARY KEY,
		level TEXT NOT NULL,
		source INTEGER NOT NULL,
		target INTEGER NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sample_history (
		id BIGSERIAL PRIMARY KEY,
		sample_id BIGINT NOT NULL REFERENCES samples(id) ON DELETE CASCADE,
		t0_old INTEGER, t5_old INTEGER, t10_old INTEGER, t25_old INTEGER, t50_old INTEGER, t100_old INTEGER, t250_old INTEGER,
		t0_new INTEGER, t5_new INTEGER, t10_new INTEGER, t25_new INTEGER, t50_new INTEGER, t100_new INTEGER, t250_new INTEGER,
		renamed_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate applies every not-yet-applied migration. It is idempotent:
// every statement is guarded with IF NOT EXISTS.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return snaperr.E(snaperr.Store, err, fmt.Sprintf("migration %d failed", i))
		}
	}
	log.Debug.Printf("store: applied %d migrations", len(migrations))
	return nil
}
