// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package database implements the durable persistence store for artifacts on
// DuckDB. It is the single source of truth: every mutating operation runs in
// one transaction, and no other package issues SQL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/logging"
)

// DB wraps the DuckDB connection and provides artifact data access.
type DB struct {
	conn         *sql.DB
	cfg          *config.DatabaseConfig
	queryTimeout time.Duration
}

// New creates a new database connection and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure parent directory exists for file-backed databases.
	// 0750 per gosec G301.
	if cfg.Path != ":memory:" && cfg.Path != "" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
	}

	// Disable auto-install/auto-load to prevent hangs in restricted
	// network environments; this core needs no extensions.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	db := &DB{
		conn:         conn,
		cfg:          cfg,
		queryTimeout: timeout,
	}

	// DuckDB is an embedded single-writer engine; a small pool avoids
	// write-write conflicts between connections.
	conn.SetMaxOpenConns(numThreads)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(0)

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	log := logging.Component("database")
	log.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Msg("database ready")

	return db, nil
}

// initialize creates the artifact schema if it does not exist.
func (db *DB) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), db.queryTimeout)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id VARCHAR PRIMARY KEY,
			conversation_id VARCHAR NOT NULL,
			message_id VARCHAR,
			title VARCHAR NOT NULL,
			type VARCHAR NOT NULL,
			content VARCHAR NOT NULL,
			language VARCHAR,
			version INTEGER NOT NULL,
			checksum VARCHAR NOT NULL,
			server_instance VARCHAR,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_accessed_at TIMESTAMP,
			metadata VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifact_versions (
			artifact_id VARCHAR NOT NULL,
			version INTEGER NOT NULL,
			content VARCHAR NOT NULL,
			checksum VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (artifact_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR PRIMARY KEY,
			conversation_id VARCHAR NOT NULL,
			role VARCHAR,
			content VARCHAR,
			metadata VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_conversation ON artifacts(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_message ON artifacts(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// ensureContext attaches the configured query timeout when the caller's
// context has no deadline of its own.
func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, db.queryTimeout)
}

// Ping verifies store reachability.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	return db.conn.PingContext(ctx)
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// closeQuietly closes a connection, logging failures at debug level.
func closeQuietly(conn *sql.DB) {
	if err := conn.Close(); err != nil {
		logging.Debug().Err(err).Msg("close database connection")
	}
}

// rollbackQuietly rolls a transaction back, ignoring the "already committed
// or rolled back" error that follows a successful commit.
func rollbackQuietly(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logging.Debug().Err(err).Msg("rollback transaction")
	}
}
