// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/metrics"
	"github.com/tomtom215/artificer/internal/models"
)

const artifactColumns = `id, conversation_id, message_id, title, type, content, language,
	version, checksum, server_instance, created_at, updated_at, last_accessed_at, metadata`

// CreateArtifact inserts the artifact, its version-1 snapshot, and — when the
// artifact carries a message back-reference — the message metadata update,
// all in one transaction. Partial writes are never observable.
func (db *DB) CreateArtifact(ctx context.Context, a *models.Artifact) error {
	start := time.Now()
	err := db.createArtifact(ctx, a)
	metrics.ObserveStoreOp("create_artifact", start, err)
	return err
}

func (db *DB) createArtifact(ctx context.Context, a *models.Artifact) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", apperrors.ErrBackendUnavailable, err)
	}
	defer rollbackQuietly(tx)

	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ConversationID, nullable(a.MessageID), a.Title, string(a.Type), a.Content,
		nullable(a.Language), a.Version, a.Checksum, a.ServerInstance,
		a.CreatedAt, a.UpdatedAt, a.LastAccessedAt, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO artifact_versions (artifact_id, version, content, checksum, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Version, a.Content, a.Checksum, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert version snapshot: %w", err)
	}

	if a.MessageID != "" {
		if err := setMessageArtifactRef(ctx, tx, a.MessageID, a.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

// GetArtifact loads one artifact by id.
func (db *DB) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)

	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("artifact %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", id, err)
	}
	return a, nil
}

// UpdateArtifact rewrites the artifact record and appends the version
// snapshot in one transaction. The write only lands if the stored row still
// carries expectedVersion: a concurrent writer that moved the version first
// makes this call fail with lock contention instead of silently clobbering
// the other update.
func (db *DB) UpdateArtifact(ctx context.Context, a *models.Artifact, snapshot *models.ArtifactVersion, expectedVersion int) error {
	start := time.Now()
	err := db.updateArtifact(ctx, a, snapshot, expectedVersion)
	metrics.ObserveStoreOp("update_artifact", start, err)
	return err
}

func (db *DB) updateArtifact(ctx context.Context, a *models.Artifact, snapshot *models.ArtifactVersion, expectedVersion int) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", apperrors.ErrBackendUnavailable, err)
	}
	defer rollbackQuietly(tx)

	if snapshot != nil {
		// INSERT OR REPLACE keeps a retried update idempotent for the
		// same (artifact, version) pair.
		_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO artifact_versions
			(artifact_id, version, content, checksum, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			snapshot.ArtifactID, snapshot.Version, snapshot.Content, snapshot.Checksum, snapshot.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert version snapshot: %w", err)
		}
	}

	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE artifacts SET
		title = ?, type = ?, content = ?, language = ?, version = ?, checksum = ?,
		server_instance = ?, updated_at = ?, last_accessed_at = ?, metadata = ?
		WHERE id = ? AND version = ?`,
		a.Title, string(a.Type), a.Content, nullable(a.Language), a.Version, a.Checksum,
		a.ServerInstance, a.UpdatedAt, a.LastAccessedAt, string(metaJSON), a.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// The row is gone, or a concurrent writer already moved the version.
		var current int
		scanErr := tx.QueryRowContext(ctx,
			`SELECT version FROM artifacts WHERE id = ?`, a.ID).Scan(&current)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return apperrors.NotFoundf("artifact %s", a.ID)
		}
		return fmt.Errorf("%w: artifact %s version moved from %d to %d during update",
			apperrors.ErrLockContention, a.ID, expectedVersion, current)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// DeleteArtifact removes the artifact, every one of its version snapshots,
// and the back-reference on its originating message in one transaction.
func (db *DB) DeleteArtifact(ctx context.Context, id string) error {
	start := time.Now()
	err := db.deleteArtifact(ctx, id)
	metrics.ObserveStoreOp("delete_artifact", start, err)
	return err
}

func (db *DB) deleteArtifact(ctx context.Context, id string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", apperrors.ErrBackendUnavailable, err)
	}
	defer rollbackQuietly(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM artifact_versions WHERE artifact_id = ?`, id); err != nil {
		return fmt.Errorf("delete versions: %w", err)
	}

	if err := clearMessageArtifactRef(ctx, tx, id); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundf("artifact %s", id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// ListArtifactsByConversation returns all artifacts of a conversation in
// creation order.
func (db *DB) ListArtifactsByConversation(ctx context.Context, conversationID string) ([]*models.Artifact, error) {
	return db.listArtifacts(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE conversation_id = ? ORDER BY created_at, id`,
		conversationID)
}

// ListArtifactsByMessage returns the artifacts back-referencing a message.
func (db *DB) ListArtifactsByMessage(ctx context.Context, messageID string) ([]*models.Artifact, error) {
	return db.listArtifacts(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE message_id = ? ORDER BY created_at, id`,
		messageID)
}

// ListArtifactIDs pages through every artifact id, for consistency scans.
func (db *DB) ListArtifactIDs(ctx context.Context, limit, offset int) ([]string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id FROM artifacts ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list artifact ids: %w", err)
	}
	defer closeRows(rows)

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan artifact id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TouchLastAccessed records a read without bumping updated_at or version.
// Best-effort: callers log failures and carry on.
func (db *DB) TouchLastAccessed(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`UPDATE artifacts SET last_accessed_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("touch artifact %s: %w", id, err)
	}
	return nil
}

// listArtifacts runs a query returning full artifact rows.
func (db *DB) listArtifacts(ctx context.Context, query string, args ...any) ([]*models.Artifact, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer closeRows(rows)

	var out []*models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (*models.Artifact, error) {
	var (
		a            models.Artifact
		messageID    sql.NullString
		language     sql.NullString
		lastAccessed sql.NullTime
		metaJSON     string
		typ          string
	)

	err := s.Scan(&a.ID, &a.ConversationID, &messageID, &a.Title, &typ, &a.Content,
		&language, &a.Version, &a.Checksum, &a.ServerInstance,
		&a.CreatedAt, &a.UpdatedAt, &lastAccessed, &metaJSON)
	if err != nil {
		return nil, err
	}

	a.Type = models.ArtifactType(typ)
	a.MessageID = messageID.String
	a.Language = language.String
	if lastAccessed.Valid {
		a.LastAccessedAt = lastAccessed.Time
	}
	if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &a, nil
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		// Row iteration already surfaced the real error, if any.
		_ = err
	}
}
