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

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/models"
)

// ListVersions returns every snapshot for an artifact, oldest first.
func (db *DB) ListVersions(ctx context.Context, artifactID string) ([]*models.ArtifactVersion, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT artifact_id, version, content, checksum, created_at
		 FROM artifact_versions WHERE artifact_id = ? ORDER BY version`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", artifactID, err)
	}
	defer closeRows(rows)

	var out []*models.ArtifactVersion
	for rows.Next() {
		var v models.ArtifactVersion
		if err := rows.Scan(&v.ArtifactID, &v.Version, &v.Content, &v.Checksum, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// GetVersion returns one snapshot by artifact id and version number.
func (db *DB) GetVersion(ctx context.Context, artifactID string, version int) (*models.ArtifactVersion, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var v models.ArtifactVersion
	err := db.conn.QueryRowContext(ctx,
		`SELECT artifact_id, version, content, checksum, created_at
		 FROM artifact_versions WHERE artifact_id = ? AND version = ?`,
		artifactID, version,
	).Scan(&v.ArtifactID, &v.Version, &v.Content, &v.Checksum, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("artifact %s version %d", artifactID, version)
	}
	if err != nil {
		return nil, fmt.Errorf("get version %s/%d: %w", artifactID, version, err)
	}
	return &v, nil
}

// CountVersions returns the snapshot count for an artifact.
func (db *DB) CountVersions(ctx context.Context, artifactID string) (int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifact_versions WHERE artifact_id = ?`, artifactID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count versions for %s: %w", artifactID, err)
	}
	return n, nil
}
