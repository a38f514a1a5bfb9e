// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/artificer/internal/models"
)

// ArtifactsHealth aggregates counts by sync status and flags records missing
// a checksum or stuck in a non-synced state beyond staleAge. Read-only;
// scoped to one conversation when conversationID is non-empty.
func (db *DB) ArtifactsHealth(ctx context.Context, conversationID string, staleAge time.Duration) (*models.ArtifactsHealth, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where := ""
	args := []any{}
	if conversationID != "" {
		where = " WHERE conversation_id = ?"
		args = append(args, conversationID)
	}

	health := &models.ArtifactsHealth{
		BySyncStatus: make(map[models.SyncStatus]int),
		CheckedAt:    time.Now().UTC(),
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT checksum, updated_at, metadata FROM artifacts`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("health scan: %w", err)
	}
	defer closeRows(rows)

	staleBefore := time.Now().Add(-staleAge)
	for rows.Next() {
		var (
			checksum  string
			updatedAt time.Time
			metaJSON  string
		)
		if err := rows.Scan(&checksum, &updatedAt, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan health row: %w", err)
		}

		health.Total++

		status := syncStatusFromMetadata(metaJSON)
		health.BySyncStatus[status]++

		if checksum == "" {
			health.MissingChecksum++
		}
		if status != models.SyncSynced && updatedAt.Before(staleBefore) {
			health.StaleNonSynced++
		}
	}
	return health, rows.Err()
}

// syncStatusFromMetadata pulls the sync status out of serialized metadata
// without a full unmarshal round-trip failing the whole scan: a row with
// unreadable metadata is counted as error status rather than aborting.
func syncStatusFromMetadata(metaJSON string) models.SyncStatus {
	var meta models.ArtifactMetadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil || meta.SyncStatus == "" {
		return models.SyncError
	}
	return meta.SyncStatus
}
