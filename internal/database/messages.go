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

	"github.com/goccy/go-json"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/models"
)

// InsertMessage stores a conversational message. The chat pipeline owns
// message content; this exists for migration fixtures and legacy import.
func (db *DB) InsertMessage(ctx context.Context, m *models.Message) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, string(metaJSON), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage loads one message by id.
func (db *DB) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at
		 FROM messages WHERE id = ?`, id)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("message %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

// ListMessagesByConversation returns a conversation's messages in creation
// order. The migration routine scans these for embedded artifact data.
func (db *DB) ListMessagesByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", conversationID, err)
	}
	defer closeRows(rows)

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessageMigrated sets the migrated flag and artifact back-reference on
// a legacy message after its embedded artifact has been promoted.
func (db *DB) MarkMessageMigrated(ctx context.Context, messageID, artifactID string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	m, err := db.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	meta := m.Metadata
	meta.ArtifactID = artifactID
	meta.ArtifactMigrated = true
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`UPDATE messages SET metadata = ? WHERE id = ?`, string(metaJSON), messageID)
	if err != nil {
		return fmt.Errorf("mark message %s migrated: %w", messageID, err)
	}
	return nil
}

// ListMessageArtifactRefs returns every message-to-artifact back-reference
// in the store, keyed by message id. The consistency scan uses this to find
// references to artifacts that no longer exist.
func (db *DB) ListMessageArtifactRefs(ctx context.Context) (map[string]string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, metadata FROM messages WHERE metadata LIKE '%"artifactId":"%'`)
	if err != nil {
		return nil, fmt.Errorf("list message artifact refs: %w", err)
	}
	defer closeRows(rows)

	refs := make(map[string]string)
	for rows.Next() {
		var id, metaJSON string
		if err := rows.Scan(&id, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan message ref: %w", err)
		}
		var meta models.MessageMetadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("unmarshal message metadata: %w", err)
		}
		if meta.ArtifactID != "" {
			refs[id] = meta.ArtifactID
		}
	}
	return refs, rows.Err()
}

// setMessageArtifactRef updates a message's artifact back-reference inside
// an existing transaction. Missing messages are tolerated: the artifact may
// outlive (or precede) its message record.
func setMessageArtifactRef(ctx context.Context, tx *sql.Tx, messageID, artifactID string) error {
	var metaJSON string
	err := tx.QueryRowContext(ctx,
		`SELECT metadata FROM messages WHERE id = ?`, messageID).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load message %s metadata: %w", messageID, err)
	}

	var meta models.MessageMetadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return fmt.Errorf("unmarshal message metadata: %w", err)
	}
	meta.ArtifactID = artifactID

	updated, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET metadata = ? WHERE id = ?`, string(updated), messageID); err != nil {
		return fmt.Errorf("set artifact ref on message %s: %w", messageID, err)
	}
	return nil
}

// clearMessageArtifactRef removes the back-reference from any message
// pointing at the artifact, inside an existing transaction.
func clearMessageArtifactRef(ctx context.Context, tx *sql.Tx, artifactID string) error {
	// Metadata is serialized compactly by goccy/go-json, so the back-
	// reference always appears as "artifactId":"<id>". Matching on the
	// serialized form avoids depending on the DuckDB JSON extension.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, metadata FROM messages
		 WHERE metadata LIKE ?`, `%"artifactId":"`+artifactID+`"%`)
	if err != nil {
		return fmt.Errorf("find messages referencing %s: %w", artifactID, err)
	}

	type ref struct {
		id   string
		meta models.MessageMetadata
	}
	var refs []ref
	for rows.Next() {
		var r ref
		var metaJSON string
		if err := rows.Scan(&r.id, &metaJSON); err != nil {
			closeRows(rows)
			return fmt.Errorf("scan message ref: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.meta); err != nil {
			closeRows(rows)
			return fmt.Errorf("unmarshal message metadata: %w", err)
		}
		refs = append(refs, r)
	}
	closeRows(rows)
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range refs {
		r.meta.ArtifactID = ""
		updated, err := json.Marshal(r.meta)
		if err != nil {
			return fmt.Errorf("marshal message metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET metadata = ? WHERE id = ?`, string(updated), r.id); err != nil {
			return fmt.Errorf("clear artifact ref on message %s: %w", r.id, err)
		}
	}
	return nil
}

func scanMessage(s scanner) (*models.Message, error) {
	var (
		m        models.Message
		role     sql.NullString
		content  sql.NullString
		metaJSON string
	)
	err := s.Scan(&m.ID, &m.ConversationID, &role, &content, &metaJSON, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Role = role.String
	m.Content = content.String
	if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal message metadata: %w", err)
	}
	return &m, nil
}
