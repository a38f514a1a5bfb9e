// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package artifact

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/metrics"
	"github.com/tomtom215/artificer/internal/models"
)

// MigrateConversationArtifacts converts legacy messages that still carry
// embedded artifact data into canonical artifact records. The operation is
// idempotent: artifact ids are derived deterministically from the message, so
// re-running a partially failed migration skips what already landed. One bad
// message never aborts the batch; failures are accumulated per message.
func (s *Service) MigrateConversationArtifacts(ctx context.Context, conversationID string) (*models.MigrationResult, error) {
	if conversationID == "" {
		return nil, apperrors.Validationf("conversation id is required")
	}

	start := time.Now()
	result := &models.MigrationResult{ConversationID: conversationID}

	messages, err := s.db.ListMessagesByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	for _, msg := range messages {
		embedded := msg.Metadata.EmbeddedArtifact
		if embedded == nil || msg.Metadata.ArtifactMigrated {
			result.SkippedCount++
			continue
		}

		if err := s.migrateMessage(ctx, msg, embedded); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, models.MigrationError{
				MessageID: msg.ID,
				Reason:    err.Error(),
			})
			metrics.MigrationsFailed.Inc()
			s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("message migration failed")
			continue
		}

		result.MigratedCount++
		metrics.MigrationsMigrated.Inc()
	}

	result.Duration = time.Since(start)
	s.log.Info().
		Str("conversation_id", conversationID).
		Int("migrated", result.MigratedCount).
		Int("failed", result.FailedCount).
		Int("skipped", result.SkippedCount).
		Msg("conversation migration finished")

	return result, nil
}

// migrateMessage converts one legacy message's embedded artifact.
func (s *Service) migrateMessage(ctx context.Context, msg *models.Message, embedded *models.EmbeddedArtifact) error {
	if embedded.Content == "" {
		return fmt.Errorf("embedded artifact has no content")
	}
	if !models.ValidArtifactType(embedded.Type) {
		return fmt.Errorf("unsupported embedded artifact type %q", embedded.Type)
	}

	id := migrationArtifactID(msg.ConversationID, msg.ID, 0)

	// A record with the derived id means an earlier run already converted
	// this message but died before marking it; finish the bookkeeping.
	if _, err := s.db.GetArtifact(ctx, id); err == nil {
		return s.db.MarkMessageMigrated(ctx, msg.ID, id)
	} else if !apperrors.IsNotFound(err) {
		return err
	}

	title := embedded.Title
	if title == "" {
		title = "Migrated artifact"
	}

	now := time.Now().UTC()
	a := &models.Artifact{
		ID:             id,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Title:          title,
		Type:           embedded.Type,
		Content:        embedded.Content,
		Language:       embedded.Language,
		Version:        1,
		ServerInstance: s.instanceID,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		Metadata:       models.ArtifactMetadata{SyncStatus: models.SyncSynced},
	}

	if err := s.layer.StoreArtifact(ctx, a); err != nil {
		return err
	}
	return s.db.MarkMessageMigrated(ctx, msg.ID, id)
}

// migrationArtifactID derives a stable UUID-shaped id for a migrated
// artifact from its source coordinates, so retried migrations converge on
// the same record.
func migrationArtifactID(conversationID, messageID string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", conversationID, messageID, index)))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// Unreachable: FromBytes only fails on length != 16.
		return uuid.New().String()
	}
	return id.String()
}
