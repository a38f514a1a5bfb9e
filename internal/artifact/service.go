// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package artifact implements the authoritative artifact service: creation,
// versioned updates, deletion, queries, legacy-message migration, and health
// checks. All writes go through the optimization layer so the storage policy
// and distributed locking apply uniformly.
package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/cdn"
	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/database"
	"github.com/tomtom215/artificer/internal/logging"
	"github.com/tomtom215/artificer/internal/models"
	"github.com/tomtom215/artificer/internal/perf"
)

// Service is the authoritative artifact manager. The store it writes through
// the optimization layer is the single source of truth; caches and events are
// derived state.
type Service struct {
	db         *database.DB
	layer      *perf.Layer
	uploader   cdn.Uploader
	validate   *validator.Validate
	instanceID string
	staleAge   time.Duration
	log        zerolog.Logger
}

// NewService wires the artifact service.
func NewService(db *database.DB, layer *perf.Layer, uploader cdn.Uploader, cfg *config.Config) *Service {
	return &Service{
		db:         db,
		layer:      layer,
		uploader:   uploader,
		validate:   validator.New(),
		instanceID: cfg.Instance.ID,
		staleAge:   cfg.Monitor.StaleSyncAge,
		log:        logging.Component("artifact"),
	}
}

// CreateRequest carries the fields for a new artifact.
type CreateRequest struct {
	ConversationID string              `json:"conversationId" validate:"required"`
	MessageID      string              `json:"messageId"`
	Title          string              `json:"title" validate:"required,max=500"`
	Type           models.ArtifactType `json:"type" validate:"required"`
	Content        string              `json:"content" validate:"required"`
	Language       string              `json:"language"`
}

// UpdateRequest carries a partial artifact update. Nil fields are unchanged.
type UpdateRequest struct {
	ID       string  `json:"id" validate:"required"`
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	Language *string `json:"language,omitempty"`
}

// CreateArtifact validates the request, applies the storage policy, offloads
// renderable content to the distribution endpoint, and persists the record
// transactionally with its version-1 snapshot. The returned envelope carries
// the stored artifact with raw content.
func (s *Service) CreateArtifact(ctx context.Context, req CreateRequest) (*models.OperationResult, error) {
	if err := s.validateCreate(req); err != nil {
		return failure(err), err
	}

	now := time.Now().UTC()
	a := &models.Artifact{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Title:          req.Title,
		Type:           req.Type,
		Content:        req.Content,
		Language:       req.Language,
		Version:        1,
		ServerInstance: s.instanceID,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		Metadata:       models.ArtifactMetadata{SyncStatus: models.SyncSynced},
	}

	s.offload(ctx, a)

	raw := a.Content
	if err := s.layer.StoreArtifact(ctx, a); err != nil {
		return failure(err), err
	}

	stored := a.Clone()
	stored.Content = raw
	stored.Metadata.CompressionType = ""

	s.log.Info().
		Str("artifact_id", a.ID).
		Str("conversation_id", a.ConversationID).
		Str("type", string(a.Type)).
		Msg("artifact created")

	return &models.OperationResult{
		Success:    true,
		Artifact:   stored,
		Version:    stored.Version,
		SyncStatus: stored.Metadata.SyncStatus,
	}, nil
}

// UpdateArtifact applies a partial update under the artifact's distributed
// lock. The current record is re-read with the lock held so the version
// counter always increments off what is actually stored, and every field
// change — including title-only edits — produces a new version with its own
// snapshot.
func (s *Service) UpdateArtifact(ctx context.Context, req UpdateRequest) (*models.OperationResult, error) {
	if err := s.validate.Struct(req); err != nil {
		err = apperrors.Validationf("%v", err)
		return failure(err), err
	}

	result, err := s.layer.UpdateArtifact(ctx, req.ID, func(current *models.Artifact) (*models.Artifact, error) {
		updated := current.Clone()
		if err := perf.Materialize(updated); err != nil {
			return nil, err
		}

		if req.Title != nil {
			updated.Title = *req.Title
		}
		if req.Content != nil {
			updated.Content = *req.Content
		}
		if req.Language != nil {
			updated.Language = *req.Language
		}
		updated.Version = current.Version + 1
		updated.UpdatedAt = time.Now().UTC()
		updated.ServerInstance = s.instanceID
		updated.Metadata.SyncStatus = models.SyncSynced

		if req.Content != nil {
			s.offload(ctx, updated)
		}
		return updated, nil
	})
	if err != nil {
		return failure(err), err
	}

	s.log.Info().
		Str("artifact_id", result.ID).
		Int("version", result.Version).
		Msg("artifact updated")

	return &models.OperationResult{
		Success:    true,
		Artifact:   result,
		Version:    result.Version,
		SyncStatus: result.Metadata.SyncStatus,
	}, nil
}

// DeleteArtifact removes an artifact, its version history, and its message
// back-references, then purges every cache tier.
func (s *Service) DeleteArtifact(ctx context.Context, id string) (*models.OperationResult, error) {
	if id == "" {
		err := apperrors.Validationf("artifact id is required")
		return failure(err), err
	}
	if err := s.layer.DeleteArtifact(ctx, id); err != nil {
		return failure(err), err
	}

	s.log.Info().Str("artifact_id", id).Msg("artifact deleted")
	return &models.OperationResult{Success: true}, nil
}

// RepairMetadata recomputes an artifact's derived metadata (checksum, content
// size, sync status) from its stored content and persists the correction as a
// regular versioned update. Used by automatic recovery for metadata drift.
func (s *Service) RepairMetadata(ctx context.Context, id string) (*models.OperationResult, error) {
	result, err := s.layer.UpdateArtifact(ctx, id, func(current *models.Artifact) (*models.Artifact, error) {
		repaired := current.Clone()
		// Clear the checksum so materialization decodes by structure alone;
		// the recorded digest is exactly what may be wrong here.
		repaired.Checksum = ""
		if err := perf.Materialize(repaired); err != nil {
			// The compression marker itself may be the drift: fall back to
			// the stored bytes as raw content.
			repaired.Content = current.Content
			repaired.Metadata.CompressionType = ""
		}
		repaired.Version = current.Version + 1
		repaired.UpdatedAt = time.Now().UTC()
		repaired.ServerInstance = s.instanceID
		repaired.Metadata.SyncStatus = models.SyncSynced
		return repaired, nil
	})
	if err != nil {
		return failure(err), err
	}

	s.log.Info().Str("artifact_id", id).Int("version", result.Version).Msg("artifact metadata repaired")
	return &models.OperationResult{
		Success:    true,
		Artifact:   result,
		Version:    result.Version,
		SyncStatus: result.Metadata.SyncStatus,
	}, nil
}

// offload publishes renderable content to the distribution endpoint and
// records the public URL. Failures leave the artifact store-served.
func (s *Service) offload(ctx context.Context, a *models.Artifact) {
	if !perf.OffloadEligible(a.Type) {
		return
	}
	url, err := s.uploader.Upload(ctx, a)
	if err != nil {
		s.log.Warn().Err(err).Str("artifact_id", a.ID).Msg("offload failed, serving from store")
		return
	}
	a.Metadata.CDNURL = url
}

// validateCreate runs struct validation plus the checks tags cannot express.
func (s *Service) validateCreate(req CreateRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return apperrors.Validationf("%v", err)
	}
	if !models.ValidArtifactType(req.Type) {
		return apperrors.Validationf("unsupported artifact type %q", req.Type)
	}
	return nil
}

// failure builds the error envelope for a failed mutation.
func failure(err error) *models.OperationResult {
	return &models.OperationResult{
		Success: false,
		Error:   fmt.Sprintf("%v", err),
	}
}
