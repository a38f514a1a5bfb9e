// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package artifact

import (
	"context"
	"fmt"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/models"
	"github.com/tomtom215/artificer/internal/perf"
)

// QueryOptions controls read projections for artifact queries.
type QueryOptions struct {
	// IncludeContent forces full content even for lazy-load artifacts.
	IncludeContent bool

	// PreferCDN omits content when a distribution URL is recorded.
	PreferCDN bool

	// Limit and Offset paginate conversation queries. Limit <= 0 returns
	// everything from Offset on.
	Limit  int
	Offset int
}

// GetArtifact reads one artifact through the cache tiers.
func (s *Service) GetArtifact(ctx context.Context, id string, opts QueryOptions) (*models.Artifact, error) {
	if id == "" {
		return nil, apperrors.Validationf("artifact id is required")
	}
	return s.layer.RetrieveArtifact(ctx, id, perf.RetrieveOptions{
		IncludeContent: opts.IncludeContent,
		PreferCDN:      opts.PreferCDN,
	})
}

// GetArtifactsForConversation returns a conversation's artifacts in creation
// order, paginated after the full set is assembled.
func (s *Service) GetArtifactsForConversation(ctx context.Context, conversationID string, opts QueryOptions) ([]*models.Artifact, error) {
	if conversationID == "" {
		return nil, apperrors.Validationf("conversation id is required")
	}
	return s.layer.RetrieveConversationArtifacts(ctx, conversationID, opts.Limit, opts.Offset, perf.RetrieveOptions{
		IncludeContent: opts.IncludeContent,
		PreferCDN:      opts.PreferCDN,
	})
}

// GetArtifactsByMessageID returns the artifacts extracted from one message,
// materialized.
func (s *Service) GetArtifactsByMessageID(ctx context.Context, messageID string) ([]*models.Artifact, error) {
	if messageID == "" {
		return nil, apperrors.Validationf("message id is required")
	}
	artifacts, err := s.db.ListArtifactsByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		if err := perf.Materialize(a); err != nil {
			return nil, err
		}
	}
	return artifacts, nil
}

// ListVersions returns an artifact's snapshot history, oldest first, with
// metadata only — snapshot content is fetched per version.
func (s *Service) ListVersions(ctx context.Context, artifactID string) ([]*models.ArtifactVersion, error) {
	if artifactID == "" {
		return nil, apperrors.Validationf("artifact id is required")
	}
	// Surface not-found for the artifact itself, not an empty history.
	if _, err := s.db.GetArtifact(ctx, artifactID); err != nil {
		return nil, err
	}
	versions, err := s.db.ListVersions(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		v.Content = ""
	}
	return versions, nil
}

// GetVersion returns one snapshot with its content restored to raw form.
func (s *Service) GetVersion(ctx context.Context, artifactID string, version int) (*models.ArtifactVersion, error) {
	if artifactID == "" {
		return nil, apperrors.Validationf("artifact id is required")
	}
	if version < 1 {
		return nil, apperrors.Validationf("version must be >= 1, got %d", version)
	}
	v, err := s.db.GetVersion(ctx, artifactID, version)
	if err != nil {
		return nil, err
	}
	if err := materializeVersion(v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetArtifactsHealthCheck aggregates artifact health for one conversation, or
// globally when conversationID is empty. Read-only.
func (s *Service) GetArtifactsHealthCheck(ctx context.Context, conversationID string) (*models.ArtifactsHealth, error) {
	return s.db.ArtifactsHealth(ctx, conversationID, s.staleAge)
}

// materializeVersion restores a snapshot's raw content. Snapshots store the
// on-disk form without a compression marker, so the checksum decides: a
// direct digest match means raw, otherwise the content must decompress to
// bytes matching the digest.
func materializeVersion(v *models.ArtifactVersion) error {
	if models.Checksum(v.Content) == v.Checksum {
		return nil
	}
	raw, err := perf.Decompress(v.Content)
	if err != nil {
		return fmt.Errorf("%w: version %d of %s: %v", apperrors.ErrIntegrity, v.Version, v.ArtifactID, err)
	}
	if models.Checksum(raw) != v.Checksum {
		return fmt.Errorf("%w: version %d of %s: digest mismatch after decompression",
			apperrors.ErrIntegrity, v.Version, v.ArtifactID)
	}
	v.Content = raw
	return nil
}
