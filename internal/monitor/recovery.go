// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/artifact"
	"github.com/tomtom215/artificer/internal/metrics"
	"github.com/tomtom215/artificer/internal/models"
)

// Recover attempts one bounded repair per issue, strictly through public
// interfaces, and re-checks each repair before counting it resolved. Issues
// that fail their single attempt are reported unrecoverable for operators;
// recovery never retries in a loop.
func (m *Monitor) Recover(ctx context.Context, issues []models.ConsistencyIssue) *models.RecoveryReport {
	start := time.Now()
	report := &models.RecoveryReport{}

	for i := range issues {
		issue := &issues[i]
		if issue.Resolved {
			continue
		}
		report.Attempted++

		var err error
		switch issue.Type {
		case models.IssueCacheInconsistency:
			err = m.repairCacheEntry(ctx, issue)
		case models.IssueMetadataMismatch:
			err = m.repairMetadata(ctx, issue)
		case models.IssueCorruptedContent:
			err = m.restoreFromHistory(ctx, issue)
		default:
			// Missing artifacts cannot be reconstructed; purge any cache
			// remnant and leave the rest to operators.
			err = m.purgeMissing(ctx, issue)
		}

		if err != nil {
			metrics.RecoveryAttempts.WithLabelValues(string(issue.Type), "unrecoverable").Inc()
			report.Unrecoverable = append(report.Unrecoverable, *issue)
			m.log.Warn().Err(err).
				Str("artifact_id", issue.ArtifactID).
				Str("type", string(issue.Type)).
				Msg("recovery attempt failed")
			continue
		}

		now := time.Now().UTC()
		issue.Resolved = true
		issue.ResolvedAt = &now
		report.Resolved++
		metrics.RecoveryAttempts.WithLabelValues(string(issue.Type), "resolved").Inc()
		m.log.Info().
			Str("artifact_id", issue.ArtifactID).
			Str("type", string(issue.Type)).
			Msg("issue recovered")
	}

	report.Duration = time.Since(start)

	m.mu.Lock()
	m.lastRecover = report
	m.lastIssues = issues
	m.mu.Unlock()

	return report
}

// repairCacheEntry drops the divergent cache entry; the next read repopulates
// it from the store. Re-check: the entry must be gone or match the store.
func (m *Monitor) repairCacheEntry(ctx context.Context, issue *models.ConsistencyIssue) error {
	if err := m.coord.InvalidateArtifactCache(ctx, issue.ArtifactID); err != nil {
		return err
	}
	a, err := m.db.GetArtifact(ctx, issue.ArtifactID)
	if err != nil {
		return err
	}
	if cached, ok := m.coord.GetCachedArtifact(ctx, issue.ArtifactID); ok && cached.Checksum != a.Checksum {
		return fmt.Errorf("%w: cache entry still diverges after invalidation", apperrors.ErrConsistency)
	}
	return nil
}

// repairMetadata recomputes derived metadata through the artifact service
// and re-checks that the record now verifies.
func (m *Monitor) repairMetadata(ctx context.Context, issue *models.ConsistencyIssue) error {
	if _, err := m.artifacts.RepairMetadata(ctx, issue.ArtifactID); err != nil {
		return err
	}
	recheck := m.checkArtifact(ctx, issue.ArtifactID, time.Now().UTC())
	for _, found := range recheck {
		if found.Type == models.IssueMetadataMismatch {
			return fmt.Errorf("%w: metadata still inconsistent after repair", apperrors.ErrConsistency)
		}
	}
	return nil
}

// restoreFromHistory replaces corrupted content with the newest version
// snapshot that still verifies against its digest.
func (m *Monitor) restoreFromHistory(ctx context.Context, issue *models.ConsistencyIssue) error {
	versions, err := m.artifacts.ListVersions(ctx, issue.ArtifactID)
	if err != nil {
		return err
	}

	var good *models.ArtifactVersion
	for i := len(versions) - 1; i >= 0; i-- {
		v, err := m.artifacts.GetVersion(ctx, issue.ArtifactID, versions[i].Version)
		if err != nil {
			continue // Snapshot is corrupt too, look further back
		}
		good = v
		break
	}
	if good == nil {
		return fmt.Errorf("%w: no verifiable snapshot to restore from", apperrors.ErrIntegrity)
	}

	// Normalize the record first so its current (corrupt) content no longer
	// blocks the update path, then write the known-good content back.
	if _, err := m.artifacts.RepairMetadata(ctx, issue.ArtifactID); err != nil {
		return err
	}
	if _, err := m.artifacts.UpdateArtifact(ctx, artifact.UpdateRequest{
		ID:      issue.ArtifactID,
		Content: &good.Content,
	}); err != nil {
		return err
	}

	restored, err := m.artifacts.GetArtifact(ctx, issue.ArtifactID, artifact.QueryOptions{IncludeContent: true})
	if err != nil {
		return err
	}
	if models.Checksum(restored.Content) != good.Checksum {
		return fmt.Errorf("%w: restored content does not match snapshot digest", apperrors.ErrIntegrity)
	}
	return nil
}

// purgeMissing clears cache state for an artifact the store no longer has.
// The dangling message reference stays for operators: silently erasing it
// would hide data loss.
func (m *Monitor) purgeMissing(ctx context.Context, issue *models.ConsistencyIssue) error {
	if err := m.coord.InvalidateArtifactCache(ctx, issue.ArtifactID); err != nil {
		return err
	}
	return fmt.Errorf("artifact %s is gone from the store and cannot be reconstructed", issue.ArtifactID)
}
