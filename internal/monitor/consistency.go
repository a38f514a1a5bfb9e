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
	"github.com/tomtom215/artificer/internal/metrics"
	"github.com/tomtom215/artificer/internal/models"
	"github.com/tomtom215/artificer/internal/perf"
)

// scanPageSize bounds how many artifact ids one store query returns during
// a consistency sweep.
const scanPageSize = 500

// ScanConsistency sweeps the store and the shared cache for divergence:
// undecodable or digest-mismatched content, metadata drift, cache entries
// that disagree with the store, and message back-references to artifacts
// that no longer exist. The scan itself mutates nothing.
func (m *Monitor) ScanConsistency(ctx context.Context) ([]models.ConsistencyIssue, error) {
	var issues []models.ConsistencyIssue
	now := time.Now().UTC()

	for offset := 0; ; offset += scanPageSize {
		ids, err := m.db.ListArtifactIDs(ctx, scanPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list artifacts for scan: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return issues, err
			}
			issues = append(issues, m.checkArtifact(ctx, id, now)...)
		}
		if len(ids) < scanPageSize {
			break
		}
	}

	danglers, err := m.checkMessageRefs(ctx, now)
	if err != nil {
		m.log.Warn().Err(err).Msg("message back-reference check failed, partial scan")
	} else {
		issues = append(issues, danglers...)
	}

	for _, issue := range issues {
		metrics.ConsistencyIssues.WithLabelValues(string(issue.Type), string(issue.Severity)).Inc()
	}

	m.mu.Lock()
	m.lastIssues = issues
	m.lastScanAt = now
	m.mu.Unlock()

	m.log.Info().Int("issues", len(issues)).Msg("consistency scan finished")
	return issues, nil
}

// checkArtifact verifies one stored artifact and its cache entry.
func (m *Monitor) checkArtifact(ctx context.Context, id string, now time.Time) []models.ConsistencyIssue {
	var issues []models.ConsistencyIssue
	report := func(t models.IssueType, sev models.IssueSeverity, details string) {
		issues = append(issues, models.ConsistencyIssue{
			Type:       t,
			ArtifactID: id,
			Severity:   sev,
			Details:    details,
			DetectedAt: now,
		})
	}

	a, err := m.db.GetArtifact(ctx, id)
	if apperrors.IsNotFound(err) {
		return nil // Deleted mid-scan
	}
	if err != nil {
		m.log.Warn().Err(err).Str("artifact_id", id).Msg("scan read failed, skipping")
		return nil
	}

	if a.Content == "" {
		report(models.IssueCorruptedContent, models.SeverityCritical, "stored content is empty")
		return issues
	}

	// Restore the raw form. An undecodable stream is corruption; a clean
	// decode with a wrong recorded digest is metadata drift.
	raw := a.Content
	if a.Metadata.CompressionType == models.CompressionGzip {
		raw, err = perf.Decompress(a.Content)
		if err != nil {
			report(models.IssueCorruptedContent, models.SeverityCritical,
				fmt.Sprintf("compressed content does not decode: %v", err))
			return issues
		}
	}

	switch {
	case a.Checksum == "":
		report(models.IssueMetadataMismatch, models.SeverityMedium, "checksum is missing")
	case models.Checksum(raw) != a.Checksum:
		report(models.IssueMetadataMismatch, models.SeverityMedium,
			"recorded checksum does not match stored content")
	}

	if a.Metadata.ContentSize != int64(len(raw)) {
		report(models.IssueMetadataMismatch, models.SeverityMedium,
			fmt.Sprintf("recorded content size %d, actual %d", a.Metadata.ContentSize, len(raw)))
	}
	if a.Version < 1 {
		report(models.IssueMetadataMismatch, models.SeverityMedium,
			fmt.Sprintf("version %d is below 1", a.Version))
	}
	if a.UpdatedAt.Before(a.CreatedAt) {
		report(models.IssueMetadataMismatch, models.SeverityMedium,
			"updated-at precedes created-at")
	}

	// The cached copy self-verifies on read; what remains to check is
	// whether it reflects the store's current version of the content. A
	// matching digest with an older updated-at still means the cache missed
	// a write, so both are flagged.
	if cached, ok := m.coord.GetCachedArtifact(ctx, id); ok {
		switch {
		case a.Checksum != "" && cached.Checksum != a.Checksum:
			report(models.IssueCacheInconsistency, models.SeverityMedium,
				"cached checksum differs from the store")
		case cached.UpdatedAt.Before(a.UpdatedAt):
			report(models.IssueCacheInconsistency, models.SeverityMedium,
				fmt.Sprintf("cached copy from %s predates the store's write at %s",
					cached.UpdatedAt.Format(time.RFC3339), a.UpdatedAt.Format(time.RFC3339)))
		}
	}

	return issues
}

// checkMessageRefs flags message back-references pointing at artifacts that
// are gone from the store.
func (m *Monitor) checkMessageRefs(ctx context.Context, now time.Time) ([]models.ConsistencyIssue, error) {
	refs, err := m.db.ListMessageArtifactRefs(ctx)
	if err != nil {
		return nil, err
	}

	var issues []models.ConsistencyIssue
	for messageID, artifactID := range refs {
		_, err := m.db.GetArtifact(ctx, artifactID)
		if err == nil {
			continue
		}
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
		issues = append(issues, models.ConsistencyIssue{
			Type:       models.IssueMissingArtifact,
			ArtifactID: artifactID,
			Severity:   models.SeverityHigh,
			Details:    fmt.Sprintf("message %s references a missing artifact", messageID),
			DetectedAt: now,
		})
	}
	return issues, nil
}
