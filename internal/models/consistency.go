// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package models

import "time"

// IssueType classifies a detected divergence between the cache and the
// durable store, or a defect within the store itself.
type IssueType string

// Issue types, ordered roughly by repairability.
const (
	IssueCacheInconsistency IssueType = "cache_inconsistency"
	IssueMetadataMismatch   IssueType = "metadata_mismatch"
	IssueCorruptedContent   IssueType = "corrupted_content"
	IssueMissingArtifact    IssueType = "missing_artifact"
)

// IssueSeverity grades how urgent a consistency issue is. Severities feed
// directly into the weighted health score.
type IssueSeverity string

// Severities.
const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

// ConsistencyIssue is one detected divergence, produced by the consistency
// scan and consumed by automatic recovery.
type ConsistencyIssue struct {
	Type       IssueType     `json:"type"`
	ArtifactID string        `json:"artifactId"`
	Severity   IssueSeverity `json:"severity"`
	Details    string        `json:"details"`
	DetectedAt time.Time     `json:"detectedAt"`
	Resolved   bool          `json:"resolved"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
}

// HealthReport is the read-only diagnostics snapshot exposed to external
// monitoring callers.
type HealthReport struct {
	Healthy   bool               `json:"healthy"`
	Score     int                `json:"score"`
	Issues    []ConsistencyIssue `json:"issues"`
	Metrics   map[string]any     `json:"metrics"`
	CheckedAt time.Time          `json:"checkedAt"`
}

// RecoveryReport summarizes one automatic recovery pass.
type RecoveryReport struct {
	Attempted     int                `json:"attempted"`
	Resolved      int                `json:"resolved"`
	Unrecoverable []ConsistencyIssue `json:"unrecoverable,omitempty"`
	Duration      time.Duration      `json:"duration"`
}
