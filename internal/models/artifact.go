// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package models defines the value types shared across the artifact
// persistence and coordination layers.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ArtifactType identifies the kind of generated content an artifact holds.
type ArtifactType string

// Supported artifact types.
const (
	TypeText     ArtifactType = "text"
	TypeCode     ArtifactType = "code"
	TypeHTML     ArtifactType = "html"
	TypeReact    ArtifactType = "react"
	TypeSVG      ArtifactType = "svg"
	TypeMermaid  ArtifactType = "mermaid"
	TypeJSON     ArtifactType = "json"
	TypeCSV      ArtifactType = "csv"
	TypeMarkdown ArtifactType = "markdown"
)

// ValidArtifactType reports whether t is one of the supported artifact types.
func ValidArtifactType(t ArtifactType) bool {
	switch t {
	case TypeText, TypeCode, TypeHTML, TypeReact, TypeSVG, TypeMermaid, TypeJSON, TypeCSV, TypeMarkdown:
		return true
	}
	return false
}

// SyncStatus describes whether an artifact's distributed view agrees with
// the authoritative store.
type SyncStatus string

// Sync states.
const (
	SyncSynced   SyncStatus = "synced"
	SyncPending  SyncStatus = "pending"
	SyncConflict SyncStatus = "conflict"
	SyncError    SyncStatus = "error"
)

// CompressionGzip is the only compression codec currently applied to
// artifact content at rest.
const CompressionGzip = "gzip"

// ArtifactMetadata carries optimization and synchronization state for an
// artifact. It is treated as an immutable value: components merge changes
// via copy, never by mutating a metadata struct another component may hold.
type ArtifactMetadata struct {
	SyncStatus        SyncStatus `json:"syncStatus"`
	CompressionType   string     `json:"compressionType,omitempty"`
	DetectionStrategy string     `json:"detectionStrategy,omitempty"`
	OriginalContent   string     `json:"originalContent,omitempty"`
	ReconstructionHash string    `json:"reconstructionHash,omitempty"`
	ContentSize       int64      `json:"contentSize"`
	LazyLoad          bool       `json:"lazyLoad,omitempty"`
	CDNURL            string     `json:"cdnUrl,omitempty"`
}

// Artifact is a discrete generated content item persisted independently of
// the conversational message that produced it.
type Artifact struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	MessageID      string           `json:"messageId,omitempty"`
	Title          string           `json:"title"`
	Type           ArtifactType     `json:"type"`
	Content        string           `json:"content"`
	Language       string           `json:"language,omitempty"`
	Version        int              `json:"version"`
	Checksum       string           `json:"checksum"`
	ServerInstance string           `json:"serverInstance"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	LastAccessedAt time.Time        `json:"lastAccessedAt"`
	Metadata       ArtifactMetadata `json:"metadata"`
}

// Clone returns a deep copy of the artifact. Metadata is a value type, so a
// struct copy is sufficient.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// ArtifactVersion is an append-only snapshot of an artifact's content as it
// was immediately before an update. Snapshots are never mutated.
type ArtifactVersion struct {
	ArtifactID string    `json:"artifactId"`
	Version    int       `json:"version"`
	Content    string    `json:"content"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Checksum computes the SHA-256 hex digest of raw (uncompressed) artifact
// content. Every checksum stored or compared in this system comes from here.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// OperationResult is the envelope returned to the upstream API layer for
// mutating artifact operations.
type OperationResult struct {
	Success    bool       `json:"success"`
	Artifact   *Artifact  `json:"artifact,omitempty"`
	Version    int        `json:"version,omitempty"`
	SyncStatus SyncStatus `json:"syncStatus,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// MigrationResult summarizes a legacy-message migration batch. Per-item
// failures are accumulated; one bad record never aborts the batch.
type MigrationResult struct {
	ConversationID string           `json:"conversationId"`
	MigratedCount  int              `json:"migratedCount"`
	FailedCount    int              `json:"failedCount"`
	SkippedCount   int              `json:"skippedCount"`
	Duration       time.Duration    `json:"duration"`
	Errors         []MigrationError `json:"errors,omitempty"`
}

// MigrationError attributes a migration failure to the message that caused it.
type MigrationError struct {
	MessageID string `json:"messageId"`
	Reason    string `json:"reason"`
}

// ArtifactsHealth aggregates per-conversation (or global) artifact health
// without mutating anything.
type ArtifactsHealth struct {
	Total            int                `json:"total"`
	BySyncStatus     map[SyncStatus]int `json:"bySyncStatus"`
	MissingChecksum  int                `json:"missingChecksum"`
	StaleNonSynced   int                `json:"staleNonSynced"`
	CheckedAt        time.Time          `json:"checkedAt"`
}
