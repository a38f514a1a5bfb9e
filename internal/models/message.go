// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package models

import "time"

// Message is the conversational record an artifact was extracted from. The
// chat pipeline owns message content; this core only reads messages for
// migration and maintains the artifact back-reference in their metadata.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Metadata       MessageMetadata `json:"metadata"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// MessageMetadata holds the artifact back-reference and, on legacy rows,
// artifact data still embedded in the message itself.
type MessageMetadata struct {
	ArtifactID       string            `json:"artifactId,omitempty"`
	ArtifactMigrated bool              `json:"artifactMigrated,omitempty"`
	EmbeddedArtifact *EmbeddedArtifact `json:"artifact,omitempty"`
}

// EmbeddedArtifact is the pre-migration representation of an artifact stored
// inline in message metadata. The migration routine converts these to
// canonical Artifact records.
type EmbeddedArtifact struct {
	Title    string       `json:"title"`
	Type     ArtifactType `json:"type"`
	Content  string       `json:"content"`
	Language string       `json:"language,omitempty"`
}
