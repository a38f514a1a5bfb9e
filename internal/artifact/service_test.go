// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package artifact

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/coordination"
	"github.com/tomtom215/artificer/internal/database"
	"github.com/tomtom215/artificer/internal/models"
	"github.com/tomtom215/artificer/internal/perf"
)

// recordingUploader fakes the distribution endpoint.
type recordingUploader struct {
	url      string
	uploaded []string
}

func (r *recordingUploader) Upload(_ context.Context, a *models.Artifact) (string, error) {
	r.uploaded = append(r.uploaded, a.ID)
	return r.url, nil
}

func testService(t *testing.T) (*Service, *database.DB, *recordingUploader) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{
		Path:         ":memory:",
		MaxMemory:    "256MB",
		Threads:      2,
		QueryTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{
		Instance: config.InstanceConfig{ID: "inst-test"},
		Performance: config.PerformanceConfig{
			CompressionThreshold: 1024,
			CompressionRatio:     0.80,
			LazyLoadThreshold:    64 * 1024,
		},
		Lock: config.LockConfig{
			TTL:           30 * time.Second,
			RetryAttempts: 2,
			RetryDelay:    10 * time.Millisecond,
		},
		Monitor: config.MonitorConfig{StaleSyncAge: 24 * time.Hour},
	}

	layer := perf.NewLayer(db, coordination.Disabled("inst-test"), nil, cfg)
	uploader := &recordingUploader{url: "https://cdn.example.com/a/v1"}
	return NewService(db, layer, uploader, cfg), db, uploader
}

func TestCreateArtifactValidation(t *testing.T) {
	s, _, _ := testService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"missing conversation", CreateRequest{Title: "t", Type: models.TypeCode, Content: "c"}},
		{"missing title", CreateRequest{ConversationID: "c1", Type: models.TypeCode, Content: "c"}},
		{"missing content", CreateRequest{ConversationID: "c1", Title: "t", Type: models.TypeCode}},
		{"bad type", CreateRequest{ConversationID: "c1", Title: "t", Type: "binary", Content: "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := s.CreateArtifact(ctx, tc.req)
			if !apperrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if result == nil || result.Success {
				t.Error("expected failure envelope")
			}
			if result.Error == "" {
				t.Error("failure envelope must carry the reason")
			}
		})
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s, _, _ := testService(t)
	ctx := context.Background()

	content := "SELECT 1;"
	result, err := s.CreateArtifact(ctx, CreateRequest{
		ConversationID: "conv-1",
		Title:          "query.sql",
		Type:           models.TypeCode,
		Content:        content,
		Language:       "sql",
	})
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	if !result.Success || result.Artifact == nil {
		t.Fatal("expected success envelope with artifact")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if result.Artifact.Checksum != models.Checksum(content) {
		t.Error("checksum must digest the raw content")
	}

	got, err := s.GetArtifact(ctx, result.Artifact.ID, QueryOptions{IncludeContent: true})
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.Content != content {
		t.Errorf("content = %q, want %q", got.Content, content)
	}
	if got.ServerInstance != "inst-test" {
		t.Errorf("server instance = %q, want inst-test", got.ServerInstance)
	}
}

func TestCreateOffloadsRenderableContent(t *testing.T) {
	s, _, uploader := testService(t)
	ctx := context.Background()

	result, err := s.CreateArtifact(ctx, CreateRequest{
		ConversationID: "conv-1",
		Title:          "page",
		Type:           models.TypeHTML,
		Content:        "<html></html>",
	})
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	if len(uploader.uploaded) != 1 {
		t.Fatalf("uploads = %d, want 1", len(uploader.uploaded))
	}
	if result.Artifact.Metadata.CDNURL != uploader.url {
		t.Errorf("cdn url = %q, want %q", result.Artifact.Metadata.CDNURL, uploader.url)
	}

	// Code artifacts are not renderable and must not be uploaded.
	if _, err := s.CreateArtifact(ctx, CreateRequest{
		ConversationID: "conv-1",
		Title:          "main.go",
		Type:           models.TypeCode,
		Content:        "package main",
	}); err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	if len(uploader.uploaded) != 1 {
		t.Errorf("uploads = %d, want still 1", len(uploader.uploaded))
	}
}

func TestUpdateBumpsVersionAndSnapshots(t *testing.T) {
	s, _, _ := testService(t)
	ctx := context.Background()

	created, err := s.CreateArtifact(ctx, CreateRequest{
		ConversationID: "conv-1",
		Title:          "notes",
		Type:           models.TypeMarkdown,
		Content:        "first draft",
	})
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	id := created.Artifact.ID

	newContent := "second draft"
	updated, err := s.UpdateArtifact(ctx, UpdateRequest{ID: id, Content: &newContent})
	if err != nil {
		t.Fatalf("UpdateArtifact: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
	if updated.Artifact.Content != newContent {
		t.Errorf("content = %q, want %q", updated.Artifact.Content, newContent)
	}

	// The outgoing content must be preserved as version 1.
	v1, err := s.GetVersion(ctx, id, 1)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v1.Content != "first draft" {
		t.Errorf("snapshot content = %q, want %q", v1.Content, "first draft")
	}

	versions, err := s.ListVersions(ctx, id)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("versions = %d, want 2", len(versions))
	}
}

func TestTitleOnlyUpdateStillVersions(t *testing.T) {
	s, _, _ := testService(t)
	ctx := context.Background()

	created, err := s.CreateArtifact(ctx, CreateRequest{
		ConversationID: "conv-1",
		Title:          "old title",
		Type:           models.TypeText,
		Content:        "unchanged",
	})
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}

	title := "new title"
	updated, err := s.UpdateArtifact(ctx, UpdateRequest{ID: created.Artifact.ID, Title: &title})
	if err != nil {
		t.Fatalf("UpdateArtifact: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
	if updated.Artifact.Title != title {
		t.Errorf("title = %q, want %q", updated.Artifact.Title, title)
	}
	if updated.Artifact.Content != "unchanged" {
		t.Error("content must survive a title-only update")
	}
}

func TestConcurrentUpdatesNeverLoseAWrite(t *testing.T) {
	s, _, _ := testService(t)
	ctx := context.Background()

	created, err := s.CreateArtifact(ctx, CreateRequest{
		ConversationID: "conv-1",
		Title:          "contended",
		Type:           models.TypeText,
		Content:        "base",
	})
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	id := created.Artifact.ID

	// Two writers race on the same artifact. Each must either land as its
	// own version or fail loudly; a write silently overwritten by the other
	// is the one outcome that must never happen.
	contents := []string{"update from A", "update from B"}
	errs := make([]error, len(contents))
	var wg sync.WaitGroup
	for i := range contents {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.UpdateArtifact(ctx, UpdateRequest{ID: id, Content: &contents[i]})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		t.Fatalf("no racing update landed: %v, %v", errs[0], errs[1])
	}

	got, err := s.GetArtifact(ctx, id, QueryOptions{IncludeContent: true})
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.Version != 1+succeeded {
		t.Errorf("version = %d, want %d after %d successful updates",
			got.Version, 1+succeeded, succeeded)
	}
	if got.Content != contents[0] && got.Content != contents[1] {
		t.Errorf("final content = %q, want one of the racing updates", got.Content)
	}

	// Every successful write keeps its own snapshot: create plus one per
	// landed update, with no version overwritten in place.
	versions, err := s.ListVersions(ctx, id)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1+succeeded {
		t.Errorf("snapshots = %d, want %d", len(versions), 1+succeeded)
	}
}

func TestUpdateMissingArtifact(t *testing.T) {
	s, _, _ := testService(t)
	content := "x"
	_, err := s.UpdateArtifact(context.Background(), UpdateRequest{ID: "ghost", Content: &content})
	if !apperrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteArtifactRemovesHistory(t *testing.T) {
	s, _, _ := testService(t)
	ctx := context.Background()

	created, err := s.CreateArtifact(ctx, CreateRequest{
		ConversationID: "conv-1",
		Title:          "temp",
		Type:           models.TypeText,
		Content:        "gone soon",
	})
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	id := created.Artifact.ID

	result, err := s.DeleteArtifact(ctx, id)
	if err != nil {
		t.Fatalf("DeleteArtifact: %v", err)
	}
	if !result.Success {
		t.Error("expected success envelope")
	}
	if _, err := s.GetArtifact(ctx, id, QueryOptions{}); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if _, err := s.ListVersions(ctx, id); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found history after delete, got %v", err)
	}
}

func TestLargeContentCompressedTransparently(t *testing.T) {
	s, db, _ := testService(t)
	ctx := context.Background()

	raw := strings.Repeat("## Section\n\nSome prose that repeats nicely.\n", 200)
	created, err := s.CreateArtifact(ctx, CreateRequest{
		ConversationID: "conv-1",
		Title:          "doc",
		Type:           models.TypeMarkdown,
		Content:        raw,
	})
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}

	// The stored row holds the compressed form.
	stored, err := db.GetArtifact(ctx, created.Artifact.ID)
	if err != nil {
		t.Fatalf("GetArtifact from store: %v", err)
	}
	if stored.Metadata.CompressionType != models.CompressionGzip {
		t.Error("expected stored content to be compressed")
	}
	if stored.Content == raw {
		t.Error("stored content should not be the raw form")
	}

	// Reads are transparent.
	got, err := s.GetArtifact(ctx, created.Artifact.ID, QueryOptions{IncludeContent: true})
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.Content != raw {
		t.Error("read did not restore the raw content")
	}
}

func seedLegacyMessage(t *testing.T, db *database.DB, id, convID string, embedded *models.EmbeddedArtifact) {
	t.Helper()
	err := db.InsertMessage(context.Background(), &models.Message{
		ID:             id,
		ConversationID: convID,
		Role:           "assistant",
		Content:        "here is your artifact",
		Metadata:       models.MessageMetadata{EmbeddedArtifact: embedded},
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert message %s: %v", id, err)
	}
}

func TestMigrateConversationArtifacts(t *testing.T) {
	s, db, _ := testService(t)
	ctx := context.Background()

	seedLegacyMessage(t, db, "m1", "conv-1", &models.EmbeddedArtifact{
		Title: "chart", Type: models.TypeSVG, Content: "<svg/>",
	})
	seedLegacyMessage(t, db, "m2", "conv-1", &models.EmbeddedArtifact{
		Title: "broken", Type: "binary", Content: "xx", // Unsupported type
	})
	seedLegacyMessage(t, db, "m3", "conv-1", nil) // Nothing embedded

	result, err := s.MigrateConversationArtifacts(ctx, "conv-1")
	if err != nil {
		t.Fatalf("MigrateConversationArtifacts: %v", err)
	}
	if result.MigratedCount != 1 {
		t.Errorf("migrated = %d, want 1", result.MigratedCount)
	}
	if result.FailedCount != 1 {
		t.Errorf("failed = %d, want 1", result.FailedCount)
	}
	if result.SkippedCount != 1 {
		t.Errorf("skipped = %d, want 1", result.SkippedCount)
	}
	if len(result.Errors) != 1 || result.Errors[0].MessageID != "m2" {
		t.Errorf("errors = %+v, want one error for m2", result.Errors)
	}

	// The migrated artifact exists and the message carries the back-reference.
	wantID := migrationArtifactID("conv-1", "m1", 0)
	a, err := s.GetArtifact(ctx, wantID, QueryOptions{IncludeContent: true})
	if err != nil {
		t.Fatalf("GetArtifact migrated: %v", err)
	}
	if a.Content != "<svg/>" {
		t.Errorf("migrated content = %q, want <svg/>", a.Content)
	}
	msg, err := db.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !msg.Metadata.ArtifactMigrated || msg.Metadata.ArtifactID != wantID {
		t.Errorf("message metadata = %+v, want migrated with artifact id %s", msg.Metadata, wantID)
	}
}

func TestMigrationIsIdempotent(t *testing.T) {
	s, db, _ := testService(t)
	ctx := context.Background()

	seedLegacyMessage(t, db, "m1", "conv-1", &models.EmbeddedArtifact{
		Title: "chart", Type: models.TypeSVG, Content: "<svg/>",
	})

	first, err := s.MigrateConversationArtifacts(ctx, "conv-1")
	if err != nil {
		t.Fatalf("first migration: %v", err)
	}
	if first.MigratedCount != 1 {
		t.Fatalf("first migrated = %d, want 1", first.MigratedCount)
	}

	second, err := s.MigrateConversationArtifacts(ctx, "conv-1")
	if err != nil {
		t.Fatalf("second migration: %v", err)
	}
	if second.MigratedCount != 0 {
		t.Errorf("second migrated = %d, want 0", second.MigratedCount)
	}
	if second.SkippedCount != 1 {
		t.Errorf("second skipped = %d, want 1", second.SkippedCount)
	}

	// Still exactly one artifact for the conversation.
	all, err := s.GetArtifactsForConversation(ctx, "conv-1", QueryOptions{})
	if err != nil {
		t.Fatalf("GetArtifactsForConversation: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("artifacts = %d, want 1", len(all))
	}
}

func TestRepairMetadataRecomputesDerivedFields(t *testing.T) {
	s, db, _ := testService(t)
	ctx := context.Background()

	created, err := s.CreateArtifact(ctx, CreateRequest{
		ConversationID: "conv-1",
		Title:          "drifting",
		Type:           models.TypeText,
		Content:        "true content",
	})
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	id := created.Artifact.ID

	// Corrupt the recorded checksum directly in the store.
	stored, err := db.GetArtifact(ctx, id)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	broken := stored.Clone()
	broken.Checksum = "deadbeef"
	if err := db.UpdateArtifact(ctx, broken, &models.ArtifactVersion{
		ArtifactID: id, Version: stored.Version, Content: stored.Content,
		Checksum: stored.Checksum, CreatedAt: time.Now().UTC(),
	}, stored.Version); err != nil {
		t.Fatalf("corrupt store row: %v", err)
	}

	repaired, err := s.RepairMetadata(ctx, id)
	if err != nil {
		t.Fatalf("RepairMetadata: %v", err)
	}
	if repaired.Artifact.Checksum != models.Checksum("true content") {
		t.Error("repair must recompute the checksum from stored content")
	}
	if repaired.Artifact.Metadata.SyncStatus != models.SyncSynced {
		t.Errorf("sync status = %s, want synced", repaired.Artifact.Metadata.SyncStatus)
	}
}

func TestGetArtifactsHealthCheck(t *testing.T) {
	s, _, _ := testService(t)
	ctx := context.Background()

	for _, title := range []string{"one", "two"} {
		if _, err := s.CreateArtifact(ctx, CreateRequest{
			ConversationID: "conv-1",
			Title:          title,
			Type:           models.TypeText,
			Content:        "content " + title,
		}); err != nil {
			t.Fatalf("CreateArtifact: %v", err)
		}
	}

	health, err := s.GetArtifactsHealthCheck(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetArtifactsHealthCheck: %v", err)
	}
	if health.Total != 2 {
		t.Errorf("total = %d, want 2", health.Total)
	}
	if health.BySyncStatus[models.SyncSynced] != 2 {
		t.Errorf("synced = %d, want 2", health.BySyncStatus[models.SyncSynced])
	}
	if health.MissingChecksum != 0 {
		t.Errorf("missing checksum = %d, want 0", health.MissingChecksum)
	}
}
