// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/artificer/internal/artifact"
	"github.com/tomtom215/artificer/internal/cdn"
	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/coordination"
	"github.com/tomtom215/artificer/internal/database"
	"github.com/tomtom215/artificer/internal/models"
	"github.com/tomtom215/artificer/internal/perf"
)

type fixture struct {
	monitor   *Monitor
	artifacts *artifact.Service
	db        *database.DB
}

func newFixture(t *testing.T) *fixture {
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
			RetryAttempts: 1,
			RetryDelay:    10 * time.Millisecond,
		},
		Monitor: config.MonitorConfig{
			HealthCheckInterval: time.Minute,
			ConsistencyInterval: time.Minute,
			StaleSyncAge:        24 * time.Hour,
			AutoRecover:         true,
		},
	}

	coord := coordination.Disabled("inst-test")
	layer := perf.NewLayer(db, coord, nil, cfg)
	svc := artifact.NewService(db, layer, cdn.Disabled(), cfg)
	return &fixture{
		monitor:   New(db, coord, svc, cfg.Monitor),
		artifacts: svc,
		db:        db,
	}
}

func (f *fixture) createArtifact(t *testing.T, content string) string {
	t.Helper()
	result, err := f.artifacts.CreateArtifact(context.Background(), artifact.CreateRequest{
		ConversationID: "conv-1",
		Title:          "subject",
		Type:           models.TypeText,
		Content:        content,
	})
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	return result.Artifact.ID
}

// corruptRow rewrites the stored row directly, simulating damage the normal
// write path can never produce.
func (f *fixture) corruptRow(t *testing.T, id string, mutate func(*models.Artifact)) {
	t.Helper()
	ctx := context.Background()
	stored, err := f.db.GetArtifact(ctx, id)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	broken := stored.Clone()
	mutate(broken)
	// Re-write the existing snapshot unchanged so version history keeps the
	// pre-damage content.
	err = f.db.UpdateArtifact(ctx, broken, &models.ArtifactVersion{
		ArtifactID: id,
		Version:    stored.Version,
		Content:    stored.Content,
		Checksum:   stored.Checksum,
		CreatedAt:  time.Now().UTC(),
	}, stored.Version)
	if err != nil {
		t.Fatalf("corrupt row: %v", err)
	}
}

func TestScanCleanStore(t *testing.T) {
	f := newFixture(t)
	f.createArtifact(t, "perfectly fine content")
	f.createArtifact(t, "more fine content")

	issues, err := f.monitor.ScanConsistency(context.Background())
	if err != nil {
		t.Fatalf("ScanConsistency: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("issues = %d, want 0: %+v", len(issues), issues)
	}
}

func TestScanDetectsChecksumDrift(t *testing.T) {
	f := newFixture(t)
	id := f.createArtifact(t, "true content")
	f.corruptRow(t, id, func(a *models.Artifact) { a.Checksum = "deadbeef" })

	issues, err := f.monitor.ScanConsistency(context.Background())
	if err != nil {
		t.Fatalf("ScanConsistency: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1: %+v", len(issues), issues)
	}
	if issues[0].Type != models.IssueMetadataMismatch {
		t.Errorf("type = %s, want metadata_mismatch", issues[0].Type)
	}
	if issues[0].Severity != models.SeverityMedium {
		t.Errorf("severity = %s, want medium", issues[0].Severity)
	}
	if issues[0].ArtifactID != id {
		t.Errorf("artifact = %s, want %s", issues[0].ArtifactID, id)
	}
}

func TestScanDetectsCorruptedCompression(t *testing.T) {
	f := newFixture(t)
	id := f.createArtifact(t, "victim")
	f.corruptRow(t, id, func(a *models.Artifact) {
		a.Content = "definitely not a gzip stream"
		a.Metadata.CompressionType = models.CompressionGzip
	})

	issues, err := f.monitor.ScanConsistency(context.Background())
	if err != nil {
		t.Fatalf("ScanConsistency: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1: %+v", len(issues), issues)
	}
	if issues[0].Type != models.IssueCorruptedContent {
		t.Errorf("type = %s, want corrupted_content", issues[0].Type)
	}
	if issues[0].Severity != models.SeverityCritical {
		t.Errorf("severity = %s, want critical", issues[0].Severity)
	}
}

// cacheBackedFixture runs the monitor against a real coordination backend so
// the cache-vs-store checks have a cache to inspect.
func cacheBackedFixture(t *testing.T) (*fixture, *coordination.Coordinator) {
	t.Helper()
	srv, err := coordination.NewEmbeddedServer(config.NATSConfig{
		StoreDir:  t.TempDir(),
		MaxMemory: 64 << 20,
		MaxStore:  256 << 20,
	})
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Logf("shutdown embedded server: %v", err)
		}
	})

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

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	cfg := &config.Config{
		Instance: config.InstanceConfig{ID: "inst-test"},
		NATS: config.NATSConfig{
			Enabled:                 true,
			OperationTimeout:        2 * time.Second,
			MaxReconnects:           3,
			ReconnectWait:           100 * time.Millisecond,
			BreakerFailureThreshold: 5,
			BreakerTimeout:          5 * time.Second,
		},
		Cache:     config.CacheConfig{Bucket: "cache-" + suffix, TTL: time.Minute},
		Heartbeat: config.HeartbeatConfig{Bucket: "instances-" + suffix, Interval: time.Second},
		Performance: config.PerformanceConfig{
			CompressionThreshold: 1024,
			CompressionRatio:     0.80,
			LazyLoadThreshold:    64 * 1024,
		},
		Lock: config.LockConfig{
			Bucket:        "locks-" + suffix,
			TTL:           30 * time.Second,
			RetryAttempts: 1,
			RetryDelay:    10 * time.Millisecond,
		},
		Monitor: config.MonitorConfig{
			HealthCheckInterval: time.Minute,
			ConsistencyInterval: time.Minute,
			StaleSyncAge:        24 * time.Hour,
			AutoRecover:         true,
		},
	}
	coord, err := coordination.New(cfg, srv.ClientURL())
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(coord.Close)

	layer := perf.NewLayer(db, coord, nil, cfg)
	svc := artifact.NewService(db, layer, cdn.Disabled(), cfg)
	return &fixture{
		monitor:   New(db, coord, svc, cfg.Monitor),
		artifacts: svc,
		db:        db,
	}, coord
}

func TestScanFlagsCachedChecksumDivergence(t *testing.T) {
	f, coord := cacheBackedFixture(t)
	ctx := context.Background()
	id := f.createArtifact(t, "store content")

	stored, err := f.db.GetArtifact(ctx, id)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	divergent := stored.Clone()
	divergent.Content = "something else"
	divergent.Checksum = models.Checksum(divergent.Content)
	if err := coord.CacheArtifact(ctx, divergent); err != nil {
		t.Fatalf("CacheArtifact: %v", err)
	}

	issues, err := f.monitor.ScanConsistency(ctx)
	if err != nil {
		t.Fatalf("ScanConsistency: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1: %+v", len(issues), issues)
	}
	if issues[0].Type != models.IssueCacheInconsistency {
		t.Errorf("type = %s, want cache_inconsistency", issues[0].Type)
	}
	if issues[0].Severity != models.SeverityMedium {
		t.Errorf("severity = %s, want medium", issues[0].Severity)
	}
}

func TestScanFlagsStaleCachedCopy(t *testing.T) {
	f, coord := cacheBackedFixture(t)
	ctx := context.Background()
	id := f.createArtifact(t, "settled content")

	// Same content and digest, but the cached copy missed a later write:
	// its updated-at predates the store's.
	stored, err := f.db.GetArtifact(ctx, id)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	stale := stored.Clone()
	stale.UpdatedAt = stored.UpdatedAt.Add(-time.Hour)
	if err := coord.CacheArtifact(ctx, stale); err != nil {
		t.Fatalf("CacheArtifact: %v", err)
	}

	issues, err := f.monitor.ScanConsistency(ctx)
	if err != nil {
		t.Fatalf("ScanConsistency: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1: %+v", len(issues), issues)
	}
	if issues[0].Type != models.IssueCacheInconsistency {
		t.Errorf("type = %s, want cache_inconsistency", issues[0].Type)
	}
	if issues[0].ArtifactID != id {
		t.Errorf("artifact = %s, want %s", issues[0].ArtifactID, id)
	}
}

func TestScanDetectsDanglingMessageRef(t *testing.T) {
	f := newFixture(t)
	err := f.db.InsertMessage(context.Background(), &models.Message{
		ID:             "m1",
		ConversationID: "conv-1",
		Role:           "assistant",
		Content:        "the artifact is attached",
		Metadata:       models.MessageMetadata{ArtifactID: "ghost-artifact"},
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	issues, err := f.monitor.ScanConsistency(context.Background())
	if err != nil {
		t.Fatalf("ScanConsistency: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1: %+v", len(issues), issues)
	}
	if issues[0].Type != models.IssueMissingArtifact {
		t.Errorf("type = %s, want missing_artifact", issues[0].Type)
	}
	if issues[0].Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high", issues[0].Severity)
	}
}

func TestRecoverRepairsChecksumDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createArtifact(t, "true content")
	f.corruptRow(t, id, func(a *models.Artifact) { a.Checksum = "deadbeef" })

	issues, err := f.monitor.ScanConsistency(ctx)
	if err != nil {
		t.Fatalf("ScanConsistency: %v", err)
	}
	report := f.monitor.Recover(ctx, issues)
	if report.Attempted != 1 || report.Resolved != 1 {
		t.Fatalf("report = %+v, want 1 attempted 1 resolved", report)
	}

	// The store verifies again end to end.
	clean, err := f.monitor.ScanConsistency(ctx)
	if err != nil {
		t.Fatalf("re-scan: %v", err)
	}
	if len(clean) != 0 {
		t.Errorf("issues after recovery = %d, want 0: %+v", len(clean), clean)
	}

	a, err := f.artifacts.GetArtifact(ctx, id, artifact.QueryOptions{IncludeContent: true})
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if a.Checksum != models.Checksum("true content") {
		t.Error("checksum was not recomputed from content")
	}
}

func TestRecoverRestoresCorruptedContentFromHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createArtifact(t, "the good content")
	f.corruptRow(t, id, func(a *models.Artifact) {
		a.Content = "garbage bytes"
		a.Metadata.CompressionType = models.CompressionGzip
	})

	issues, err := f.monitor.ScanConsistency(ctx)
	if err != nil {
		t.Fatalf("ScanConsistency: %v", err)
	}
	report := f.monitor.Recover(ctx, issues)
	if report.Resolved != 1 {
		t.Fatalf("report = %+v, want 1 resolved", report)
	}

	a, err := f.artifacts.GetArtifact(ctx, id, artifact.QueryOptions{IncludeContent: true})
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if a.Content != "the good content" {
		t.Errorf("content = %q, want the restored original", a.Content)
	}
}

func TestRecoverReportsMissingArtifactUnrecoverable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issues := []models.ConsistencyIssue{{
		Type:       models.IssueMissingArtifact,
		ArtifactID: "ghost",
		Severity:   models.SeverityHigh,
		DetectedAt: time.Now().UTC(),
	}}
	report := f.monitor.Recover(ctx, issues)
	if report.Resolved != 0 {
		t.Errorf("resolved = %d, want 0", report.Resolved)
	}
	if len(report.Unrecoverable) != 1 {
		t.Errorf("unrecoverable = %d, want 1", len(report.Unrecoverable))
	}
}

func TestHealthCheckBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createArtifact(t, "content")

	if _, err := f.monitor.ScanConsistency(ctx); err != nil {
		t.Fatalf("ScanConsistency: %v", err)
	}
	report := f.monitor.HealthCheck(ctx)

	// Store reachable, coordination disabled: 100 - 20.
	if report.Score != 80 {
		t.Errorf("score = %d, want 80", report.Score)
	}
	if !report.Healthy {
		t.Error("expected healthy with a clean store and no critical issues")
	}
	if report.Metrics["store_reachable"] != true {
		t.Error("store probe should be true")
	}
	if report.Metrics["coordination_available"] != false {
		t.Error("coordination probe should be false with disabled backend")
	}
	if f.monitor.LastReport() == nil {
		t.Error("health check must record the last report")
	}
}

func TestHealthCheckDeductsForIssues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createArtifact(t, "victim")
	f.corruptRow(t, id, func(a *models.Artifact) {
		a.Content = "broken"
		a.Metadata.CompressionType = models.CompressionGzip
	})

	if _, err := f.monitor.ScanConsistency(ctx); err != nil {
		t.Fatalf("ScanConsistency: %v", err)
	}
	report := f.monitor.HealthCheck(ctx)

	// 100 - 20 (coordination) - 15 (critical issue).
	if report.Score != 65 {
		t.Errorf("score = %d, want 65", report.Score)
	}
	if report.Healthy {
		t.Error("an outstanding critical issue must mark the report unhealthy")
	}
	if len(report.Issues) != 1 {
		t.Errorf("issues in report = %d, want 1", len(report.Issues))
	}
}

func TestHealthScheduleRunsAndStops(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := f.monitor.RunHealthSchedule(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if f.monitor.LastReport() == nil {
		t.Error("schedule must run an immediate first check")
	}
}
