// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/artificer/internal/artifact"
	"github.com/tomtom215/artificer/internal/cdn"
	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/coordination"
	"github.com/tomtom215/artificer/internal/database"
	"github.com/tomtom215/artificer/internal/models"
	"github.com/tomtom215/artificer/internal/monitor"
	"github.com/tomtom215/artificer/internal/perf"
)

func testServer(t *testing.T) *httptest.Server {
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
		},
	}

	coord := coordination.Disabled("inst-test")
	layer := perf.NewLayer(db, coord, nil, cfg)
	svc := artifact.NewService(db, layer, cdn.Disabled(), cfg)
	mon := monitor.New(db, coord, svc, cfg.Monitor)

	srv := httptest.NewServer(NewRouter(NewHandler(svc, mon, coord)))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, out.Bytes()
}

func createArtifact(t *testing.T, base, convID, content string) *models.Artifact {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/v1/artifacts", artifact.CreateRequest{
		ConversationID: convID,
		Title:          "subject",
		Type:           models.TypeText,
		Content:        content,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", resp.StatusCode, body)
	}
	var result models.OperationResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return result.Artifact
}

func TestArtifactCRUDOverHTTP(t *testing.T) {
	srv := testServer(t)

	a := createArtifact(t, srv.URL, "conv-1", "hello artifact")

	// Read it back with content.
	resp, body := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/v1/artifacts/%s?include_content=true", srv.URL, a.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var got models.Artifact
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if got.Content != "hello artifact" {
		t.Errorf("content = %q, want %q", got.Content, "hello artifact")
	}

	// Update bumps the version.
	resp, body = doJSON(t, http.MethodPut,
		srv.URL+"/api/v1/artifacts/"+a.ID,
		map[string]any{"content": "edited"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, body %s", resp.StatusCode, body)
	}
	var updated models.OperationResult
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}

	// History shows both versions.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/artifacts/"+a.ID+"/versions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("versions status = %d", resp.StatusCode)
	}
	var versions []models.ArtifactVersion
	if err := json.Unmarshal(body, &versions); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("versions = %d, want 2", len(versions))
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/artifacts/"+a.ID+"/versions/1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("version status = %d", resp.StatusCode)
	}
	var v1 models.ArtifactVersion
	if err := json.Unmarshal(body, &v1); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if v1.Content != "hello artifact" {
		t.Errorf("v1 content = %q, want original", v1.Content)
	}

	// Delete, then reads return 404.
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/artifacts/"+a.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/artifacts/"+a.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestCreateRejectsMalformedRequests(t *testing.T) {
	srv := testServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/artifacts",
		artifact.CreateRequest{Title: "no conversation"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	// Undecodable body.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/artifacts",
		bytes.NewBufferString("{not json"))
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp2.StatusCode)
	}
}

func TestConversationListingAndPagination(t *testing.T) {
	srv := testServer(t)

	for i := 0; i < 3; i++ {
		createArtifact(t, srv.URL, "conv-1", fmt.Sprintf("content %d", i))
	}
	createArtifact(t, srv.URL, "conv-2", "other conversation")

	resp, body := doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/conversations/conv-1/artifacts?include_content=true", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var artifacts []models.Artifact
	if err := json.Unmarshal(body, &artifacts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(artifacts) != 3 {
		t.Errorf("artifacts = %d, want 3", len(artifacts))
	}

	resp, body = doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/conversations/conv-1/artifacts?limit=2&offset=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &artifacts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(artifacts) != 1 {
		t.Errorf("page = %d, want 1", len(artifacts))
	}

	// Unknown conversation yields an empty list, not an error.
	resp, body = doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/conversations/ghost/artifacts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &artifacts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(artifacts) != 0 {
		t.Errorf("artifacts = %d, want 0", len(artifacts))
	}
}

func TestDiagnosticsAndHealthEndpoints(t *testing.T) {
	srv := testServer(t)
	createArtifact(t, srv.URL, "conv-1", "healthy content")

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/diagnostics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("diagnostics = %d", resp.StatusCode)
	}
	var diag struct {
		Health    *models.HealthReport  `json:"health"`
		Instances []models.InstanceInfo `json:"instances"`
	}
	if err := json.Unmarshal(body, &diag); err != nil {
		t.Fatalf("decode diagnostics: %v", err)
	}
	if diag.Health == nil {
		t.Fatal("diagnostics must include a health report")
	}
	if diag.Health.Score <= 0 {
		t.Errorf("score = %d, want positive", diag.Health.Score)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/artifacts-health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("artifacts-health = %d", resp.StatusCode)
	}
	var health models.ArtifactsHealth
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Total != 1 {
		t.Errorf("total = %d, want 1", health.Total)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/recovery", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recovery = %d", resp.StatusCode)
	}
	var report models.RecoveryReport
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("decode recovery: %v", err)
	}
	if report.Attempted != 0 {
		t.Errorf("attempted = %d, want 0 on a clean store", report.Attempted)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	srv := testServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics = %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte("artificer_")) {
		t.Error("metrics output should include artificer collectors")
	}
}
