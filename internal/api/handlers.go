// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/artifact"
	"github.com/tomtom215/artificer/internal/coordination"
	"github.com/tomtom215/artificer/internal/models"
	"github.com/tomtom215/artificer/internal/monitor"
)

// Handler holds the services the HTTP surface exposes.
type Handler struct {
	artifacts *artifact.Service
	monitor   *monitor.Monitor
	coord     *coordination.Coordinator
}

// NewHandler wires the HTTP handlers.
func NewHandler(artifacts *artifact.Service, mon *monitor.Monitor, coord *coordination.Coordinator) *Handler {
	return &Handler{artifacts: artifacts, monitor: mon, coord: coord}
}

// CreateArtifact handles POST /api/v1/artifacts.
func (h *Handler) CreateArtifact(w http.ResponseWriter, r *http.Request) {
	var req artifact.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validationf("malformed request body: %v", err))
		return
	}

	result, err := h.artifacts.CreateArtifact(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GetArtifact handles GET /api/v1/artifacts/{id}.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := h.artifacts.GetArtifact(r.Context(), chi.URLParam(r, "id"), queryOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateArtifact handles PUT /api/v1/artifacts/{id}.
func (h *Handler) UpdateArtifact(w http.ResponseWriter, r *http.Request) {
	var req artifact.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validationf("malformed request body: %v", err))
		return
	}
	req.ID = chi.URLParam(r, "id")

	result, err := h.artifacts.UpdateArtifact(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeleteArtifact handles DELETE /api/v1/artifacts/{id}.
func (h *Handler) DeleteArtifact(w http.ResponseWriter, r *http.Request) {
	result, err := h.artifacts.DeleteArtifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListVersions handles GET /api/v1/artifacts/{id}/versions.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.artifacts.ListVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// GetVersion handles GET /api/v1/artifacts/{id}/versions/{version}.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, apperrors.Validationf("version must be an integer"))
		return
	}
	v, err := h.artifacts.GetVersion(r.Context(), chi.URLParam(r, "id"), version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ConversationArtifacts handles GET /api/v1/conversations/{conversationID}/artifacts.
func (h *Handler) ConversationArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.artifacts.GetArtifactsForConversation(
		r.Context(), chi.URLParam(r, "conversationID"), queryOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if artifacts == nil {
		artifacts = []*models.Artifact{}
	}
	writeJSON(w, http.StatusOK, artifacts)
}

// MessageArtifacts handles GET /api/v1/messages/{messageID}/artifacts.
func (h *Handler) MessageArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.artifacts.GetArtifactsByMessageID(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if artifacts == nil {
		artifacts = []*models.Artifact{}
	}
	writeJSON(w, http.StatusOK, artifacts)
}

// MigrateConversation handles POST /api/v1/conversations/{conversationID}/migrate.
func (h *Handler) MigrateConversation(w http.ResponseWriter, r *http.Request) {
	result, err := h.artifacts.MigrateConversationArtifacts(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ArtifactsHealth handles GET /api/v1/artifacts-health.
func (h *Handler) ArtifactsHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.artifacts.GetArtifactsHealthCheck(r.Context(), r.URL.Query().Get("conversation_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// diagnosticsResponse is the combined monitoring snapshot.
type diagnosticsResponse struct {
	Health    *models.HealthReport      `json:"health"`
	Issues    []models.ConsistencyIssue `json:"issues"`
	Recovery  *models.RecoveryReport    `json:"recovery,omitempty"`
	Instances []models.InstanceInfo     `json:"instances"`
}

// Diagnostics handles GET /api/v1/diagnostics: the latest health report,
// consistency findings, recovery outcome, and live instances.
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.LastReport()
	if report == nil {
		// First schedule tick hasn't happened yet; run one on demand.
		report = h.monitor.HealthCheck(r.Context())
	}
	instances := h.coord.GetActiveInstances(r.Context())
	if instances == nil {
		instances = []models.InstanceInfo{}
	}
	writeJSON(w, http.StatusOK, diagnosticsResponse{
		Health:    report,
		Issues:    h.monitor.LastIssues(),
		Recovery:  h.monitor.LastRecovery(),
		Instances: instances,
	})
}

// TriggerRecovery handles POST /api/v1/recovery: an on-demand consistency
// scan followed by recovery of whatever it finds.
func (h *Handler) TriggerRecovery(w http.ResponseWriter, r *http.Request) {
	issues, err := h.monitor.ScanConsistency(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	report := h.monitor.Recover(r.Context(), issues)
	writeJSON(w, http.StatusOK, report)
}

// Healthz handles GET /healthz, the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// queryOptions extracts the shared read-projection query parameters.
func queryOptions(r *http.Request) artifact.QueryOptions {
	q := r.URL.Query()
	opts := artifact.QueryOptions{
		IncludeContent: q.Get("include_content") == "true",
		PreferCDN:      q.Get("prefer_cdn") == "true",
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = offset
	}
	return opts
}
