// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package api provides the HTTP surface: artifact CRUD and queries,
// version history, migration, and the monitoring diagnostics endpoints.
// Authentication, CORS policy, and rate limiting belong to the gateway in
// front of this service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the chi router for the artifact service.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/artifacts", func(r chi.Router) {
			r.Post("/", h.CreateArtifact)
			r.Get("/{id}", h.GetArtifact)
			r.Put("/{id}", h.UpdateArtifact)
			r.Delete("/{id}", h.DeleteArtifact)
			r.Get("/{id}/versions", h.ListVersions)
			r.Get("/{id}/versions/{version}", h.GetVersion)
		})

		r.Get("/conversations/{conversationID}/artifacts", h.ConversationArtifacts)
		r.Post("/conversations/{conversationID}/migrate", h.MigrateConversation)
		r.Get("/messages/{messageID}/artifacts", h.MessageArtifacts)

		r.Get("/artifacts-health", h.ArtifactsHealth)
		r.Get("/diagnostics", h.Diagnostics)
		r.Post("/recovery", h.TriggerRecovery)
	})

	return r
}
