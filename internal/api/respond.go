// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/logging"
)

// errorBody is the JSON error payload for failed requests.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON serializes v with the appropriate status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logging.Component("api")
		log.Error().Err(err).Msg("encode response")
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsValidation(err):
		status = http.StatusBadRequest
	case apperrors.IsNotFound(err):
		status = http.StatusNotFound
	case apperrors.IsLockContention(err):
		status = http.StatusConflict
	case apperrors.IsBackendUnavailable(err):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
