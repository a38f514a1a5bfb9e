// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package cdn publishes renderable artifact content to an external content
// distribution endpoint. Offload is strictly best-effort: a failed or
// throttled upload leaves the artifact fully usable, it just serves from the
// store instead of the edge.
package cdn

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/logging"
	"github.com/tomtom215/artificer/internal/models"
)

// Uploader publishes artifact content to the distribution endpoint and
// returns the public URL it will be served from.
type Uploader interface {
	// Upload pushes one artifact's rendered content. An empty URL with a nil
	// error means the uploader declined (disabled, throttled); callers keep
	// the artifact store-served.
	Upload(ctx context.Context, a *models.Artifact) (string, error)
}

// Disabled returns an Uploader that declines every upload.
func Disabled() Uploader {
	return disabledUploader{}
}

type disabledUploader struct{}

func (disabledUploader) Upload(context.Context, *models.Artifact) (string, error) {
	return "", nil
}

// HTTPUploader pushes content to the distribution endpoint with HTTP PUT,
// rate-limited so artifact bursts cannot saturate the collaborator.
type HTTPUploader struct {
	endpoint      string
	publicBaseURL string
	client        *http.Client
	limiter       *rate.Limiter
	log           zerolog.Logger
}

// contentTypes maps offloadable artifact types to the MIME type the edge
// should serve them with.
var contentTypes = map[models.ArtifactType]string{
	models.TypeHTML:     "text/html; charset=utf-8",
	models.TypeSVG:      "image/svg+xml",
	models.TypeReact:    "text/javascript; charset=utf-8",
	models.TypeMarkdown: "text/markdown; charset=utf-8",
}

// New builds the HTTP uploader, or the disabled uploader when offload is
// turned off in configuration.
func New(cfg config.CDNConfig) Uploader {
	if !cfg.Enabled {
		return Disabled()
	}
	return &HTTPUploader{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		client:        &http.Client{Timeout: cfg.UploadTimeout},
		limiter:       rate.NewLimiter(rate.Limit(cfg.UploadsPerSec), cfg.UploadBurst),
		log:           logging.Component("cdn"),
	}
}

// Upload PUTs the raw content keyed by artifact id and version. Throttled
// uploads decline rather than block the write path.
func (u *HTTPUploader) Upload(ctx context.Context, a *models.Artifact) (string, error) {
	mime, ok := contentTypes[a.Type]
	if !ok {
		return "", nil
	}
	if !u.limiter.Allow() {
		u.log.Debug().Str("artifact_id", a.ID).Msg("upload throttled, serving from store")
		return "", nil
	}

	key := fmt.Sprintf("%s/v%d", url.PathEscape(a.ID), a.Version)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		u.endpoint+"/"+key, strings.NewReader(a.Content))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mime)
	req.Header.Set("X-Artifact-Checksum", a.Checksum)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload artifact %s: %w", a.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload artifact %s: endpoint returned %s", a.ID, resp.Status)
	}

	base := u.publicBaseURL
	if base == "" {
		base = u.endpoint
	}
	publicURL := base + "/" + key
	u.log.Debug().Str("artifact_id", a.ID).Str("url", publicURL).Msg("artifact offloaded")
	return publicURL, nil
}
