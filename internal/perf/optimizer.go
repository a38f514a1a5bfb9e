// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package perf is the read/write optimization layer between the artifact
// service and the store: transparent content compression, lazy-load marking,
// a Badger-backed local hot tier, and cache-first retrieval with distributed
// lock-guarded updates.
package perf

import (
	"fmt"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/metrics"
	"github.com/tomtom215/artificer/internal/models"
)

// Optimizer applies the storage optimization policy to an artifact before it
// is written: checksum over raw content, gzip when it pays off, lazy-load
// marking for oversized content.
type Optimizer struct {
	cfg config.PerformanceConfig
}

// NewOptimizer builds an Optimizer from the performance configuration.
func NewOptimizer(cfg config.PerformanceConfig) *Optimizer {
	return &Optimizer{cfg: cfg}
}

// Optimize mutates the artifact in place for storage. Content arrives raw and
// leaves either raw or compressed; the checksum is always the digest of the
// raw form, so it stays comparable across representations.
func (o *Optimizer) Optimize(a *models.Artifact) error {
	raw := a.Content
	a.Checksum = models.Checksum(raw)
	a.Metadata.ContentSize = int64(len(raw))
	a.Metadata.LazyLoad = len(raw) > o.cfg.LazyLoadThreshold

	if len(raw) < o.cfg.CompressionThreshold {
		a.Metadata.CompressionType = ""
		return nil
	}

	compressed, err := Compress(raw)
	if err != nil {
		return fmt.Errorf("compress artifact %s: %w", a.ID, err)
	}

	ratio := float64(len(compressed)) / float64(len(raw))
	if ratio > o.cfg.CompressionRatio {
		// Compression did not pay off (already-compact content); store raw.
		a.Metadata.CompressionType = ""
		metrics.CompressionSkipped.Inc()
		return nil
	}

	a.Content = compressed
	a.Metadata.CompressionType = models.CompressionGzip
	metrics.CompressionApplied.Inc()
	return nil
}

// Materialize restores an artifact's raw content in place, verifying the
// checksum after decompression. A digest mismatch means the stored bytes are
// corrupt and surfaces as ErrIntegrity rather than silently serving them.
func Materialize(a *models.Artifact) error {
	if a.Metadata.CompressionType == "" {
		return nil
	}
	if a.Metadata.CompressionType != models.CompressionGzip {
		return fmt.Errorf("%w: artifact %s: unknown compression type %q",
			apperrors.ErrIntegrity, a.ID, a.Metadata.CompressionType)
	}

	raw, err := Decompress(a.Content)
	if err != nil {
		return fmt.Errorf("%w: artifact %s: %v", apperrors.ErrIntegrity, a.ID, err)
	}
	if a.Checksum != "" && models.Checksum(raw) != a.Checksum {
		return fmt.Errorf("%w: artifact %s: content digest does not match checksum",
			apperrors.ErrIntegrity, a.ID)
	}

	a.Content = raw
	a.Metadata.CompressionType = ""
	return nil
}

// OffloadEligible reports whether an artifact's type is renderable content
// worth publishing to the distribution endpoint.
func OffloadEligible(t models.ArtifactType) bool {
	switch t {
	case models.TypeHTML, models.TypeSVG, models.TypeReact, models.TypeMarkdown:
		return true
	}
	return false
}
