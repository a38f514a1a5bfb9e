// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/artificer/internal/metrics"
	"github.com/tomtom215/artificer/internal/models"
)

// CacheEntry is the value stored in the shared cache bucket. Content is
// always the raw (decompressed) form, so the checksum tag can be verified by
// digesting the cached content directly.
type CacheEntry struct {
	Artifact *models.Artifact `json:"artifact"`
	Checksum string           `json:"checksum"`
	CachedAt time.Time        `json:"cachedAt"`
	Origin   string           `json:"origin"`
}

// CacheArtifact writes a TTL-bound cache entry keyed by artifact id, tagged
// with its checksum, then broadcasts a "cached" event to all instances.
// Degrades to a logged no-op when the backend is unreachable.
func (c *Coordinator) CacheArtifact(ctx context.Context, a *models.Artifact) error {
	entry := CacheEntry{
		Artifact: a.Clone(),
		Checksum: a.Checksum,
		CachedAt: time.Now().UTC(),
		Origin:   c.instanceID,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := c.execute("cache_put", func() error {
		_, putErr := c.cacheKV.Put(a.ID, data)
		return putErr
	}); err != nil {
		c.log.Debug().Err(err).Str("artifact_id", a.ID).Msg("cache write degraded to no-op")
		return nil
	}

	c.publishEvent(ctx, Event{
		Kind:       EventCached,
		ArtifactID: a.ID,
		Checksum:   a.Checksum,
	})
	return nil
}

// GetCachedArtifact reads the cache entry for an artifact. The checksum of
// the cached content is recomputed and compared to the entry's tag: on
// mismatch the entry is proactively invalidated and a miss is reported
// rather than returning stale or corrupt data.
func (c *Coordinator) GetCachedArtifact(ctx context.Context, id string) (*models.Artifact, bool) {
	var raw []byte
	err := c.execute("cache_get", func() error {
		kvEntry, getErr := c.cacheKV.Get(id)
		if getErr != nil {
			return getErr
		}
		raw = kvEntry.Value()
		return nil
	})
	if err != nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}

	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Artifact == nil {
		c.log.Warn().Str("artifact_id", id).Msg("undecodable cache entry, invalidating")
		c.invalidateLocal(id, "undecodable")
		metrics.CacheMisses.Inc()
		return nil, false
	}

	if models.Checksum(entry.Artifact.Content) != entry.Checksum {
		c.log.Warn().
			Str("artifact_id", id).
			Str("expected", entry.Checksum).
			Msg("cache checksum mismatch, invalidating")
		c.invalidateLocal(id, "checksum_mismatch")
		c.publishEvent(ctx, Event{Kind: EventInvalidated, ArtifactID: id})
		metrics.CacheMisses.Inc()
		return nil, false
	}

	metrics.CacheHits.Inc()
	return entry.Artifact, true
}

// InvalidateArtifactCache deletes the cache entry and broadcasts an
// invalidation event so every peer purges its own copies.
func (c *Coordinator) InvalidateArtifactCache(ctx context.Context, id string) error {
	c.invalidateLocal(id, "explicit")
	c.publishEvent(ctx, Event{Kind: EventInvalidated, ArtifactID: id})
	return nil
}

// invalidateLocal removes the shared cache entry without broadcasting.
func (c *Coordinator) invalidateLocal(id, reason string) {
	err := c.execute("cache_delete", func() error {
		delErr := c.cacheKV.Delete(id)
		if errors.Is(delErr, natsgo.ErrKeyNotFound) {
			return nil
		}
		return delErr
	})
	if err != nil {
		c.log.Debug().Err(err).Str("artifact_id", id).Msg("cache invalidation degraded to no-op")
		return
	}
	metrics.CacheInvalidations.WithLabelValues(reason).Inc()
}
