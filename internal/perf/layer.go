// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package perf

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/coordination"
	"github.com/tomtom215/artificer/internal/database"
	"github.com/tomtom215/artificer/internal/logging"
	"github.com/tomtom215/artificer/internal/models"
)

// RetrieveOptions controls how much of an artifact a read returns.
type RetrieveOptions struct {
	// IncludeContent forces content to be returned even for artifacts marked
	// lazy-load. Without it, lazy-load artifacts come back metadata-only.
	IncludeContent bool

	// PreferCDN omits content when a distribution URL exists, letting the
	// caller fetch the rendered form from the edge instead.
	PreferCDN bool
}

// Layer is the optimized read/write path: hot tier, then shared cache, then
// store, with write-through population and distributed lock-guarded updates.
// All content returned from the layer is materialized (raw).
type Layer struct {
	db      *database.DB
	coord   *coordination.Coordinator
	hot     *HotTier
	opt     *Optimizer
	lockCfg config.LockConfig
	log     zerolog.Logger
}

// NewLayer wires the optimization layer. The hot tier may be nil (disabled).
func NewLayer(db *database.DB, coord *coordination.Coordinator, hot *HotTier, cfg *config.Config) *Layer {
	l := &Layer{
		db:      db,
		coord:   coord,
		hot:     hot,
		opt:     NewOptimizer(cfg.Performance),
		lockCfg: cfg.Lock,
		log:     logging.Component("perf"),
	}

	// Peer mutations must purge our local tier; the shared cache entry is
	// already handled by the publishing instance.
	coord.OnEvent(func(ev coordination.Event) {
		switch ev.Kind {
		case coordination.EventInvalidated, coordination.EventUpdated, coordination.EventDeleted:
			hot.Delete(ev.ArtifactID)
		}
	})

	return l
}

// Optimizer exposes the storage policy for callers that prepare artifacts
// before handing them to StoreArtifact.
func (l *Layer) Optimizer() *Optimizer {
	return l.opt
}

// RetrieveArtifact reads one artifact through the tiers: local hot tier,
// shared cache, then the store. Store reads repopulate both cache tiers
// best-effort and bump the artifact's last-access time.
func (l *Layer) RetrieveArtifact(ctx context.Context, id string, opts RetrieveOptions) (*models.Artifact, error) {
	if a, ok := l.hot.Get(id); ok {
		l.touch(ctx, id)
		return l.project(a, opts), nil
	}

	if a, ok := l.coord.GetCachedArtifact(ctx, id); ok {
		l.hot.Put(a)
		l.touch(ctx, id)
		return l.project(a, opts), nil
	}

	a, err := l.db.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Materialize(a); err != nil {
		return nil, err
	}

	l.populate(ctx, a)
	l.touch(ctx, id)
	return l.project(a, opts), nil
}

// RetrieveConversationArtifacts returns a conversation's artifacts in stable
// creation order. Listings deliberately read the store rather than the cache
// tiers: one store query is a consistent snapshot of the conversation, where
// assembling a page from per-id cache hits would mix entries of different
// staleness and shift limit/offset windows between calls. The full set is
// materialized first, then the window is applied. limit <= 0 means no limit.
func (l *Layer) RetrieveConversationArtifacts(ctx context.Context, conversationID string, limit, offset int, opts RetrieveOptions) ([]*models.Artifact, error) {
	all, err := l.db.ListArtifactsByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Artifact, 0, len(all))
	for _, a := range all {
		if err := Materialize(a); err != nil {
			// One corrupt artifact must not hide the rest of the
			// conversation; surface it metadata-only with an error status.
			l.log.Error().Err(err).Str("artifact_id", a.ID).Msg("skipping undecodable content in listing")
			a.Content = ""
			a.Metadata.SyncStatus = models.SyncError
		}
		out = append(out, l.project(a, opts))
	}

	if offset >= len(out) {
		return []*models.Artifact{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// StoreArtifact applies the storage policy and persists a new artifact, then
// populates the cache tiers best-effort with the raw form.
func (l *Layer) StoreArtifact(ctx context.Context, a *models.Artifact) error {
	raw := a.Content
	if err := l.opt.Optimize(a); err != nil {
		return err
	}
	if err := l.db.CreateArtifact(ctx, a); err != nil {
		return err
	}

	cached := a.Clone()
	cached.Content = raw
	cached.Metadata.CompressionType = ""
	l.populate(ctx, cached)
	return nil
}

// UpdateFn derives the next state of an artifact from its current stored
// state. It runs with the distributed lock held, so the state it sees cannot
// move underneath it. The artifact it returns must carry raw content and the
// incremented version.
type UpdateFn func(current *models.Artifact) (*models.Artifact, error)

// UpdateArtifact runs one read-modify-write under the artifact's distributed
// lock: the current record is re-read with the lock held, mutate derives the
// next version from it, and the write carries an expected-version guard so a
// racing writer that slipped past the lock fails loudly instead of silently
// overwriting. Acquisition is retried a bounded number of times on
// contention; once held, the write is bounded to half the lease TTL so it can
// never outlive the lease, and the lock is always released. On success the
// shared cache is refreshed, peers are notified, and the stored artifact is
// returned with raw content.
func (l *Layer) UpdateArtifact(ctx context.Context, id string, mutate UpdateFn) (*models.Artifact, error) {
	if err := l.acquireWithRetry(ctx, id); err != nil {
		if apperrors.IsBackendUnavailable(err) {
			// Coordination is down: proceed unlocked, the version guard on
			// the store transaction remains the correctness backstop.
			l.log.Warn().Str("artifact_id", id).Msg("updating without distributed lock, backend unavailable")
			return l.applyUpdate(ctx, id, mutate)
		}
		return nil, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), l.lockCfg.TTL/2)
		defer cancel()
		if err := l.coord.ReleaseArtifactLock(releaseCtx, id); err != nil {
			l.log.Warn().Err(err).Str("artifact_id", id).Msg("lock release failed, lease will expire via TTL")
		}
	}()

	boundedCtx, cancel := context.WithTimeout(ctx, l.lockCfg.TTL/2)
	defer cancel()
	return l.applyUpdate(boundedCtx, id, mutate)
}

// applyUpdate re-reads the current record, derives the next state, and
// persists it guarded by the version the read observed.
func (l *Layer) applyUpdate(ctx context.Context, id string, mutate UpdateFn) (*models.Artifact, error) {
	current, err := l.db.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := current.Version

	a, err := mutate(current)
	if err != nil {
		return nil, err
	}

	raw := a.Content
	if err := l.opt.Optimize(a); err != nil {
		return nil, err
	}
	snapshot := &models.ArtifactVersion{
		ArtifactID: a.ID,
		Version:    a.Version,
		Content:    a.Content,
		Checksum:   a.Checksum,
		CreatedAt:  a.UpdatedAt,
	}
	if err := l.db.UpdateArtifact(ctx, a, snapshot, expected); err != nil {
		return nil, err
	}

	cached := a.Clone()
	cached.Content = raw
	cached.Metadata.CompressionType = ""
	l.populate(ctx, cached)
	l.coord.NotifyUpdated(ctx, a.ID, a.Checksum)
	return cached, nil
}

// DeleteArtifact removes an artifact from the store and purges every cache
// tier, broadcasting the deletion to peers.
func (l *Layer) DeleteArtifact(ctx context.Context, id string) error {
	if err := l.db.DeleteArtifact(ctx, id); err != nil {
		return err
	}
	l.hot.Delete(id)
	if err := l.coord.InvalidateArtifactCache(ctx, id); err != nil {
		l.log.Debug().Err(err).Str("artifact_id", id).Msg("cache purge degraded")
	}
	l.coord.NotifyDeleted(ctx, id)
	return nil
}

// acquireWithRetry attempts the distributed lock with bounded retries on
// contention. Backend unavailability is returned immediately for the caller
// to decide on unlocked operation.
func (l *Layer) acquireWithRetry(ctx context.Context, id string) error {
	attempts := l.lockCfg.RetryAttempts + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = l.coord.AcquireArtifactLock(ctx, id)
		if lastErr == nil {
			return nil
		}
		if !apperrors.IsLockContention(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.lockCfg.RetryDelay):
		}
	}
	return fmt.Errorf("lock not acquired after %d attempts: %w", attempts, lastErr)
}

// populate best-effort writes the raw artifact into both cache tiers.
func (l *Layer) populate(ctx context.Context, a *models.Artifact) {
	if err := l.coord.CacheArtifact(ctx, a); err != nil {
		l.log.Debug().Err(err).Str("artifact_id", a.ID).Msg("shared cache populate failed")
	}
	l.hot.Put(a)
}

// touch bumps last-access time best-effort; read paths never fail on it.
func (l *Layer) touch(ctx context.Context, id string) {
	if err := l.db.TouchLastAccessed(ctx, id, time.Now().UTC()); err != nil {
		l.log.Debug().Err(err).Str("artifact_id", id).Msg("last-access touch failed")
	}
}

// project applies the retrieve options to a result the caller owns.
func (l *Layer) project(a *models.Artifact, opts RetrieveOptions) *models.Artifact {
	out := a.Clone()
	if opts.PreferCDN && out.Metadata.CDNURL != "" && !opts.IncludeContent {
		out.Content = ""
		return out
	}
	if out.Metadata.LazyLoad && !opts.IncludeContent {
		out.Content = ""
	}
	return out
}
