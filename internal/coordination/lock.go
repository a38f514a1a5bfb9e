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

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/metrics"
	"github.com/tomtom215/artificer/internal/models"
)

// AcquireArtifactLock takes the advisory mutation lock for an artifact using
// the backend's atomic set-if-absent primitive. The lease is tagged with the
// acquiring instance and expires via the lock bucket's TTL, so a crashed
// holder cannot deadlock the artifact.
//
// Leases do not auto-renew: updates are bounded to finish well within the
// TTL (the update path carries a deadline of TTL/2), which keeps the
// protocol simple and avoids needing fencing tokens. The store transaction,
// not the lock, is the correctness backstop.
//
// Returns ErrLockContention when another instance holds the lease, and
// ErrBackendUnavailable when the backend is unreachable — in which case
// callers may proceed unlocked, relying on the store transaction.
func (c *Coordinator) AcquireArtifactLock(ctx context.Context, artifactID string) error {
	lease := models.LockLease{
		ArtifactID: artifactID,
		Holder:     c.instanceID,
		AcquiredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("marshal lease: %w", err)
	}

	var contended bool
	err = c.execute("lock_acquire", func() error {
		_, createErr := c.lockKV.Create(artifactID, data)
		if errors.Is(createErr, natsgo.ErrKeyExists) {
			contended = true
			return nil
		}
		return createErr
	})
	if err != nil {
		return err
	}
	if contended {
		metrics.LockContentions.Inc()
		return fmt.Errorf("%w: artifact %s", apperrors.ErrLockContention, artifactID)
	}

	metrics.LockAcquisitions.Inc()
	c.log.Debug().Str("artifact_id", artifactID).Msg("lock acquired")
	return nil
}

// ReleaseArtifactLock releases the lease if — and only if — this instance is
// the tagged holder. Releasing an expired or foreign lease is a no-op error.
func (c *Coordinator) ReleaseArtifactLock(ctx context.Context, artifactID string) error {
	var holder string
	err := c.execute("lock_release", func() error {
		entry, getErr := c.lockKV.Get(artifactID)
		if errors.Is(getErr, natsgo.ErrKeyNotFound) {
			// Lease already expired; nothing to release.
			holder = c.instanceID
			return nil
		}
		if getErr != nil {
			return getErr
		}

		var lease models.LockLease
		if err := json.Unmarshal(entry.Value(), &lease); err != nil {
			return fmt.Errorf("unmarshal lease: %w", err)
		}
		holder = lease.Holder
		if lease.Holder != c.instanceID {
			return nil
		}
		return c.lockKV.Delete(artifactID)
	})
	if err != nil {
		c.log.Debug().Err(err).Str("artifact_id", artifactID).Msg("lock release degraded to no-op")
		return nil
	}

	if holder != c.instanceID {
		return fmt.Errorf("%w: lease for %s held by %s", apperrors.ErrLockContention, artifactID, holder)
	}
	c.log.Debug().Str("artifact_id", artifactID).Msg("lock released")
	return nil
}

// LockHolder reports the current lease holder for diagnostics, or "" when
// the artifact is unlocked.
func (c *Coordinator) LockHolder(ctx context.Context, artifactID string) string {
	var holder string
	err := c.execute("lock_holder", func() error {
		entry, getErr := c.lockKV.Get(artifactID)
		if errors.Is(getErr, natsgo.ErrKeyNotFound) {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		var lease models.LockLease
		if err := json.Unmarshal(entry.Value(), &lease); err != nil {
			return err
		}
		holder = lease.Holder
		return nil
	})
	if err != nil {
		return ""
	}
	return holder
}
