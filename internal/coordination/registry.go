// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package coordination

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/artificer/internal/metrics"
	"github.com/tomtom215/artificer/internal/models"
)

// Heartbeat renews this instance's entry in the live-instance registry.
// Called periodically by the heartbeat service.
func (c *Coordinator) Heartbeat(ctx context.Context) error {
	hostname, _ := os.Hostname()
	info := models.InstanceInfo{
		ID:            c.instanceID,
		Hostname:      hostname,
		StartedAt:     c.startedAt,
		LastHeartbeat: time.Now().UTC(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal instance info: %w", err)
	}

	if err := c.execute("heartbeat", func() error {
		_, putErr := c.instanceKV.Put(c.instanceID, data)
		return putErr
	}); err != nil {
		c.log.Debug().Err(err).Msg("heartbeat degraded to no-op")
		return nil
	}
	return nil
}

// Deregister removes this instance's registry entry on clean shutdown.
func (c *Coordinator) Deregister(ctx context.Context) {
	err := c.execute("deregister", func() error {
		delErr := c.instanceKV.Delete(c.instanceID)
		if errors.Is(delErr, natsgo.ErrKeyNotFound) {
			return nil
		}
		return delErr
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("deregister degraded to no-op")
	}
}

// GetActiveInstances returns every registered instance whose heartbeat age
// is under twice the heartbeat interval. An unreachable backend yields an
// empty slice, not an error: liveness is advisory.
func (c *Coordinator) GetActiveInstances(ctx context.Context) []models.InstanceInfo {
	var active []models.InstanceInfo

	err := c.execute("active_instances", func() error {
		keys, keysErr := c.instanceKV.Keys()
		if errors.Is(keysErr, natsgo.ErrNoKeysFound) {
			return nil
		}
		if keysErr != nil {
			return keysErr
		}

		now := time.Now().UTC()
		for _, key := range keys {
			entry, getErr := c.instanceKV.Get(key)
			if errors.Is(getErr, natsgo.ErrKeyNotFound) {
				continue // Expired between Keys() and Get()
			}
			if getErr != nil {
				return getErr
			}
			var info models.InstanceInfo
			if err := json.Unmarshal(entry.Value(), &info); err != nil {
				c.log.Warn().Str("key", key).Msg("undecodable instance entry, skipping")
				continue
			}
			if info.Active(c.cfg.Heartbeat.Interval, now) {
				active = append(active, info)
			}
		}
		return nil
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("instance registry read degraded to empty")
		return nil
	}

	metrics.ActiveInstances.Set(float64(len(active)))
	return active
}

// GetRegisteredInstances returns every registry entry regardless of
// heartbeat freshness, for health scoring: stale-but-present entries count
// against the deployment's health until their TTL reaps them.
func (c *Coordinator) GetRegisteredInstances(ctx context.Context) []models.InstanceInfo {
	var all []models.InstanceInfo

	err := c.execute("registered_instances", func() error {
		keys, keysErr := c.instanceKV.Keys()
		if errors.Is(keysErr, natsgo.ErrNoKeysFound) {
			return nil
		}
		if keysErr != nil {
			return keysErr
		}
		for _, key := range keys {
			entry, getErr := c.instanceKV.Get(key)
			if errors.Is(getErr, natsgo.ErrKeyNotFound) {
				continue
			}
			if getErr != nil {
				return getErr
			}
			var info models.InstanceInfo
			if err := json.Unmarshal(entry.Value(), &info); err != nil {
				continue
			}
			all = append(all, info)
		}
		return nil
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("instance registry read degraded to empty")
		return nil
	}
	return all
}

// HeartbeatInterval exposes the configured heartbeat interval for liveness
// evaluation by callers holding registry entries.
func (c *Coordinator) HeartbeatInterval() time.Duration {
	return c.cfg.Heartbeat.Interval
}
