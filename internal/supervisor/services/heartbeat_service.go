// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package services

import (
	"context"
	"time"
)

// HeartbeatRegistry matches the coordinator's registry methods. Satisfied by
// *coordination.Coordinator.
type HeartbeatRegistry interface {
	Heartbeat(ctx context.Context) error
	Deregister(ctx context.Context)
}

// HeartbeatService renews this instance's registry entry on the configured
// interval and deregisters on clean shutdown. A crashed instance's entry
// instead expires via the registry bucket's TTL.
type HeartbeatService struct {
	registry HeartbeatRegistry
	interval time.Duration
	name     string
}

// NewHeartbeatService creates the heartbeat service wrapper.
func NewHeartbeatService(registry HeartbeatRegistry, interval time.Duration) *HeartbeatService {
	return &HeartbeatService{
		registry: registry,
		interval: interval,
		name:     "heartbeat",
	}
}

// Serve implements suture.Service: an immediate heartbeat, then renewal on
// every tick until shutdown.
func (s *HeartbeatService) Serve(ctx context.Context) error {
	if err := s.registry.Heartbeat(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Best-effort removal; a fresh context since ours is canceled.
			deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.registry.Deregister(deregCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if err := s.registry.Heartbeat(ctx); err != nil {
				return err
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *HeartbeatService) String() string {
	return s.name
}
