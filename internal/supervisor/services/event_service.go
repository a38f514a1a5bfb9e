// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package services wraps the long-running components as suture services.
// Each wrapper adapts a Run/loop method to suture's context-aware Serve
// contract through a narrow interface, keeping the wrappers free of the
// components' package dependencies.
package services

import "context"

// EventLoop matches the coordinator's event-consumption loop. Satisfied by
// *coordination.Coordinator.
type EventLoop interface {
	// Run consumes the shared event channel until ctx is canceled.
	Run(ctx context.Context) error
}

// EventService supervises the cross-instance event loop. The supervisor
// restarts it if the subscription drops; a restart simply resubscribes, and
// checksum-verified cache reads make any missed events harmless.
type EventService struct {
	loop EventLoop
	name string
}

// NewEventService creates the event loop service wrapper.
func NewEventService(loop EventLoop) *EventService {
	return &EventService{loop: loop, name: "event-loop"}
}

// Serve implements suture.Service.
func (s *EventService) Serve(ctx context.Context) error {
	return s.loop.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *EventService) String() string {
	return s.name
}
