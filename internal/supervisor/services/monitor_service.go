// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package services

import "context"

// Schedule is one periodic monitor loop. Satisfied by the monitor's
// RunHealthSchedule and RunConsistencySchedule methods.
type Schedule func(ctx context.Context) error

// ScheduleService supervises one monitor schedule.
type ScheduleService struct {
	run  Schedule
	name string
}

// NewScheduleService wraps a periodic schedule as a supervised service.
func NewScheduleService(name string, run Schedule) *ScheduleService {
	return &ScheduleService{run: run, name: name}
}

// Serve implements suture.Service.
func (s *ScheduleService) Serve(ctx context.Context) error {
	return s.run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *ScheduleService) String() string {
	return s.name
}
