// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package monitor

import (
	"context"
	"sync/atomic"
	"time"
)

// RunHealthSchedule runs the periodic health check until ctx is canceled.
// An overlap guard skips a tick while the previous check is still running.
func (m *Monitor) RunHealthSchedule(ctx context.Context) error {
	var inFlight atomic.Bool

	run := func() {
		if !inFlight.CompareAndSwap(false, true) {
			m.log.Debug().Msg("health check still running, skipping tick")
			return
		}
		defer inFlight.Store(false)
		m.HealthCheck(ctx)
	}

	run()

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

// RunConsistencySchedule runs the periodic consistency scan — followed by
// automatic recovery when enabled — until ctx is canceled. Scans never
// overlap: a tick that arrives mid-scan is skipped.
func (m *Monitor) RunConsistencySchedule(ctx context.Context) error {
	var inFlight atomic.Bool

	run := func() {
		if !inFlight.CompareAndSwap(false, true) {
			m.log.Debug().Msg("consistency scan still running, skipping tick")
			return
		}
		defer inFlight.Store(false)
		m.runConsistencyPass(ctx)
	}

	run()

	ticker := time.NewTicker(m.cfg.ConsistencyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

// runConsistencyPass is one scan plus optional recovery.
func (m *Monitor) runConsistencyPass(ctx context.Context) {
	issues, err := m.ScanConsistency(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("consistency scan failed")
		return
	}
	if len(issues) == 0 || !m.cfg.AutoRecover {
		return
	}
	report := m.Recover(ctx, issues)
	m.log.Info().
		Int("attempted", report.Attempted).
		Int("resolved", report.Resolved).
		Int("unrecoverable", len(report.Unrecoverable)).
		Msg("automatic recovery finished")
}
