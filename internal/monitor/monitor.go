// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package monitor provides the monitoring and recovery service: weighted
// health scoring, periodic consistency scans between the cache and the
// store, and bounded automatic repair of what the scans find.
//
// The monitor is strictly a consumer of the other components' public
// surfaces. It never reaches into storage internals; every repair goes
// through the artifact service or the coordination API, so recovery can
// never corrupt state the normal write path couldn't.
package monitor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/artificer/internal/artifact"
	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/coordination"
	"github.com/tomtom215/artificer/internal/database"
	"github.com/tomtom215/artificer/internal/logging"
	"github.com/tomtom215/artificer/internal/models"
)

// Monitor runs health checks and consistency scans on schedules and exposes
// their latest results to the diagnostics surface.
type Monitor struct {
	db        *database.DB
	coord     *coordination.Coordinator
	artifacts *artifact.Service
	cfg       config.MonitorConfig
	log       zerolog.Logger

	mu          sync.RWMutex
	lastReport  *models.HealthReport
	lastIssues  []models.ConsistencyIssue
	lastScanAt  time.Time
	lastRecover *models.RecoveryReport
}

// New wires the monitor.
func New(db *database.DB, coord *coordination.Coordinator, artifacts *artifact.Service, cfg config.MonitorConfig) *Monitor {
	return &Monitor{
		db:        db,
		coord:     coord,
		artifacts: artifacts,
		cfg:       cfg,
		log:       logging.Component("monitor"),
	}
}

// LastReport returns the most recent health report, or nil before the first
// check completes.
func (m *Monitor) LastReport() *models.HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReport
}

// LastIssues returns the findings of the most recent consistency scan.
func (m *Monitor) LastIssues() []models.ConsistencyIssue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ConsistencyIssue, len(m.lastIssues))
	copy(out, m.lastIssues)
	return out
}

// LastRecovery returns the most recent recovery report, or nil when no
// recovery has run.
func (m *Monitor) LastRecovery() *models.RecoveryReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRecover
}
