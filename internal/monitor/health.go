// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package monitor

import (
	"context"
	"time"

	"github.com/tomtom215/artificer/internal/metrics"
	"github.com/tomtom215/artificer/internal/models"
)

// Score deductions. The score starts at 100 and each finding subtracts its
// weight; the result is clamped to [0, 100].
const (
	deductCritical          = 15
	deductHigh              = 10
	deductMedium            = 5
	deductUnhealthyInstance = 10
	deductStoreUnreachable  = 30
	deductCoordination      = 20

	// healthyFloor is the minimum score still reported as healthy, provided
	// no critical issue is outstanding.
	healthyFloor = 70
)

// HealthCheck probes the store and coordination backend, folds in the latest
// consistency findings, and produces the weighted health report. Read-only.
func (m *Monitor) HealthCheck(ctx context.Context) *models.HealthReport {
	score := 100
	checkedAt := time.Now().UTC()
	probes := map[string]any{}

	storeUp := m.db.Ping(ctx) == nil
	probes["store_reachable"] = storeUp
	if !storeUp {
		score -= deductStoreUnreachable
	}

	coordUp := m.coord.Available()
	probes["coordination_available"] = coordUp
	if !coordUp {
		score -= deductCoordination
	}

	registered := m.coord.GetRegisteredInstances(ctx)
	now := time.Now().UTC()
	active, stale := 0, 0
	for _, inst := range registered {
		if inst.Active(m.coord.HeartbeatInterval(), now) {
			active++
		} else {
			stale++
			score -= deductUnhealthyInstance
		}
	}
	probes["instances_active"] = active
	probes["instances_stale"] = stale

	issues := m.LastIssues()
	unresolved := issues[:0:0]
	hasCritical := false
	for _, issue := range issues {
		if issue.Resolved {
			continue
		}
		unresolved = append(unresolved, issue)
		switch issue.Severity {
		case models.SeverityCritical:
			score -= deductCritical
			hasCritical = true
		case models.SeverityHigh:
			score -= deductHigh
		case models.SeverityMedium:
			score -= deductMedium
		}
	}
	probes["unresolved_issues"] = len(unresolved)

	if storeUp {
		if health, err := m.artifacts.GetArtifactsHealthCheck(ctx, ""); err == nil {
			probes["artifacts_total"] = health.Total
			probes["artifacts_missing_checksum"] = health.MissingChecksum
			probes["artifacts_stale_non_synced"] = health.StaleNonSynced
		}
	}

	if score < 0 {
		score = 0
	}

	report := &models.HealthReport{
		Healthy:   storeUp && !hasCritical && score >= healthyFloor,
		Score:     score,
		Issues:    unresolved,
		Metrics:   probes,
		CheckedAt: checkedAt,
	}

	metrics.HealthScore.Set(float64(score))

	m.mu.Lock()
	m.lastReport = report
	m.mu.Unlock()

	if !report.Healthy {
		m.log.Warn().Int("score", score).Int("issues", len(unresolved)).Msg("health check degraded")
	} else {
		m.log.Debug().Int("score", score).Msg("health check passed")
	}
	return report
}
