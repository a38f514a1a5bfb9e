// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package metrics provides Prometheus instrumentation for the artifact core:
// store operation latency, cache efficiency, lock contention, event traffic,
// and monitoring outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Persistence store metrics
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artificer_store_operation_duration_seconds",
			Help:    "Duration of persistence store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artificer_cache_hits_total",
		Help: "Shared cache hits with verified checksums",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artificer_cache_misses_total",
		Help: "Shared cache misses, including checksum-mismatch invalidations",
	})
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artificer_cache_invalidations_total",
			Help: "Cache invalidations by reason",
		},
		[]string{"reason"},
	)
	HotTierHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artificer_hot_tier_hits_total",
		Help: "Local hot tier hits",
	})

	// Lock metrics
	LockAcquisitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artificer_lock_acquisitions_total",
		Help: "Successful distributed lock acquisitions",
	})
	LockContentions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artificer_lock_contentions_total",
		Help: "Lock acquisition attempts blocked by an existing lease",
	})

	// Event channel metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artificer_events_published_total",
			Help: "Artifact events published to the shared channel",
		},
		[]string{"kind"},
	)
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artificer_events_received_total",
			Help: "Artifact events received from peers (self-originated excluded)",
		},
		[]string{"kind"},
	)

	// Coordination backend degradation
	CoordinationDegradations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artificer_coordination_degradations_total",
			Help: "Coordination backend calls degraded to no-ops",
		},
		[]string{"operation"},
	)

	// Monitoring metrics
	ConsistencyIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artificer_consistency_issues_total",
			Help: "Consistency issues detected by type",
		},
		[]string{"type", "severity"},
	)
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artificer_recovery_attempts_total",
			Help: "Automatic recovery attempts by outcome",
		},
		[]string{"type", "outcome"},
	)
	HealthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artificer_health_score",
		Help: "Most recent weighted health score in [0,100]",
	})
	ActiveInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artificer_active_instances",
		Help: "Instances with a fresh heartbeat at last registry read",
	})

	// Compression metrics
	CompressionApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artificer_compression_applied_total",
		Help: "Artifacts stored compressed",
	})
	CompressionSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artificer_compression_skipped_total",
		Help: "Artifacts stored raw because compression did not pay off",
	})

	// Migration metrics
	MigrationsMigrated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artificer_migrations_migrated_total",
		Help: "Legacy messages successfully migrated to artifact records",
	})
	MigrationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artificer_migrations_failed_total",
		Help: "Legacy messages that failed migration",
	})
)

// ObserveStoreOp records a store operation's duration and status.
func ObserveStoreOp(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOpDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
