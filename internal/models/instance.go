// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package models

import "time"

// InstanceInfo is one entry in the live-instance registry. Instances renew
// their own heartbeat; peers consider an instance active iff its heartbeat
// age is under twice the heartbeat interval.
type InstanceInfo struct {
	ID            string    `json:"id"`
	Hostname      string    `json:"hostname"`
	StartedAt     time.Time `json:"startedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Active reports whether the instance's heartbeat is fresh relative to the
// shared heartbeat interval.
func (i InstanceInfo) Active(interval time.Duration, now time.Time) bool {
	return now.Sub(i.LastHeartbeat) < 2*interval
}

// LockLease records which instance currently holds the advisory mutation
// lock for an artifact. Leases expire via backend TTL, so a crashed holder
// self-heals without manual intervention.
type LockLease struct {
	ArtifactID string    `json:"artifactId"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquiredAt"`
}
