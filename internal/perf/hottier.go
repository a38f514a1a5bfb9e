// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package perf

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/logging"
	"github.com/tomtom215/artificer/internal/metrics"
	"github.com/tomtom215/artificer/internal/models"
)

// HotTier is a local, TTL-bound Badger store holding materialized (raw
// content) artifacts. It sits in front of the shared cache: hits skip both
// the coordination backend and decompression. A nil *HotTier is valid and
// behaves as a permanent miss, which is how disabled configuration is
// represented.
type HotTier struct {
	db  *badger.DB
	ttl time.Duration
	log zerolog.Logger
}

// OpenHotTier opens the Badger-backed hot tier, or returns (nil, nil) when
// the tier is disabled.
func OpenHotTier(cfg config.PerformanceConfig) (*HotTier, error) {
	if !cfg.HotTierEnabled {
		return nil, nil
	}

	opts := badger.DefaultOptions(cfg.HotTierPath).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true)
	if cfg.HotTierPath == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open hot tier: %w", err)
	}

	return &HotTier{
		db:  db,
		ttl: cfg.HotTierTTL,
		log: logging.Component("hottier"),
	}, nil
}

// Get returns the hot-tier copy of an artifact, or a miss. Entries are
// stored materialized, so no decompression happens on this path. Every hit
// is verified against its recorded digest before it is served; an entry
// whose content no longer matches is dropped and reported as a miss, so a
// damaged tier degrades to the store instead of serving bad content.
func (h *HotTier) Get(id string) (*models.Artifact, bool) {
	if h == nil {
		return nil, false
	}

	var raw []byte
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			h.log.Debug().Err(err).Str("artifact_id", id).Msg("hot tier read failed")
		}
		return nil, false
	}

	var a models.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		h.log.Warn().Str("artifact_id", id).Msg("undecodable hot tier entry, dropping")
		h.Delete(id)
		return nil, false
	}

	if a.Checksum != "" && models.Checksum(a.Content) != a.Checksum {
		h.log.Warn().Str("artifact_id", id).Msg("hot tier entry failed digest check, dropping")
		h.Delete(id)
		return nil, false
	}

	metrics.HotTierHits.Inc()
	return &a, true
}

// Put stores a materialized artifact with the tier's TTL. Failures are
// logged and swallowed: the hot tier is purely an accelerator.
func (h *HotTier) Put(a *models.Artifact) {
	if h == nil || a == nil {
		return
	}

	data, err := json.Marshal(a)
	if err != nil {
		h.log.Debug().Err(err).Str("artifact_id", a.ID).Msg("hot tier marshal failed")
		return
	}

	err = h.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(a.ID), data)
		if h.ttl > 0 {
			entry = entry.WithTTL(h.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		h.log.Debug().Err(err).Str("artifact_id", a.ID).Msg("hot tier write failed")
	}
}

// Delete drops the hot-tier entry for an artifact.
func (h *HotTier) Delete(id string) {
	if h == nil {
		return
	}
	err := h.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(id))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		h.log.Debug().Err(err).Str("artifact_id", id).Msg("hot tier delete failed")
	}
}

// Close releases the underlying Badger store.
func (h *HotTier) Close() error {
	if h == nil {
		return nil
	}
	return h.db.Close()
}
