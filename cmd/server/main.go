// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package main is the entry point for the Artificer server.
//
// Artificer persists conversation artifacts in a transactional DuckDB store
// and coordinates multiple replicas through NATS JetStream: a shared content
// cache, distributed update locks, a live-instance registry, and a
// cross-instance invalidation channel.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered load (defaults, config.yaml, then
//     ARTIFICER_* environment variables)
//  2. Logging: global zerolog logger
//  3. Database: DuckDB store with artifact, version, and message tables
//  4. Coordination: embedded or external NATS; a backend that is down
//     degrades the process to store-only operation instead of failing it
//  5. Performance layer: compression, lazy-load, Badger hot tier, CDN offload
//  6. Supervisor tree: event loop, heartbeat, monitoring schedules, HTTP API
//
// # Signal handling
//
// SIGINT and SIGTERM shut the tree down gracefully: the HTTP server drains
// in-flight requests, the heartbeat deregisters this instance from the shared
// registry, and the store and hot tier close last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/artificer/internal/api"
	"github.com/tomtom215/artificer/internal/artifact"
	"github.com/tomtom215/artificer/internal/cdn"
	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/coordination"
	"github.com/tomtom215/artificer/internal/database"
	"github.com/tomtom215/artificer/internal/logging"
	"github.com/tomtom215/artificer/internal/monitor"
	"github.com/tomtom215/artificer/internal/perf"
	"github.com/tomtom215/artificer/internal/supervisor"
	"github.com/tomtom215/artificer/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("instance_id", cfg.Instance.ID).
		Str("db_path", cfg.Database.Path).
		Bool("coordination_enabled", cfg.NATS.Enabled).
		Msg("Starting Artificer")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	coord, embedded := buildCoordinator(cfg)
	defer coord.Close()
	if embedded != nil {
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Error shutting down embedded coordination server")
			}
		}()
	}

	hot, err := perf.OpenHotTier(cfg.Performance)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open hot tier")
	}
	defer func() {
		if err := hot.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing hot tier")
		}
	}()

	layer := perf.NewLayer(db, coord, hot, cfg)
	uploader := cdn.New(cfg.CDN)
	artifacts := artifact.NewService(db, layer, uploader, cfg)
	mon := monitor.New(db, coord, artifacts, cfg.Monitor)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	if cfg.NATS.Enabled {
		tree.AddCoordinationService(services.NewEventService(coord))
		tree.AddCoordinationService(services.NewHeartbeatService(coord, cfg.Heartbeat.Interval))
	}

	tree.AddMaintenanceService(services.NewScheduleService("health-schedule", mon.RunHealthSchedule))
	tree.AddMaintenanceService(services.NewScheduleService("consistency-schedule", mon.RunConsistencySchedule))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(api.NewHandler(artifacts, mon, coord)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", httpServer.Addr).Msg("Supervisor tree starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
	}

	logging.Info().Msg("Shutdown complete")
}

// buildCoordinator connects the coordination backend per configuration. A
// backend that cannot be reached degrades to the disabled coordinator so the
// instance still serves from the store alone.
func buildCoordinator(cfg *config.Config) (*coordination.Coordinator, *coordination.EmbeddedServer) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("Coordination disabled, running store-only")
		return coordination.Disabled(cfg.Instance.ID), nil
	}

	var embedded *coordination.EmbeddedServer
	url := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		srv, err := coordination.NewEmbeddedServer(cfg.NATS)
		if err != nil {
			logging.Warn().Err(err).Msg("Embedded coordination server failed to start, running store-only")
			return coordination.Disabled(cfg.Instance.ID), nil
		}
		embedded = srv
		url = srv.ClientURL()
	}

	coord, err := coordination.New(cfg, url)
	if err != nil {
		logging.Warn().Err(err).Msg("Coordination backend unreachable, running store-only")
		if embedded != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = embedded.Shutdown(shutdownCtx)
		}
		return coordination.Disabled(cfg.Instance.ID), nil
	}

	logging.Info().Str("url", url).Bool("embedded", embedded != nil).Msg("Coordination backend connected")
	return coord, embedded
}
