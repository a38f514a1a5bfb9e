// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package coordination wraps the NATS coordination backend: the shared
// artifact cache, distributed lock leases, the live-instance registry, and
// the cross-instance event channel.
//
// Every operation here is advisory relative to the persistence store. When
// the backend is unreachable (connection down or circuit breaker open), all
// operations degrade to logged no-ops — the store remains the source of
// truth and callers must still succeed using it alone.
package coordination

import (
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/artificer/internal/apperrors"
	"github.com/tomtom215/artificer/internal/config"
	"github.com/tomtom215/artificer/internal/logging"
	"github.com/tomtom215/artificer/internal/metrics"
)

// Coordinator provides cross-instance caching, locking, liveness, and event
// broadcast on top of the NATS backend.
type Coordinator struct {
	enabled    bool
	instanceID string
	startedAt  time.Time

	cfg config.Config

	nc         *natsgo.Conn
	cacheKV    natsgo.KeyValue
	lockKV     natsgo.KeyValue
	instanceKV natsgo.KeyValue

	publisher  *Publisher
	subscriber *Subscriber

	breaker *gobreaker.CircuitBreaker[any]
	log     zerolog.Logger

	handlersMu sync.RWMutex
	handlers   []EventHandler
}

// Disabled returns a Coordinator whose every operation is a no-op. Used when
// the coordination backend is turned off in configuration; the system then
// runs store-only.
func Disabled(instanceID string) *Coordinator {
	return &Coordinator{
		enabled:    false,
		instanceID: instanceID,
		startedAt:  time.Now().UTC(),
		log:        logging.Component("coordination"),
	}
}

// New connects to the coordination backend and provisions the KV buckets and
// event channel. The connection retries in the background; a backend that is
// down at startup degrades rather than failing the process.
func New(cfg *config.Config, url string) (*Coordinator, error) {
	log := logging.Component("coordination")

	natsOpts := []natsgo.Option{
		natsgo.Name("artificer-" + cfg.Instance.ID),
		natsgo.Timeout(cfg.NATS.OperationTimeout),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.NATS.MaxReconnects),
		natsgo.ReconnectWait(cfg.NATS.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("coordination backend disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("coordination backend reconnected")
		}),
	}

	nc, err := natsgo.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect coordination backend: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	cacheKV, err := ensureBucket(js, cfg.Cache.Bucket, cfg.Cache.TTL)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("cache bucket: %w", err)
	}
	lockKV, err := ensureBucket(js, cfg.Lock.Bucket, cfg.Lock.TTL)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("lock bucket: %w", err)
	}
	// Instance entries outlive one missed heartbeat but expire on their own
	// if a replica dies without deregistering.
	instanceKV, err := ensureBucket(js, cfg.Heartbeat.Bucket, 3*cfg.Heartbeat.Interval)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("instance bucket: %w", err)
	}

	publisher, err := NewPublisher(url, cfg.NATS)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("event publisher: %w", err)
	}
	subscriber, err := NewSubscriber(url, cfg.NATS)
	if err != nil {
		publisher.Close()
		nc.Close()
		return nil, fmt.Errorf("event subscriber: %w", err)
	}

	c := &Coordinator{
		enabled:    true,
		instanceID: cfg.Instance.ID,
		startedAt:  time.Now().UTC(),
		cfg:        *cfg,
		nc:         nc,
		cacheKV:    cacheKV,
		lockKV:     lockKV,
		instanceKV: instanceKV,
		publisher:  publisher,
		subscriber: subscriber,
		breaker:    newBreaker(cfg.NATS),
		log:        log,
	}

	log.Info().
		Str("url", url).
		Str("instance", cfg.Instance.ID).
		Dur("cache_ttl", cfg.Cache.TTL).
		Dur("lock_ttl", cfg.Lock.TTL).
		Msg("coordination backend connected")

	return c, nil
}

// ensureBucket opens a KV bucket, creating it with the given TTL if absent.
func ensureBucket(js natsgo.JetStreamContext, name string, ttl time.Duration) (natsgo.KeyValue, error) {
	kv, err := js.KeyValue(name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(&natsgo.KeyValueConfig{
		Bucket: name,
		TTL:    ttl,
	})
}

// newBreaker builds the circuit breaker guarding backend calls. Open breaker
// means the backend is treated as unavailable until the timeout elapses.
func newBreaker(cfg config.NATSConfig) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "coordination-backend",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
	})
}

// execute runs a backend call through the circuit breaker, translating every
// failure into ErrBackendUnavailable so callers degrade uniformly.
func (c *Coordinator) execute(op string, fn func() error) error {
	if !c.enabled {
		return fmt.Errorf("%w: coordination disabled", apperrors.ErrBackendUnavailable)
	}
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	if err != nil {
		metrics.CoordinationDegradations.WithLabelValues(op).Inc()
		return fmt.Errorf("%w: %s: %v", apperrors.ErrBackendUnavailable, op, err)
	}
	return nil
}

// InstanceID returns this replica's identity.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}

// Available reports whether the backend is currently usable: connected and
// with a closed (or probing) circuit breaker.
func (c *Coordinator) Available() bool {
	if !c.enabled || c.nc == nil {
		return false
	}
	if c.breaker.State() == gobreaker.StateOpen {
		return false
	}
	return c.nc.IsConnected()
}

// Close releases the backend connection and the event channel.
func (c *Coordinator) Close() {
	if !c.enabled {
		return
	}
	if c.subscriber != nil {
		c.subscriber.Close()
	}
	if c.publisher != nil {
		c.publisher.Close()
	}
	if c.nc != nil {
		c.nc.Close()
	}
}
