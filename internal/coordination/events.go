// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/artificer/internal/metrics"
)

// EventsTopic is the single shared channel carrying cache, invalidation,
// update, and delete notifications between instances.
const EventsTopic = "artifacts.events"

// EventKind classifies an artifact event.
type EventKind string

// Event kinds.
const (
	EventCached      EventKind = "cached"
	EventInvalidated EventKind = "invalidated"
	EventUpdated     EventKind = "updated"
	EventDeleted     EventKind = "deleted"
)

// Event is one cross-instance artifact notification. Origin carries the
// publishing instance id so consumers can ignore their own events and avoid
// feedback loops.
type Event struct {
	Kind       EventKind `json:"kind"`
	ArtifactID string    `json:"artifactId"`
	Checksum   string    `json:"checksum,omitempty"`
	Origin     string    `json:"origin"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Validate checks the event's required fields.
func (e *Event) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("event kind is required")
	}
	if e.ArtifactID == "" {
		return fmt.Errorf("event artifact id is required")
	}
	return nil
}

// EventHandler consumes peer events. Handlers run on the subscriber
// goroutine and must not block.
type EventHandler func(Event)

// OnEvent registers a handler for peer events. All registration happens at
// construction time, before Run, so no locking is needed on the hot path.
func (c *Coordinator) OnEvent(h EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, h)
}

// publishEvent stamps origin and time, then broadcasts. Failures degrade to
// logged no-ops: event delivery is an eventual-consistency window, never
// part of a write's guarantee.
func (c *Coordinator) publishEvent(ctx context.Context, ev Event) {
	ev.Origin = c.instanceID
	ev.OccurredAt = time.Now().UTC()

	if err := ev.Validate(); err != nil {
		c.log.Error().Err(err).Msg("refusing to publish invalid event")
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal event")
		return
	}

	err = c.execute("event_publish", func() error {
		msg := message.NewMessage(uuid.New().String(), data)
		return c.publisher.Publish(EventsTopic, msg)
	})
	if err != nil {
		c.log.Debug().Err(err).Str("artifact_id", ev.ArtifactID).Msg("event publish degraded to no-op")
		return
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
}

// NotifyUpdated broadcasts that an artifact changed in the store, carrying
// the new checksum so peers can drop entries that no longer match.
func (c *Coordinator) NotifyUpdated(ctx context.Context, artifactID, checksum string) {
	c.publishEvent(ctx, Event{Kind: EventUpdated, ArtifactID: artifactID, Checksum: checksum})
}

// NotifyDeleted broadcasts that an artifact was removed from the store.
func (c *Coordinator) NotifyDeleted(ctx context.Context, artifactID string) {
	c.publishEvent(ctx, Event{Kind: EventDeleted, ArtifactID: artifactID})
}

// Run consumes the shared event channel until ctx is canceled, dispatching
// peer events to registered handlers. Self-originated events are dropped.
// Implements the event-loop half of suture.Service via services.EventService.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	msgs, err := c.subscriber.Subscribe(ctx, EventsTopic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", EventsTopic, err)
	}

	c.log.Info().Str("topic", EventsTopic).Msg("event loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("event channel closed")
			}
			c.dispatch(msg)
		}
	}
}

// dispatch decodes one message and fans it out to handlers.
func (c *Coordinator) dispatch(msg *message.Message) {
	defer msg.Ack()

	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		c.log.Warn().Err(err).Msg("undecodable event, dropping")
		return
	}

	if ev.Origin == c.instanceID {
		return // Our own broadcast
	}

	metrics.EventsReceived.WithLabelValues(string(ev.Kind)).Inc()

	c.handlersMu.RLock()
	handlers := c.handlers
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
