// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package coordination

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/artificer/internal/config"
)

// Publisher wraps the Watermill NATS publisher used for the shared event
// channel. Events are ephemeral broadcasts: JetStream is disabled so a slow
// or offline peer simply misses them and re-reads from the store — the
// checksum verification on every cache read makes that safe.
type Publisher struct {
	publisher message.Publisher
	mu        sync.RWMutex
	closed    bool
}

// NewPublisher creates the event-channel publisher.
func NewPublisher(url string, cfg config.NATSConfig) (*Publisher, error) {
	wmConfig := wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: connectOptions(cfg),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, watermill.NopLogger{})
	if err != nil {
		return nil, fmt.Errorf("create event publisher: %w", err)
	}
	return &Publisher{publisher: pub}, nil
}

// Publish sends one message to the topic.
func (p *Publisher) Publish(topic string, msg *message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}
	return p.publisher.Publish(topic, msg)
}

// Close shuts the publisher down; subsequent publishes fail.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.publisher.Close()
}

// Subscriber wraps the Watermill NATS subscriber for the event channel.
// No queue group is configured: every instance must see every event, since
// each maintains its own caches.
type Subscriber struct {
	subscriber message.Subscriber
}

// NewSubscriber creates the event-channel subscriber.
func NewSubscriber(url string, cfg config.NATSConfig) (*Subscriber, error) {
	wmConfig := wmNats.SubscriberConfig{
		URL:         url,
		NatsOptions: connectOptions(cfg),
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, watermill.NopLogger{})
	if err != nil {
		return nil, fmt.Errorf("create event subscriber: %w", err)
	}
	return &Subscriber{subscriber: sub}, nil
}

// Subscribe returns a channel of messages for the topic. The channel closes
// when ctx is canceled or the subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.subscriber.Subscribe(ctx, topic)
}

// Close shuts the subscriber down.
func (s *Subscriber) Close() {
	_ = s.subscriber.Close()
}

// connectOptions builds the NATS connection options shared by the publisher
// and subscriber, with reconnection handling.
func connectOptions(cfg config.NATSConfig) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Timeout(cfg.OperationTimeout),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	}
}
