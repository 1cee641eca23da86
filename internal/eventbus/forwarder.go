/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process scheduler events to an external
// broker so collaborators such as the newsletter sender and the renderer can
// react to publish outcomes.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/inkwell/internal/events"
	"github.com/friendsincode/inkwell/internal/telemetry"
)

// publisher sends one encoded message for an event type.
type publisher interface {
	publish(ctx context.Context, eventType events.EventType, data []byte) error
	close() error
}

// Message is the wire format published to the broker.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string, now time.Time) ([]byte, error) {
	body := make(events.Payload, len(payload))
	for k, v := range payload {
		if k == "event" {
			continue
		}
		body[k] = v
	}
	return json.Marshal(Message{
		EventType: eventType,
		Payload:   body,
		Timestamp: now.UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

// UnmarshalMessage parses a forwarded message.
func UnmarshalMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}

// Forwarder relays every bus event to a broker. Delivery is best effort:
// failures are logged and counted, never retried.
type Forwarder struct {
	backend string
	pub     publisher
	bus     *events.Bus
	nodeID  string
	timeout time.Duration
	logger  zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

func newForwarder(backend string, pub publisher, bus *events.Bus, nodeID string, logger zerolog.Logger) *Forwarder {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &Forwarder{
		backend: backend,
		pub:     pub,
		bus:     bus,
		nodeID:  nodeID,
		timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "eventbus").Str("backend", backend).Logger(),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once Run has subscribed to the bus.
func (f *Forwarder) Ready() <-chan struct{} {
	return f.ready
}

// Backend names the broker kind.
func (f *Forwarder) Backend() string { return f.backend }

// Run forwards events until ctx is cancelled, then closes the broker connection.
func (f *Forwarder) Run(ctx context.Context) {
	sub := f.bus.Subscribe(events.EventAll)
	defer func() {
		f.bus.Unsubscribe(events.EventAll, sub)
		if err := f.pub.close(); err != nil {
			f.logger.Warn().Err(err).Msg("failed to close broker connection")
		}
	}()
	f.readyOnce.Do(func() { close(f.ready) })

	f.logger.Info().Str("node_id", f.nodeID).Msg("event forwarding started")

	for {
		select {
		case <-ctx.Done():
			f.drain(sub)
			f.logger.Info().Msg("event forwarding stopped")
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			eventType, _ := payload["event"].(string)
			if err := f.Forward(context.WithoutCancel(ctx), events.EventType(eventType), payload); err != nil {
				f.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to forward event")
			}
		}
	}
}

// drain forwards events already buffered when forwarding stops.
func (f *Forwarder) drain(sub events.Subscriber) {
	ctx := context.Background()
	for {
		select {
		case payload, ok := <-sub:
			if !ok {
				return
			}
			eventType, _ := payload["event"].(string)
			if err := f.Forward(ctx, events.EventType(eventType), payload); err != nil {
				f.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to forward event")
			}
		default:
			return
		}
	}
}

// Forward publishes one event.
func (f *Forwarder) Forward(ctx context.Context, eventType events.EventType, payload events.Payload) error {
	if eventType == "" || eventType == events.EventAll {
		return fmt.Errorf("forward: missing concrete event type")
	}
	data, err := marshalMessage(eventType, payload, f.nodeID, time.Now())
	if err != nil {
		telemetry.EventsForwardedTotal.WithLabelValues(f.backend, "error").Inc()
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.pub.publish(ctx, eventType, data); err != nil {
		telemetry.EventsForwardedTotal.WithLabelValues(f.backend, "error").Inc()
		return err
	}
	telemetry.EventsForwardedTotal.WithLabelValues(f.backend, "success").Inc()
	f.logger.Debug().Str("event_type", string(eventType)).Msg("forwarded event")
	return nil
}
