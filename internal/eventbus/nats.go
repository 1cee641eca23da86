/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/inkwell/internal/events"
)

// NATSSubjectPrefix prefixes the subject of each event type.
const NATSSubjectPrefix = "inkwell.events."

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "inkwell",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSSubject returns the subject an event type is published on.
func NATSSubject(eventType events.EventType) string {
	return NATSSubjectPrefix + string(eventType)
}

// ConnectNATS dials the server with reconnect logging.
func ConnectNATS(cfg NATSConfig, logger zerolog.Logger) (*nats.Conn, error) {
	log := logger.With().Str("component", "nats").Logger()
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}

type natsPublisher struct {
	conn *nats.Conn
}

func (p *natsPublisher) publish(_ context.Context, eventType events.EventType, data []byte) error {
	if err := p.conn.Publish(NATSSubject(eventType), data); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}

func (p *natsPublisher) close() error {
	return p.conn.Drain()
}

// NewNATSForwarder forwards bus events to NATS. The forwarder drains conn
// when it stops.
func NewNATSForwarder(conn *nats.Conn, bus *events.Bus, nodeID string, logger zerolog.Logger) *Forwarder {
	return newForwarder("nats", &natsPublisher{conn: conn}, bus, nodeID, logger)
}
