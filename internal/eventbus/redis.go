/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/inkwell/internal/events"
)

// RedisChannelPrefix prefixes the pub/sub channel of each event type.
const RedisChannelPrefix = "inkwell:events:"

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisClient connects and pings Redis. The client is shared by the run
// lock and the forwarder.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

type redisPublisher struct {
	client *redis.Client
}

func (p *redisPublisher) publish(ctx context.Context, eventType events.EventType, data []byte) error {
	if err := p.client.Publish(ctx, RedisChannelPrefix+string(eventType), data).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// close is a no-op; the client is shared with the run lock.
func (p *redisPublisher) close() error { return nil }

// NewRedisForwarder forwards bus events to Redis pub/sub. The caller keeps
// ownership of client.
func NewRedisForwarder(client *redis.Client, bus *events.Bus, nodeID string, logger zerolog.Logger) *Forwarder {
	return newForwarder("redis", &redisPublisher{client: client}, bus, nodeID, logger)
}
