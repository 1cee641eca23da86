/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "inkwell:runlock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Redis keeps leases as expiring keys set with SET NX.
type Redis struct {
	client   *redis.Client
	instance string
}

// NewRedis creates a redis-backed locker.
func NewRedis(client *redis.Client, instance string) *Redis {
	if instance == "" {
		instance = "inkwell"
	}
	return &Redis{client: client, instance: instance}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	lease, err := r.acquire(ctx, name, ttl)
	record("redis", err)
	return lease, err
}

func (r *Redis) acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	key := redisKeyPrefix + name
	token := r.instance + "/" + uuid.NewString()

	acquired, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		return nil, ErrHeld
	}
	return &redisLease{client: r.client, key: key, token: token}, nil
}

// Holder returns the token of the current holder, or "" when the lock is free.
func (r *Redis) Holder(ctx context.Context, name string) (string, error) {
	holder, err := r.client.Get(ctx, redisKeyPrefix+name).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get run lock holder: %w", err)
	}
	return holder, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
