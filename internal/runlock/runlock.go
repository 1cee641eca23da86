/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package runlock keeps batch passes from overlapping. A lease is held for the
// duration of one pass and expires on its own if the holder dies.
package runlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/friendsincode/inkwell/internal/telemetry"
)

// ErrHeld is returned by Acquire when another runner holds the lease.
var ErrHeld = errors.New("run lock held by another runner")

// Lease is a held lock.
type Lease interface {
	// Release gives the lock up. Releasing an expired or stolen lease is a no-op.
	Release(ctx context.Context) error
}

// Locker hands out leases by name.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

func record(backend string, err error) {
	result := "acquired"
	switch {
	case errors.Is(err, ErrHeld):
		result = "held"
	case err != nil:
		result = "error"
	}
	telemetry.RunLockAcquisitionsTotal.WithLabelValues(backend, result).Inc()
}

// Local is an in-process locker for single-instance deployments and tests.
// The ttl is ignored; leases last until released.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire implements Locker.
func (l *Local) Acquire(_ context.Context, name string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok {
		record("local", ErrHeld)
		return nil, ErrHeld
	}
	l.held[name] = struct{}{}
	record("local", nil)
	return &localLease{locker: l, name: name}, nil
}

type localLease struct {
	locker *Local
	name   string
	once   sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.name)
		l.locker.mu.Unlock()
	})
	return nil
}
