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
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/inkwell/internal/models"
)

// Database keeps leases in the run_locks table. An expired row is taken
// over by the next caller.
type Database struct {
	db       *gorm.DB
	instance string
	now      func() time.Time
	logger   zerolog.Logger
}

// NewDatabase creates a row-based locker. instance labels lease owners in logs.
func NewDatabase(db *gorm.DB, instance string, logger zerolog.Logger) *Database {
	if instance == "" {
		instance = "inkwell"
	}
	return &Database{
		db:       db,
		instance: instance,
		now:      time.Now,
		logger:   logger.With().Str("component", "runlock").Logger(),
	}
}

// Acquire implements Locker.
func (d *Database) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	lease, err := d.acquire(ctx, name, ttl)
	record("database", err)
	return lease, err
}

func (d *Database) acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	now := d.now().UTC()
	owner := d.instance + "/" + uuid.NewString()
	row := models.RunLock{
		Name:       name,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	result := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return nil, fmt.Errorf("insert run lock: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return &databaseLease{locker: d, name: name, owner: owner}, nil
	}

	// Row exists; take it over only if the previous lease expired.
	result = d.db.WithContext(ctx).Model(&models.RunLock{}).
		Where("name = ? AND expires_at < ?", name, now).
		Updates(map[string]any{"owner": owner, "acquired_at": now, "expires_at": row.ExpiresAt})
	if result.Error != nil {
		return nil, fmt.Errorf("take over run lock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrHeld
	}

	d.logger.Warn().Str("lock", name).Msg("took over expired run lock")
	return &databaseLease{locker: d, name: name, owner: owner}, nil
}

type databaseLease struct {
	locker *Database
	name   string
	owner  string
}

func (l *databaseLease) Release(ctx context.Context) error {
	err := l.locker.db.WithContext(ctx).
		Where("name = ? AND owner = ?", l.name, l.owner).
		Delete(&models.RunLock{}).Error
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
