/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/inkwell/internal/telemetry"
)

const startedAtKey = "inkwell:started_at"

// registrar is satisfied by the callback handles gorm returns from Before and After.
type registrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

// RegisterCallbacks times every create, query, update and delete and counts
// failures per table. ErrRecordNotFound is not a failure.
func RegisterCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	ops := []struct {
		name   string
		before registrar
		after  registrar
	}{
		{"create", cb.Create().Before("gorm:create"), cb.Create().After("gorm:create")},
		{"query", cb.Query().Before("gorm:query"), cb.Query().After("gorm:query")},
		{"update", cb.Update().Before("gorm:update"), cb.Update().After("gorm:update")},
		{"delete", cb.Delete().Before("gorm:delete"), cb.Delete().After("gorm:delete")},
	}

	for _, op := range ops {
		if err := op.before.Register("telemetry:before_"+op.name, markStart); err != nil {
			return fmt.Errorf("register %s callback: %w", op.name, err)
		}
		if err := op.after.Register("telemetry:after_"+op.name, observe(op.name)); err != nil {
			return fmt.Errorf("register %s callback: %w", op.name, err)
		}
	}
	return nil
}

func markStart(tx *gorm.DB) {
	tx.InstanceSet(startedAtKey, time.Now())
}

func observe(operation string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(startedAtKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}

		table := tx.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(started).Seconds())
		if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, table).Inc()
		}
	}
}

// UpdateConnectionMetrics publishes pool stats. The server calls it every 30 seconds.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
