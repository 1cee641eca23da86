/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/inkwell/internal/config"
)

const connMaxLifetime = 30 * time.Minute

// Connect opens the configured backend and sizes its pool. Timestamps are
// always written in UTC.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg.DBBackend, cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	gormLogger := logger.Default.LogMode(logger.Warn)
	if cfg.Environment == "development" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBBackend, err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}

	maxConns := cfg.DBMaxConns
	if maxConns < 1 {
		maxConns = 1
	}
	// The sqlite driver serialises writers; a single connection avoids SQLITE_BUSY.
	if cfg.DBBackend == config.DatabaseSQLite {
		maxConns = 1
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(min(maxConns, 10))
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	return database, nil
}

func dialectorFor(backend config.DatabaseBackend, dsn string) (gorm.Dialector, error) {
	switch backend {
	case config.DatabasePostgres:
		return postgres.Open(dsn), nil
	case config.DatabaseMySQL:
		return mysql.Open(dsn), nil
	case config.DatabaseSQLite:
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unknown database backend: %s", backend)
}

// Close releases the underlying pool.
func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
