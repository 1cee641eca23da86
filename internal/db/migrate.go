/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/inkwell/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Scheduling
		&models.SchedulePolicy{},
		&models.QueueEntry{},
		&models.RunLock{},

		// Article store
		&models.Article{},

		// Supporting services
		&models.AuditLog{},
		&models.WebhookTarget{},
		&models.WebhookLog{},
	); err != nil {
		return err
	}

	if err := normalizeLegacyCadences(database); err != nil {
		return err
	}
	if err := applyPostgresEntryOutcomeGuard(database); err != nil {
		return err
	}

	return nil
}

// normalizeLegacyCadences lowercases cadence values written by hand or by
// older seed files.
func normalizeLegacyCadences(database *gorm.DB) error {
	if err := database.Exec("UPDATE schedule_policies SET cadence = LOWER(TRIM(cadence)) WHERE cadence <> LOWER(TRIM(cadence))").Error; err != nil {
		return fmt.Errorf("normalize policy cadences: %w", err)
	}
	return nil
}

// applyPostgresEntryOutcomeGuard adds CHECK constraints tying published_at to
// the published status and failure_reason to the failed status.
func applyPostgresEntryOutcomeGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_queue_entries_published_at') THEN
    ALTER TABLE queue_entries ADD CONSTRAINT chk_queue_entries_published_at
      CHECK ((published_at IS NOT NULL) = (status = 'published'));
  END IF;
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_queue_entries_failure_reason') THEN
    ALTER TABLE queue_entries ADD CONSTRAINT chk_queue_entries_failure_reason
      CHECK ((failure_reason IS NOT NULL) = (status = 'failed'));
  END IF;
END;
$$;
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres entry outcome guard: %w", err)
	}

	return nil
}
