/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// RunLock is a single-row lease that keeps batch passes from overlapping.
type RunLock struct {
	Name       string    `gorm:"type:varchar(100);primaryKey"`
	Owner      string    `gorm:"type:varchar(100);not null"`
	AcquiredAt time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"index;not null"`
}

// TableName returns the table name for GORM.
func (RunLock) TableName() string {
	return "run_locks"
}
