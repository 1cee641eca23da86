/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// EntryStatus tracks a queue entry through its lifecycle.
type EntryStatus string

const (
	EntryQueued    EntryStatus = "queued"
	EntryScheduled EntryStatus = "scheduled"
	EntryPublished EntryStatus = "published"
	EntryFailed    EntryStatus = "failed"
	EntryCancelled EntryStatus = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s EntryStatus) Terminal() bool {
	switch s {
	case EntryPublished, EntryFailed, EntryCancelled:
		return true
	}
	return false
}

// Pending reports whether s is a source state for reschedule and cancel.
func (s EntryStatus) Pending() bool {
	return s == EntryQueued || s == EntryScheduled
}

// Valid reports whether s is a known status.
func (s EntryStatus) Valid() bool {
	return s.Pending() || s.Terminal()
}

// QueueEntry binds one article to one schedule policy.
// PublishedAt is set only when Status is published; FailureReason only when failed.
type QueueEntry struct {
	ID            string      `gorm:"type:uuid;primaryKey" json:"id"`
	ArticleID     string      `gorm:"type:uuid;uniqueIndex;not null" json:"article_id"`
	PolicyID      string      `gorm:"type:uuid;index:idx_queue_entries_policy_status;not null" json:"policy_id"`
	Status        EntryStatus `gorm:"type:varchar(16);index:idx_queue_entries_policy_status;index:idx_queue_entries_status_target;not null" json:"status"`
	TargetTime    *time.Time  `gorm:"index:idx_queue_entries_status_target" json:"target_time,omitempty"`
	Priority      int         `gorm:"not null;default:0" json:"priority"`
	PublishedAt   *time.Time  `gorm:"index" json:"published_at,omitempty"`
	FailureReason *string     `gorm:"type:text" json:"failure_reason,omitempty"`

	// Relationships
	Policy *SchedulePolicy `gorm:"foreignKey:PolicyID" json:"policy,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (QueueEntry) TableName() string {
	return "queue_entries"
}
