/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for scheduler operations.
const (
	AuditActionPolicyCreate     AuditAction = "policy.create"
	AuditActionPolicyUpdate     AuditAction = "policy.update"
	AuditActionPolicyDeactivate AuditAction = "policy.deactivate"
	AuditActionEntrySchedule    AuditAction = "entry.schedule"
	AuditActionEntryReschedule  AuditAction = "entry.reschedule"
	AuditActionEntryCancel      AuditAction = "entry.cancel"
	AuditActionEntryPublish     AuditAction = "entry.publish"
	AuditActionEntryFail        AuditAction = "entry.fail"
	AuditActionPassComplete     AuditAction = "pass.complete"
)

// AuditLog records operator and processor actions.
type AuditLog struct {
	ID           string         `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp    time.Time      `gorm:"index:idx_audit_timestamp;not null" json:"timestamp"`
	Actor        string         `gorm:"type:varchar(255)" json:"actor,omitempty"` // empty for system actions
	Action       AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null" json:"action"`
	ResourceType string         `gorm:"type:varchar(64)" json:"resource_type"` // "policy", "entry", "pass"
	ResourceID   string         `gorm:"type:varchar(64);index" json:"resource_id"`
	Details      map[string]any `gorm:"type:jsonb;serializer:json" json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
