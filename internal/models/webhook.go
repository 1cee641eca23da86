/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WebhookEventType names a publish outcome a target can subscribe to.
type WebhookEventType string

const (
	WebhookEventEntryPublished WebhookEventType = "entry.published"
	WebhookEventEntryFailed    WebhookEventType = "entry.failed"
)

// WebhookEvents lists every subscribable outcome.
var WebhookEvents = []WebhookEventType{WebhookEventEntryPublished, WebhookEventEntryFailed}

// Valid reports whether e is a subscribable outcome.
func (e WebhookEventType) Valid() bool {
	return e == WebhookEventEntryPublished || e == WebhookEventEntryFailed
}

// WebhookTarget is an endpoint notified of publish outcomes. Deliveries are
// signed with Secret, which is only returned once at creation.
type WebhookTarget struct {
	ID     string `gorm:"type:uuid;primaryKey" json:"id"`
	URL    string `gorm:"type:varchar(512);not null" json:"url"`
	Events string `gorm:"type:varchar(255);not null" json:"events"` // comma-separated WebhookEventType values
	Secret string `gorm:"type:varchar(64);not null" json:"-"`
	Active bool   `gorm:"not null" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WebhookTarget) TableName() string {
	return "webhook_targets"
}

// NewWebhookTarget builds an active target subscribed to events with a fresh
// random secret.
func NewWebhookTarget(url string, events []WebhookEventType) *WebhookTarget {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = string(e)
	}
	return &WebhookTarget{
		ID:     uuid.NewString(),
		URL:    url,
		Events: strings.Join(names, ","),
		Secret: strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", ""),
		Active: true,
	}
}

// Subscribed reports whether the target wants deliveries for event.
func (t WebhookTarget) Subscribed(event WebhookEventType) bool {
	for _, e := range strings.Split(t.Events, ",") {
		if WebhookEventType(strings.TrimSpace(e)) == event {
			return true
		}
	}
	return false
}

// WebhookLog records one delivery attempt. Response is truncated.
type WebhookLog struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID   string    `gorm:"type:uuid;index;not null" json:"target_id"`
	Event      string    `gorm:"type:varchar(64);not null" json:"event"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	StatusCode int       `json:"status_code"`
	Response   string    `gorm:"type:text" json:"response,omitempty"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Duration   int       `json:"duration_ms"` // Response time in milliseconds
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (WebhookLog) TableName() string {
	return "webhook_logs"
}
