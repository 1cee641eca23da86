/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/inkwell/internal/events"
	"github.com/friendsincode/inkwell/internal/models"
)

// actions maps bus events to the audit action they record.
var actions = map[events.EventType]models.AuditAction{
	events.EventPolicyCreated:     models.AuditActionPolicyCreate,
	events.EventPolicyUpdated:     models.AuditActionPolicyUpdate,
	events.EventPolicyDeactivated: models.AuditActionPolicyDeactivate,
	events.EventEntryScheduled:    models.AuditActionEntrySchedule,
	events.EventEntryRescheduled:  models.AuditActionEntryReschedule,
	events.EventEntryCancelled:    models.AuditActionEntryCancel,
	events.EventEntryPublished:    models.AuditActionEntryPublish,
	events.EventEntryFailed:       models.AuditActionEntryFail,
	events.EventPassCompleted:     models.AuditActionPassComplete,
}

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	now    func() time.Time
	logger zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		now:    time.Now,
		logger: logger.With().Str("component", "audit").Logger(),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once Start has subscribed to the bus.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Start records every scheduler event until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	sub := s.bus.Subscribe(events.EventAll)
	defer s.bus.Unsubscribe(events.EventAll, sub)
	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.drain(sub)
			s.logger.Info().Msg("audit service stopping")
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			s.Record(context.WithoutCancel(ctx), payload)
		}
	}
}

// drain records events already buffered when the service stops.
func (s *Service) drain(sub events.Subscriber) {
	ctx := context.Background()
	for {
		select {
		case payload, ok := <-sub:
			if !ok {
				return
			}
			s.Record(ctx, payload)
		default:
			return
		}
	}
}

// Record writes one audit row for a wildcard event payload. Payloads of
// unknown event types are ignored.
func (s *Service) Record(ctx context.Context, payload events.Payload) {
	eventType, _ := payload["event"].(string)
	action, ok := actions[events.EventType(eventType)]
	if !ok {
		return
	}

	now := s.now().UTC()
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Timestamp: now,
		Action:    action,
		Details:   make(map[string]any),
		CreatedAt: now,
	}

	if actor, ok := payload["actor"].(string); ok {
		entry.Actor = actor
	}
	if resourceType, ok := payload["resource_type"].(string); ok {
		entry.ResourceType = resourceType
	}
	if resourceID, ok := payload["resource_id"].(string); ok {
		entry.ResourceID = resourceID
	}

	for k, v := range payload {
		switch k {
		case "event", "actor", "resource_type", "resource_id":
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly.
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.Timestamp
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	Actor        *string
	Action       *models.AuditAction
	ResourceType *string
	ResourceID   *string
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}

// Query retrieves audit logs with filters, most recent first.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.Actor != nil {
		query = query.Where("actor = ?", *filters.Actor)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.ResourceType != nil {
		query = query.Where("resource_type = ?", *filters.ResourceType)
	}
	if filters.ResourceID != nil {
		query = query.Where("resource_id = ?", *filters.ResourceID)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", filters.StartTime.UTC())
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", filters.EndTime.UTC())
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Order("id").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
