/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package publishing owns queue entries: it binds articles to schedule
// policies, computes target times and handles operator reschedules and
// cancellations. Promotion to published belongs to the scheduler package.
package publishing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/inkwell/internal/events"
	"github.com/friendsincode/inkwell/internal/models"
	"github.com/friendsincode/inkwell/internal/window"
)

// Service creates and manages queue entries and their policies.
type Service struct {
	db       *gorm.DB
	articles ArticleResolver
	bus      *events.Bus
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

// ScheduleOptions tunes a single Schedule call.
type ScheduleOptions struct {
	// RequestedTime pins the target time; values in the past are raised to now.
	RequestedTime *time.Time
	// Priority overrides the policy priority for this entry.
	Priority *int
}

// EntryFilter narrows ListEntries.
type EntryFilter struct {
	Status   models.EntryStatus
	PolicyID string
	Limit    int
	Offset   int
}

// NewService creates a scheduling service. Time-of-day rules are evaluated in loc.
func NewService(db *gorm.DB, articles ArticleResolver, bus *events.Bus, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		db:       db,
		articles: articles,
		bus:      bus,
		loc:      loc,
		now:      time.Now,
		logger:   logger.With().Str("component", "publishing").Logger(),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Location returns the scheduling location.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Schedule binds article to policy and computes its target time. The entry
// is created queued, moved to scheduled, and the article lifecycle is set to
// scheduled; if the article refuses the transition the entry is removed.
func (s *Service) Schedule(ctx context.Context, article Article, policy *models.SchedulePolicy, opts ScheduleOptions) (*models.QueueEntry, error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: policy is required", ErrInvalidPolicy)
	}
	if err := ValidatePolicy(*policy); err != nil {
		return nil, err
	}
	if !policy.Active {
		return nil, fmt.Errorf("%w: policy %s is inactive", ErrInvalidPolicy, policy.Name)
	}
	if article.State() == models.ArticlePublished {
		return nil, fmt.Errorf("%w: article %s is already published", ErrInvalidState, article.ArticleID())
	}

	exists, err := s.entryExistsForArticle(ctx, article.ArticleID())
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: article %s already has a queue entry", ErrInvalidState, article.ArticleID())
	}

	now := s.now().In(s.loc)
	target := window.NextAllowed(*policy, now)
	if opts.RequestedTime != nil {
		target = *opts.RequestedTime
		if target.Before(now) {
			target = now
		}
	}

	priority := policy.Priority
	if opts.Priority != nil {
		priority = *opts.Priority
	}

	entry := &models.QueueEntry{
		ID:        uuid.NewString(),
		ArticleID: article.ArticleID(),
		PolicyID:  policy.ID,
		Status:    models.EntryQueued,
		Priority:  priority,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		// Lost a race on the article's unique index.
		if exists, checkErr := s.entryExistsForArticle(ctx, article.ArticleID()); checkErr == nil && exists {
			return nil, fmt.Errorf("%w: article %s already has a queue entry", ErrInvalidState, article.ArticleID())
		}
		return nil, fmt.Errorf("create queue entry: %w", err)
	}

	targetUTC := target.UTC()
	result := s.db.WithContext(ctx).Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", entry.ID, models.EntryQueued).
		Updates(map[string]any{"status": models.EntryScheduled, "target_time": targetUTC})
	if result.Error != nil {
		s.discardEntry(ctx, entry.ID)
		return nil, fmt.Errorf("schedule queue entry: %w", result.Error)
	}
	entry.Status = models.EntryScheduled
	entry.TargetTime = &targetUTC

	if err := article.SetState(ctx, models.ArticleScheduled); err != nil {
		s.discardEntry(ctx, entry.ID)
		return nil, fmt.Errorf("set article %s scheduled: %w", article.ArticleID(), err)
	}

	s.logger.Info().
		Str("entry_id", entry.ID).
		Str("article_id", entry.ArticleID).
		Str("policy", policy.Name).
		Time("target_time", targetUTC).
		Msg("article scheduled")

	s.emit(ctx, events.EventEntryScheduled, entryPayload(entry))
	return entry, nil
}

// ScheduleByID resolves the article and policy before calling Schedule.
func (s *Service) ScheduleByID(ctx context.Context, articleID, policyID string, opts ScheduleOptions) (*models.QueueEntry, error) {
	policy, err := s.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	article, err := s.articles.Article(ctx, articleID)
	if err != nil {
		return nil, err
	}
	return s.Schedule(ctx, article, policy, opts)
}

// Reschedule moves a pending entry to newTime, which must be in the future.
func (s *Service) Reschedule(ctx context.Context, entryID string, newTime time.Time) (*models.QueueEntry, error) {
	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !entry.Status.Pending() {
		return nil, fmt.Errorf("%w: cannot reschedule %s entry", ErrInvalidState, entry.Status)
	}
	if !newTime.After(s.now()) {
		return nil, fmt.Errorf("%w: %s is not in the future", ErrInvalidTime, newTime.Format(time.RFC3339))
	}

	target := newTime.UTC()
	result := s.db.WithContext(ctx).Model(&models.QueueEntry{}).
		Where("id = ? AND status IN ?", entryID, pendingStatuses).
		Updates(map[string]any{"status": models.EntryScheduled, "target_time": target})
	if result.Error != nil {
		return nil, fmt.Errorf("reschedule entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: entry %s left pending state", ErrInvalidState, entryID)
	}

	entry.Status = models.EntryScheduled
	entry.TargetTime = &target

	s.logger.Info().Str("entry_id", entryID).Time("target_time", target).Msg("entry rescheduled")
	s.emit(ctx, events.EventEntryRescheduled, entryPayload(entry))
	return entry, nil
}

// Cancel marks a pending entry cancelled. The article lifecycle is left for
// the caller to handle.
func (s *Service) Cancel(ctx context.Context, entryID string) (*models.QueueEntry, error) {
	result := s.db.WithContext(ctx).Model(&models.QueueEntry{}).
		Where("id = ? AND status IN ?", entryID, pendingStatuses).
		Update("status", models.EntryCancelled)
	if result.Error != nil {
		return nil, fmt.Errorf("cancel entry: %w", result.Error)
	}

	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: cannot cancel %s entry", ErrInvalidState, entry.Status)
	}

	s.logger.Info().Str("entry_id", entryID).Msg("entry cancelled")
	s.emit(ctx, events.EventEntryCancelled, entryPayload(entry))
	return entry, nil
}

// GetEntry loads a queue entry by ID.
func (s *Service) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}
	return &entry, nil
}

// ListEntries returns entries ordered by target time.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]models.QueueEntry, error) {
	query := s.db.WithContext(ctx).Model(&models.QueueEntry{})
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidState, filter.Status)
		}
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PolicyID != "" {
		query = query.Where("policy_id = ?", filter.PolicyID)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query = query.Limit(limit)
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var entries []models.QueueEntry
	if err := query.Order("target_time ASC").Order("id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

var pendingStatuses = []models.EntryStatus{models.EntryQueued, models.EntryScheduled}

func (s *Service) entryExistsForArticle(ctx context.Context, articleID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.QueueEntry{}).Where("article_id = ?", articleID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check existing entry: %w", err)
	}
	return count > 0, nil
}

func (s *Service) discardEntry(ctx context.Context, id string) {
	if err := s.db.WithContext(ctx).Delete(&models.QueueEntry{}, "id = ?", id).Error; err != nil {
		s.logger.Error().Err(err).Str("entry_id", id).Msg("failed to remove half-created entry")
	}
}

func (s *Service) emit(ctx context.Context, eventType events.EventType, payload events.Payload) {
	if s.bus == nil {
		return
	}
	payload["actor"] = ActorFrom(ctx)
	s.bus.Publish(eventType, payload)
}

func entryPayload(e *models.QueueEntry) events.Payload {
	payload := events.Payload{
		"resource_type": "entry",
		"resource_id":   e.ID,
		"entry_id":      e.ID,
		"article_id":    e.ArticleID,
		"policy_id":     e.PolicyID,
		"status":        string(e.Status),
		"priority":      e.Priority,
	}
	if e.TargetTime != nil {
		payload["target_time"] = e.TargetTime.UTC().Format(time.RFC3339)
	}
	return payload
}
