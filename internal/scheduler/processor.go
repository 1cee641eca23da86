/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs batch passes: it promotes due queue entries to
// published while honouring blackout windows, daily caps and priorities.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/friendsincode/inkwell/internal/events"
	"github.com/friendsincode/inkwell/internal/models"
	"github.com/friendsincode/inkwell/internal/publishing"
	"github.com/friendsincode/inkwell/internal/runlock"
	"github.com/friendsincode/inkwell/internal/telemetry"
	"github.com/friendsincode/inkwell/internal/window"
)

// ErrPassInProgress is returned when another pass holds the run lock.
var ErrPassInProgress = errors.New("batch pass already in progress")

const (
	passLockName   = "batch-pass"
	defaultLockTTL = 10 * time.Minute
	processorActor = "scheduler"
)

// Outcome is what a pass did with one candidate.
type Outcome string

const (
	OutcomePublished       Outcome = "published"
	OutcomeFailed          Outcome = "failed"
	OutcomeSkippedBlackout Outcome = "skipped_blackout"
	OutcomeSkippedCap      Outcome = "skipped_cap"
	OutcomeSkippedInactive Outcome = "skipped_inactive"
	// OutcomeSuperseded means the entry left scheduled (e.g. was cancelled)
	// while the pass was publishing it; its row was not overwritten.
	OutcomeSuperseded Outcome = "superseded"
)

// Result records what happened to one entry.
type Result struct {
	EntryID  string  `json:"entry_id"`
	PolicyID string  `json:"policy_id"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason,omitempty"`
}

// Summary describes one pass.
type Summary struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
	Candidates      int           `json:"candidates"`
	Published       int           `json:"published"`
	Failed          int           `json:"failed"`
	SkippedBlackout int           `json:"skipped_blackout"`
	SkippedCap      int           `json:"skipped_cap"`
	SkippedInactive int           `json:"skipped_inactive"`
	Results         []Result      `json:"results"`
}

func (s *Summary) add(entry models.QueueEntry, outcome Outcome, reason string) {
	switch outcome {
	case OutcomePublished:
		s.Published++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkippedBlackout:
		s.SkippedBlackout++
	case OutcomeSkippedCap:
		s.SkippedCap++
	case OutcomeSkippedInactive:
		s.SkippedInactive++
	}
	s.Results = append(s.Results, Result{EntryID: entry.ID, PolicyID: entry.PolicyID, Outcome: outcome, Reason: reason})
	telemetry.SchedulerEntriesTotal.WithLabelValues(string(outcome)).Inc()
}

// Processor is the run-once batch entrypoint.
type Processor struct {
	db       *gorm.DB
	articles publishing.ArticleResolver
	locker   runlock.Locker
	lockTTL  time.Duration
	bus      *events.Bus
	loc      *time.Location
	logger   zerolog.Logger
}

// NewProcessor creates a batch processor. Time-of-day and calendar-day rules
// are evaluated in loc.
func NewProcessor(db *gorm.DB, articles publishing.ArticleResolver, locker runlock.Locker, bus *events.Bus, loc *time.Location, logger zerolog.Logger) *Processor {
	if loc == nil {
		loc = time.UTC
	}
	if locker == nil {
		locker = runlock.NewLocal()
	}
	return &Processor{
		db:       db,
		articles: articles,
		locker:   locker,
		lockTTL:  defaultLockTTL,
		bus:      bus,
		loc:      loc,
		logger:   logger.With().Str("component", "batch_processor").Logger(),
	}
}

// SetLockTTL overrides how long a pass may hold the run lock.
func (p *Processor) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		p.lockTTL = ttl
	}
}

// RunOnce executes one pass over every due scheduled entry. Publish failures
// are recorded on their entries and never returned.
func (p *Processor) RunOnce(ctx context.Context, now time.Time) (Summary, error) {
	return p.run(ctx, now, "")
}

// PromoteEntry runs a pass restricted to one entry. The entry is promoted only
// if a full pass would promote it now.
func (p *Processor) PromoteEntry(ctx context.Context, entryID string, now time.Time) (Summary, error) {
	var entry models.QueueEntry
	err := p.db.WithContext(ctx).First(&entry, "id = ?", entryID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Summary{}, fmt.Errorf("entry %s: %w", entryID, publishing.ErrNotFound)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("load entry: %w", err)
	}
	if entry.Status != models.EntryScheduled {
		return Summary{}, fmt.Errorf("%w: cannot promote %s entry", publishing.ErrInvalidState, entry.Status)
	}
	return p.run(ctx, now, entryID)
}

func (p *Processor) run(ctx context.Context, now time.Time, entryID string) (Summary, error) {
	lease, err := p.locker.Acquire(ctx, passLockName, p.lockTTL)
	if errors.Is(err, runlock.ErrHeld) {
		telemetry.SchedulerPassesTotal.WithLabelValues("contended").Inc()
		p.logger.Info().Msg("skipping pass, run lock held elsewhere")
		return Summary{}, ErrPassInProgress
	}
	if err != nil {
		telemetry.SchedulerPassesTotal.WithLabelValues("error").Inc()
		telemetry.SchedulerErrorsTotal.WithLabelValues("run_lock").Inc()
		return Summary{}, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn().Err(err).Msg("failed to release run lock")
		}
	}()

	var spanAttrs []attribute.KeyValue
	if entryID != "" {
		spanAttrs = append(spanAttrs, telemetry.AttrEntryID.String(entryID))
	}
	ctx, span := telemetry.StartSpan(ctx, "scheduler.batch_pass", spanAttrs...)
	defer span.End()

	started := time.Now()
	summary, err := p.pass(ctx, now, entryID)
	summary.Duration = time.Since(started)

	telemetry.SchedulerPassDuration.Observe(summary.Duration.Seconds())
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.SchedulerPassesTotal.WithLabelValues("error").Inc()
		telemetry.SchedulerErrorsTotal.WithLabelValues("pass").Inc()
		return summary, err
	}

	telemetry.SchedulerPassesTotal.WithLabelValues("completed").Inc()
	telemetry.SchedulerLastPassTimestamp.Set(float64(now.Unix()))
	telemetry.SetCounts(span, map[string]int{
		"candidates": summary.Candidates,
		"published":  summary.Published,
		"failed":     summary.Failed,
	})

	p.logger.Info().
		Int("candidates", summary.Candidates).
		Int("published", summary.Published).
		Int("failed", summary.Failed).
		Int("skipped_blackout", summary.SkippedBlackout).
		Int("skipped_cap", summary.SkippedCap).
		Int("skipped_inactive", summary.SkippedInactive).
		Dur("duration", summary.Duration).
		Msg("batch pass complete")

	p.emit(events.EventPassCompleted, events.Payload{
		"resource_type":    "pass",
		"resource_id":      now.UTC().Format(time.RFC3339),
		"candidates":       summary.Candidates,
		"published":        summary.Published,
		"failed":           summary.Failed,
		"skipped_blackout": summary.SkippedBlackout,
		"skipped_cap":      summary.SkippedCap,
		"skipped_inactive": summary.SkippedInactive,
	})

	return summary, nil
}

func (p *Processor) pass(ctx context.Context, now time.Time, entryID string) (Summary, error) {
	local := now.In(p.loc)
	summary := Summary{StartedAt: now, Results: []Result{}}

	candidates, err := p.loadCandidates(ctx, now, entryID)
	if err != nil {
		return summary, err
	}
	summary.Candidates = len(candidates)
	if len(candidates) == 0 {
		return summary, nil
	}

	// Per-policy gates. Candidates that fail one stay scheduled.
	var eligible []models.QueueEntry
	for _, group := range groupByPolicy(candidates) {
		policy := group[0].Policy
		switch {
		case policy == nil || !policy.Active:
			for _, e := range group {
				summary.add(e, OutcomeSkippedInactive, "")
			}
			continue
		case !window.IsAllowed(*policy, local):
			for _, e := range group {
				summary.add(e, OutcomeSkippedBlackout, "")
			}
			continue
		}

		if policy.HasDailyCap() {
			count, err := p.publishedToday(ctx, policy.ID, local)
			if err != nil {
				return summary, err
			}
			if count >= int64(*policy.DailyCap) {
				for _, e := range group {
					summary.add(e, OutcomeSkippedCap, "")
				}
				continue
			}
		}
		eligible = append(eligible, group...)
	}

	sortForPromotion(eligible)

	for _, entry := range eligible {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		policy := entry.Policy
		if policy.HasDailyCap() {
			// Recount before every capped publish so the cap holds even if
			// another runner slipped past the lock.
			count, err := p.publishedToday(ctx, policy.ID, local)
			if err != nil {
				return summary, err
			}
			if count >= int64(*policy.DailyCap) {
				summary.add(entry, OutcomeSkippedCap, "")
				continue
			}
		}

		promoteCtx, span := telemetry.StartSpan(ctx, "scheduler.promote",
			telemetry.AttrEntryID.String(entry.ID), telemetry.AttrPolicyID.String(entry.PolicyID))
		outcome, reason, err := p.promote(promoteCtx, entry, now)
		span.SetAttributes(telemetry.AttrOutcome.String(string(outcome)))
		telemetry.RecordError(span, err)
		span.End()
		if err != nil {
			return summary, err
		}
		summary.add(entry, outcome, reason)
	}

	return summary, nil
}

func (p *Processor) loadCandidates(ctx context.Context, now time.Time, entryID string) ([]models.QueueEntry, error) {
	query := p.db.WithContext(ctx).
		Preload("Policy").
		Where("status = ? AND target_time IS NOT NULL AND target_time <= ?", models.EntryScheduled, now.UTC())
	if entryID != "" {
		query = query.Where("id = ?", entryID)
	}

	var entries []models.QueueEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	return entries, nil
}

// publishedToday counts entries of the policy published during the local
// calendar day containing local.
func (p *Processor) publishedToday(ctx context.Context, policyID string, local time.Time) (int64, error) {
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var count int64
	err := p.db.WithContext(ctx).Model(&models.QueueEntry{}).
		Where("policy_id = ? AND status = ? AND published_at >= ? AND published_at < ?",
			policyID, models.EntryPublished, dayStart.UTC(), dayEnd.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count published entries: %w", err)
	}
	return count, nil
}

// promote publishes one entry and writes the outcome. The returned error is
// reserved for store failures that should stop the pass.
func (p *Processor) promote(ctx context.Context, entry models.QueueEntry, now time.Time) (Outcome, string, error) {
	log := p.logger.With().Str("entry_id", entry.ID).Str("article_id", entry.ArticleID).Logger()

	publishErr := p.publishArticle(ctx, entry.ArticleID)
	// A cancelled context surfaces as a publish error; leave the entry
	// scheduled for the next pass instead of failing it.
	if publishErr != nil && ctx.Err() != nil {
		return "", "", ctx.Err()
	}

	updates := map[string]any{"status": models.EntryPublished, "published_at": now.UTC(), "failure_reason": nil}
	outcome, reason := OutcomePublished, ""
	if publishErr != nil {
		reason = publishErr.Error()
		if reason == "" {
			reason = "publish failed"
		}
		updates = map[string]any{"status": models.EntryFailed, "failure_reason": reason, "published_at": nil}
		outcome = OutcomeFailed
	}

	result := p.db.WithContext(ctx).Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", entry.ID, models.EntryScheduled).
		Updates(updates)
	if result.Error != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues("write_outcome").Inc()
		return "", "", fmt.Errorf("record outcome for entry %s: %w", entry.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		log.Warn().Msg("entry left scheduled state during pass, outcome not recorded")
		return OutcomeSuperseded, reason, nil
	}

	payload := events.Payload{
		"resource_type": "entry",
		"resource_id":   entry.ID,
		"entry_id":      entry.ID,
		"article_id":    entry.ArticleID,
		"policy_id":     entry.PolicyID,
		"status":        string(outcome),
	}
	if outcome == OutcomePublished {
		payload["published_at"] = now.UTC().Format(time.RFC3339)
		log.Info().Msg("article published")
		p.emit(events.EventEntryPublished, payload)
	} else {
		payload["failure_reason"] = reason
		log.Warn().Str("reason", reason).Msg("article publish failed")
		p.emit(events.EventEntryFailed, payload)
	}
	return outcome, reason, nil
}

// publishArticle resolves and publishes the article, converting panics into errors.
func (p *Processor) publishArticle(ctx context.Context, articleID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish panicked: %v", r)
		}
	}()

	article, err := p.articles.Article(ctx, articleID)
	if err != nil {
		return fmt.Errorf("resolve article: %w", err)
	}
	return article.Publish(ctx)
}

func (p *Processor) emit(eventType events.EventType, payload events.Payload) {
	if p.bus == nil {
		return
	}
	payload["actor"] = processorActor
	p.bus.Publish(eventType, payload)
}

// groupByPolicy buckets entries by policy, in order of first appearance.
func groupByPolicy(entries []models.QueueEntry) [][]models.QueueEntry {
	index := make(map[string]int)
	var groups [][]models.QueueEntry
	for _, e := range entries {
		i, ok := index[e.PolicyID]
		if !ok {
			i = len(groups)
			index[e.PolicyID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}
	return groups
}

// sortForPromotion orders by priority desc, target time asc, then ID.
func sortForPromotion(entries []models.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.TargetTime.Equal(*b.TargetTime) {
			return a.TargetTime.Before(*b.TargetTime)
		}
		return a.ID < b.ID
	})
}
