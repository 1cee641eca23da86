/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/inkwell/internal/events"
	"github.com/friendsincode/inkwell/internal/models"
	"github.com/friendsincode/inkwell/internal/publishing"
	"github.com/friendsincode/inkwell/internal/runlock"
)

type stubArticle struct {
	id        string
	state     models.ArticleState
	publish   func(ctx context.Context) error
	published int
}

func (a *stubArticle) ArticleID() string          { return a.id }
func (a *stubArticle) State() models.ArticleState { return a.state }
func (a *stubArticle) Publish(ctx context.Context) error {
	if a.publish != nil {
		if err := a.publish(ctx); err != nil {
			return err
		}
	}
	a.published++
	a.state = models.ArticlePublished
	return nil
}
func (a *stubArticle) SetState(_ context.Context, state models.ArticleState) error {
	a.state = state
	return nil
}

type stubResolver map[string]*stubArticle

func (r stubResolver) Article(_ context.Context, id string) (publishing.Article, error) {
	if a, ok := r[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("article %s: %w", id, publishing.ErrNotFound)
}

type fixture struct {
	db        *gorm.DB
	articles  stubResolver
	locker    *runlock.Local
	bus       *events.Bus
	processor *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.SchedulePolicy{}, &models.QueueEntry{}, &models.Article{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{
		db:       db,
		articles: stubResolver{},
		locker:   runlock.NewLocal(),
		bus:      events.NewBus(),
	}
	f.processor = NewProcessor(db, f.articles, f.locker, f.bus, time.UTC, zerolog.Nop())
	return f
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

func (f *fixture) policy(t *testing.T, name string, mutate func(*models.SchedulePolicy)) *models.SchedulePolicy {
	t.Helper()
	p := &models.SchedulePolicy{
		ID:      uuid.NewString(),
		Name:    name,
		Active:  true,
		Cadence: models.CadenceInstant,
	}
	if mutate != nil {
		mutate(p)
	}
	if err := f.db.Create(p).Error; err != nil {
		t.Fatalf("create policy: %v", err)
	}
	return p
}

func (f *fixture) entry(t *testing.T, policy *models.SchedulePolicy, priority int, target time.Time) *models.QueueEntry {
	t.Helper()
	articleID := uuid.NewString()
	f.articles[articleID] = &stubArticle{id: articleID, state: models.ArticleScheduled}

	target = target.UTC()
	e := &models.QueueEntry{
		ID:         uuid.NewString(),
		ArticleID:  articleID,
		PolicyID:   policy.ID,
		Status:     models.EntryScheduled,
		TargetTime: &target,
		Priority:   priority,
	}
	if err := f.db.Create(e).Error; err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return e
}

func (f *fixture) reload(t *testing.T, id string) models.QueueEntry {
	t.Helper()
	var e models.QueueEntry
	if err := f.db.First(&e, "id = ?", id).Error; err != nil {
		t.Fatalf("reload entry: %v", err)
	}
	return e
}

func (f *fixture) countStatus(t *testing.T, status models.EntryStatus) int64 {
	t.Helper()
	var n int64
	f.db.Model(&models.QueueEntry{}).Where("status = ?", status).Count(&n)
	return n
}

var noon = time.Date(2026, 4, 7, 12, 0, 0, 0, time.UTC)

func TestRunOnceEnforcesDailyCap(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "capped", func(p *models.SchedulePolicy) { p.DailyCap = intPtr(2) })
	for i := 0; i < 5; i++ {
		f.entry(t, policy, 0, noon.Add(-time.Duration(i+1)*time.Minute))
	}

	summary, err := f.processor.RunOnce(context.Background(), noon)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	if summary.Candidates != 5 || summary.Published != 2 || summary.SkippedCap != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := f.countStatus(t, models.EntryPublished); got != 2 {
		t.Fatalf("expected 2 published, got %d", got)
	}
	if got := f.countStatus(t, models.EntryScheduled); got != 3 {
		t.Fatalf("expected 3 still scheduled, got %d", got)
	}

	// A second pass the same day publishes nothing more.
	summary, err = f.processor.RunOnce(context.Background(), noon.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Published != 0 || summary.SkippedCap != 3 {
		t.Fatalf("unexpected second summary: %+v", summary)
	}

	// The next calendar day resets the budget.
	summary, err = f.processor.RunOnce(context.Background(), noon.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("next day run: %v", err)
	}
	if summary.Published != 2 || summary.SkippedCap != 1 {
		t.Fatalf("unexpected next-day summary: %+v", summary)
	}
}

func TestRunOncePriorityOrdering(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "single", func(p *models.SchedulePolicy) { p.DailyCap = intPtr(1) })
	target := noon.Add(-time.Hour)
	low := f.entry(t, policy, 5, target)
	high := f.entry(t, policy, 10, target)

	if _, err := f.processor.RunOnce(context.Background(), noon); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if got := f.reload(t, high.ID); got.Status != models.EntryPublished {
		t.Fatalf("expected priority-10 entry published, got %s", got.Status)
	}
	if got := f.reload(t, low.ID); got.Status != models.EntryScheduled {
		t.Fatalf("expected priority-5 entry still scheduled, got %s", got.Status)
	}
}

func TestRunOnceEarlierTargetBreaksTies(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "single", func(p *models.SchedulePolicy) { p.DailyCap = intPtr(1) })
	later := f.entry(t, policy, 3, noon.Add(-time.Minute))
	earlier := f.entry(t, policy, 3, noon.Add(-time.Hour))

	if _, err := f.processor.RunOnce(context.Background(), noon); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := f.reload(t, earlier.ID); got.Status != models.EntryPublished {
		t.Fatalf("expected earlier entry published, got %s", got.Status)
	}
	if got := f.reload(t, later.ID); got.Status != models.EntryScheduled {
		t.Fatalf("expected later entry scheduled, got %s", got.Status)
	}
}

func TestRunOnceFailureIsolation(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "lane", nil)
	a := f.entry(t, policy, 10, noon.Add(-time.Hour))
	b := f.entry(t, policy, 5, noon.Add(-time.Hour))
	f.articles[a.ArticleID].publish = func(context.Context) error { return errors.New("renderer unavailable") }

	failed := f.bus.Subscribe(events.EventEntryFailed)

	summary, err := f.processor.RunOnce(context.Background(), noon)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Published != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	gotA := f.reload(t, a.ID)
	if gotA.Status != models.EntryFailed || gotA.FailureReason == nil || *gotA.FailureReason != "renderer unavailable" {
		t.Fatalf("expected A failed with reason, got %+v", gotA)
	}
	if gotA.PublishedAt != nil {
		t.Fatal("failed entry must not carry published_at")
	}

	gotB := f.reload(t, b.ID)
	if gotB.Status != models.EntryPublished || gotB.PublishedAt == nil || !gotB.PublishedAt.Equal(noon) {
		t.Fatalf("expected B published at %s, got %+v", noon, gotB)
	}
	if gotB.FailureReason != nil {
		t.Fatal("published entry must not carry failure_reason")
	}

	select {
	case p := <-failed:
		if p["entry_id"] != a.ID || p["failure_reason"] != "renderer unavailable" {
			t.Fatalf("unexpected failure event %v", p)
		}
	default:
		t.Fatal("expected entry.failed event")
	}
}

func TestRunOnceRecoversPublishPanic(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "lane", nil)
	bad := f.entry(t, policy, 10, noon.Add(-time.Hour))
	good := f.entry(t, policy, 1, noon.Add(-time.Hour))
	f.articles[bad.ArticleID].publish = func(context.Context) error { panic("nil template") }

	summary, err := f.processor.RunOnce(context.Background(), noon)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Failed != 1 || summary.Published != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := f.reload(t, bad.ID); got.Status != models.EntryFailed || got.FailureReason == nil || *got.FailureReason == "" {
		t.Fatalf("expected panicking entry failed with reason, got %+v", got)
	}
	if got := f.reload(t, good.ID); got.Status != models.EntryPublished {
		t.Fatalf("expected good entry published, got %s", got.Status)
	}
}

func TestRunOnceMissingArticleFails(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "lane", nil)
	e := f.entry(t, policy, 0, noon.Add(-time.Hour))
	delete(f.articles, e.ArticleID)

	if _, err := f.processor.RunOnce(context.Background(), noon); err != nil {
		t.Fatalf("run once: %v", err)
	}
	got := f.reload(t, e.ID)
	if got.Status != models.EntryFailed || got.FailureReason == nil {
		t.Fatalf("expected failed entry, got %+v", got)
	}
}

func TestRunOnceLeavesBlackoutAndInactiveEntries(t *testing.T) {
	f := newFixture(t)
	night := f.policy(t, "night", func(p *models.SchedulePolicy) {
		p.BlackoutStart = strPtr("22:00")
		p.BlackoutEnd = strPtr("08:00")
	})
	paused := f.policy(t, "paused", nil)
	if err := f.db.Model(paused).Update("active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	lateNight := time.Date(2026, 4, 7, 23, 0, 0, 0, time.UTC)
	blacked := f.entry(t, night, 0, lateNight.Add(-time.Hour))
	inactive := f.entry(t, paused, 0, lateNight.Add(-time.Hour))

	summary, err := f.processor.RunOnce(context.Background(), lateNight)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.SkippedBlackout != 1 || summary.SkippedInactive != 1 || summary.Published != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, id := range []string{blacked.ID, inactive.ID} {
		if got := f.reload(t, id); got.Status != models.EntryScheduled {
			t.Fatalf("expected entry %s untouched, got %s", id, got.Status)
		}
	}

	// At 08:00 the blackout lifts.
	morning := time.Date(2026, 4, 8, 8, 0, 0, 0, time.UTC)
	summary, err = f.processor.RunOnce(context.Background(), morning)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Published != 1 || summary.SkippedInactive != 1 {
		t.Fatalf("unexpected morning summary: %+v", summary)
	}
}

func TestRunOnceIgnoresFutureAndNonScheduledEntries(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "lane", nil)
	future := f.entry(t, policy, 0, noon.Add(time.Minute))
	cancelled := f.entry(t, policy, 0, noon.Add(-time.Hour))
	f.db.Model(&models.QueueEntry{}).Where("id = ?", cancelled.ID).Update("status", models.EntryCancelled)

	summary, err := f.processor.RunOnce(context.Background(), noon)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Candidates != 0 {
		t.Fatalf("expected no candidates, got %+v", summary)
	}
	if got := f.reload(t, future.ID); got.Status != models.EntryScheduled {
		t.Fatalf("future entry touched: %s", got.Status)
	}
	if got := f.reload(t, cancelled.ID); got.Status != models.EntryCancelled {
		t.Fatalf("cancelled entry touched: %s", got.Status)
	}
}

func TestRunOnceCountsEarlierPublishesTowardCap(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "capped", func(p *models.SchedulePolicy) { p.DailyCap = intPtr(1) })

	earlier := f.entry(t, policy, 0, noon.Add(-3*time.Hour))
	publishedAt := noon.Add(-2 * time.Hour)
	f.db.Model(&models.QueueEntry{}).Where("id = ?", earlier.ID).
		Updates(map[string]any{"status": models.EntryPublished, "published_at": publishedAt})

	yesterday := f.entry(t, policy, 0, noon.Add(-30*time.Hour))
	f.db.Model(&models.QueueEntry{}).Where("id = ?", yesterday.ID).
		Updates(map[string]any{"status": models.EntryPublished, "published_at": noon.Add(-26 * time.Hour)})

	waiting := f.entry(t, policy, 0, noon.Add(-time.Hour))

	summary, err := f.processor.RunOnce(context.Background(), noon)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.SkippedCap != 1 || summary.Published != 0 {
		t.Fatalf("expected cap reached by earlier publish, got %+v", summary)
	}
	if got := f.reload(t, waiting.ID); got.Status != models.EntryScheduled {
		t.Fatalf("expected waiting entry scheduled, got %s", got.Status)
	}
}

func TestRunOnceFailuresDoNotConsumeCap(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "capped", func(p *models.SchedulePolicy) { p.DailyCap = intPtr(1) })
	bad := f.entry(t, policy, 10, noon.Add(-time.Hour))
	good := f.entry(t, policy, 5, noon.Add(-time.Hour))
	f.articles[bad.ArticleID].publish = func(context.Context) error { return errors.New("boom") }

	summary, err := f.processor.RunOnce(context.Background(), noon)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Failed != 1 || summary.Published != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := f.reload(t, good.ID); got.Status != models.EntryPublished {
		t.Fatalf("expected good entry published, got %s", got.Status)
	}
}

func TestRunOnceUsesLocalCalendarDay(t *testing.T) {
	f := newFixture(t)
	loc := time.FixedZone("UTC-5", -5*60*60)
	f.processor = NewProcessor(f.db, f.articles, f.locker, f.bus, loc, zerolog.Nop())
	policy := f.policy(t, "capped", func(p *models.SchedulePolicy) { p.DailyCap = intPtr(1) })

	// Noon UTC is 07:00 local on Apr 7.
	first := f.entry(t, policy, 0, noon.Add(-time.Hour))
	if _, err := f.processor.RunOnce(context.Background(), noon); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := f.reload(t, first.ID); got.Status != models.EntryPublished {
		t.Fatalf("expected first published, got %s", got.Status)
	}

	second := f.entry(t, policy, 0, noon)
	lateLocal := time.Date(2026, 4, 8, 3, 0, 0, 0, time.UTC) // 22:00 local, still Apr 7
	summary, err := f.processor.RunOnce(context.Background(), lateLocal)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.SkippedCap != 1 {
		t.Fatalf("expected cap to hold within the local day, got %+v", summary)
	}

	nextLocalDay := time.Date(2026, 4, 8, 5, 0, 0, 0, time.UTC) // 00:00 local
	if _, err := f.processor.RunOnce(context.Background(), nextLocalDay); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := f.reload(t, second.ID); got.Status != models.EntryPublished {
		t.Fatalf("expected second published on next local day, got %s", got.Status)
	}
}

func TestRunOnceRefusesWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "lane", nil)
	e := f.entry(t, policy, 0, noon.Add(-time.Hour))

	lease, err := f.locker.Acquire(context.Background(), passLockName, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := f.processor.RunOnce(context.Background(), noon); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("expected ErrPassInProgress, got %v", err)
	}
	if got := f.reload(t, e.ID); got.Status != models.EntryScheduled {
		t.Fatalf("entry touched while lock held: %s", got.Status)
	}

	_ = lease.Release(context.Background())
	if _, err := f.processor.RunOnce(context.Background(), noon); err != nil {
		t.Fatalf("run after release: %v", err)
	}
	if got := f.reload(t, e.ID); got.Status != models.EntryPublished {
		t.Fatalf("expected published after release, got %s", got.Status)
	}
}

func TestRunOnceDoesNotOverwriteEntryCancelledMidPass(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "lane", nil)
	e := f.entry(t, policy, 0, noon.Add(-time.Hour))
	f.articles[e.ArticleID].publish = func(context.Context) error {
		return f.db.Model(&models.QueueEntry{}).Where("id = ?", e.ID).Update("status", models.EntryCancelled).Error
	}

	summary, err := f.processor.RunOnce(context.Background(), noon)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(summary.Results) != 1 || summary.Results[0].Outcome != OutcomeSuperseded {
		t.Fatalf("expected superseded result, got %+v", summary.Results)
	}
	if got := f.reload(t, e.ID); got.Status != models.EntryCancelled {
		t.Fatalf("expected entry to stay cancelled, got %s", got.Status)
	}
}

func TestPromoteEntry(t *testing.T) {
	f := newFixture(t)
	policy := f.policy(t, "lane", nil)
	target := f.entry(t, policy, 0, noon.Add(-time.Hour))
	other := f.entry(t, policy, 0, noon.Add(-time.Hour))

	summary, err := f.processor.PromoteEntry(context.Background(), target.ID, noon)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if summary.Candidates != 1 || summary.Published != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := f.reload(t, other.ID); got.Status != models.EntryScheduled {
		t.Fatalf("promote touched another entry: %s", got.Status)
	}

	if _, err := f.processor.PromoteEntry(context.Background(), target.ID, noon); !errors.Is(err, publishing.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState promoting published entry, got %v", err)
	}
	if _, err := f.processor.PromoteEntry(context.Background(), "missing", noon); !errors.Is(err, publishing.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
