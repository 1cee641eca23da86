/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/inkwell/internal/events"
	"github.com/friendsincode/inkwell/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
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
	if err := db.AutoMigrate(&models.WebhookTarget{}, &models.WebhookLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type capture struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	status   int
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.requests = append(c.requests, r)
	c.bodies = append(c.bodies, body)
	status := c.status
	c.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte("ok"))
}

func TestDispatchSignsAndLogs(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	rec := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	target, err := svc.CreateTarget(ctx, srv.URL, []models.WebhookEventType{models.WebhookEventEntryPublished})
	if err != nil {
		t.Fatalf("create target: %v", err)
	}

	svc.Dispatch(ctx, models.WebhookEventEntryPublished, events.Payload{
		"entry_id":     "entry-1",
		"article_id":   "article-1",
		"policy_id":    "policy-1",
		"status":       "published",
		"published_at": "2026-04-07T09:00:00Z",
	})

	if len(rec.requests) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(rec.requests))
	}
	req, body := rec.requests[0], rec.bodies[0]
	if got := req.Header.Get(HeaderEvent); got != "entry.published" {
		t.Fatalf("event header = %q", got)
	}
	if got := req.Header.Get("User-Agent"); got != userAgent {
		t.Fatalf("user agent = %q", got)
	}
	if got, want := req.Header.Get(HeaderSignature), Sign(body, target.Secret); got != want {
		t.Fatalf("signature = %q, want %q", got, want)
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.EntryID != "entry-1" || payload.Status != "published" || payload.PublishedAt == nil {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	logs, err := svc.ListLogs(ctx, target.ID, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].StatusCode != http.StatusOK || logs[0].Error != "" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestDispatchSkipsUnsubscribedAndInactiveTargets(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	rec := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	if _, err := svc.CreateTarget(ctx, srv.URL, []models.WebhookEventType{models.WebhookEventEntryPublished}); err != nil {
		t.Fatalf("create target: %v", err)
	}
	inactive, err := svc.CreateTarget(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	db.Model(inactive).Update("active", false)

	svc.Dispatch(ctx, models.WebhookEventEntryFailed, events.Payload{"entry_id": "entry-1"})

	if len(rec.requests) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(rec.requests))
	}
}

func TestDispatchRecordsRejectedDelivery(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	rec := &capture{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	target, err := svc.CreateTarget(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("create target: %v", err)
	}

	svc.Dispatch(ctx, models.WebhookEventEntryFailed, events.Payload{
		"entry_id":       "entry-1",
		"status":         "failed",
		"failure_reason": "renderer unavailable",
	})

	if len(rec.requests) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(rec.requests))
	}
	logs, err := svc.ListLogs(ctx, target.ID, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestDispatchRecordsTransportError(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	target, err := svc.CreateTarget(ctx, url, nil)
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	svc.Dispatch(ctx, models.WebhookEventEntryPublished, events.Payload{"entry_id": "entry-1"})

	logs, err := svc.ListLogs(ctx, target.ID, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].StatusCode != 0 || logs[0].Error == "" {
		t.Fatalf("expected transport error logged, got %+v", logs)
	}
}

func TestStartDeliversBusEvents(t *testing.T) {
	db := setupTestDB(t)
	bus := events.NewBus()
	svc := NewService(db, bus, zerolog.Nop())

	delivered := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case delivered <- r.Header.Get(HeaderEvent):
		default:
		}
	}))
	defer srv.Close()

	if _, err := svc.CreateTarget(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("create target: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	deadline := time.After(5 * time.Second)
	for {
		bus.Publish(events.EventEntryFailed, events.Payload{"entry_id": "entry-1"})
		select {
		case got := <-delivered:
			if got != "entry.failed" {
				t.Fatalf("event header = %q", got)
			}
			return
		case <-deadline:
			t.Fatal("no delivery received")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestCreateTargetValidation(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	cases := []struct {
		name   string
		url    string
		events []models.WebhookEventType
	}{
		{"relative url", "/hook", nil},
		{"ftp scheme", "ftp://example.com/hook", nil},
		{"unknown event", "https://example.com/hook", []models.WebhookEventType{"entry.deleted"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateTarget(ctx, tc.url, tc.events); !errors.Is(err, ErrInvalidTarget) {
				t.Fatalf("expected ErrInvalidTarget, got %v", err)
			}
		})
	}

	target, err := svc.CreateTarget(ctx, "https://example.com/hook", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !target.Subscribed(models.WebhookEventEntryPublished) || !target.Subscribed(models.WebhookEventEntryFailed) {
		t.Fatalf("expected default subscription to both events, got %q", target.Events)
	}
	if target.Secret == "" {
		t.Fatal("expected generated secret")
	}
}

func TestDeleteTarget(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	target, err := svc.CreateTarget(ctx, "https://example.com/hook", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.DeleteTarget(ctx, target.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteTarget(ctx, target.ID); !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
	targets, err := svc.ListTargets(ctx)
	if err != nil || len(targets) != 0 {
		t.Fatalf("expected no targets, got %d (%v)", len(targets), err)
	}
}

func TestSendTest(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	rec := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	target, err := svc.CreateTarget(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	status, err := svc.SendTest(ctx, target.ID)
	if err != nil || status != http.StatusOK {
		t.Fatalf("send test: status=%d err=%v", status, err)
	}
	if got := rec.requests[0].Header.Get(HeaderEvent); got != "test" {
		t.Fatalf("event header = %q", got)
	}
	if _, err := svc.SendTest(ctx, "missing"); !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
}
