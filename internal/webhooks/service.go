/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/inkwell/internal/events"
	"github.com/friendsincode/inkwell/internal/models"
	"github.com/friendsincode/inkwell/internal/telemetry"
)

// Header names sent with each delivery.
const (
	HeaderEvent     = "X-Inkwell-Event"
	HeaderTimestamp = "X-Inkwell-Timestamp"
	HeaderSignature = "X-Inkwell-Signature"
	userAgent       = "Inkwell-Webhook/1.0"

	// maxLoggedResponse bounds how much of a response body is kept in webhook_logs.
	maxLoggedResponse = 2048
)

var (
	// ErrInvalidTarget is returned for malformed target definitions.
	ErrInvalidTarget = errors.New("invalid webhook target")
	// ErrTargetNotFound is returned when a target id does not exist.
	ErrTargetNotFound = errors.New("webhook target not found")
)

// Payload is the JSON body sent to webhook endpoints.
type Payload struct {
	Event         string     `json:"event"`
	Timestamp     time.Time  `json:"timestamp"`
	EntryID       string     `json:"entry_id"`
	ArticleID     string     `json:"article_id"`
	PolicyID      string     `json:"policy_id"`
	Status        string     `json:"status"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// Service handles webhook delivery.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
	client *http.Client
	now    func() time.Time

	ready     chan struct{}
	readyOnce sync.Once
}

// NewService creates a new webhook service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		now:   time.Now,
		ready: make(chan struct{}),
	}
}

// Ready is closed once Start has subscribed to the bus.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// SetHTTPClient replaces the delivery client.
func (s *Service) SetHTTPClient(client *http.Client) {
	if client != nil {
		s.client = client
	}
}

// Start delivers publish outcomes until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	published := s.bus.Subscribe(events.EventEntryPublished)
	failed := s.bus.Subscribe(events.EventEntryFailed)

	defer func() {
		s.bus.Unsubscribe(events.EventEntryPublished, published)
		s.bus.Unsubscribe(events.EventEntryFailed, failed)
	}()
	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Info().Msg("webhook service started")

	for {
		select {
		case <-ctx.Done():
			s.drain(published, failed)
			s.logger.Info().Msg("webhook service stopping")
			return

		case payload, ok := <-published:
			if !ok {
				return
			}
			s.Dispatch(context.WithoutCancel(ctx), models.WebhookEventEntryPublished, payload)

		case payload, ok := <-failed:
			if !ok {
				return
			}
			s.Dispatch(context.WithoutCancel(ctx), models.WebhookEventEntryFailed, payload)
		}
	}
}

// drain delivers outcomes already buffered when the service stops.
func (s *Service) drain(published, failed events.Subscriber) {
	ctx := context.Background()
	for {
		select {
		case payload, ok := <-published:
			if !ok {
				return
			}
			s.Dispatch(ctx, models.WebhookEventEntryPublished, payload)
		case payload, ok := <-failed:
			if !ok {
				return
			}
			s.Dispatch(ctx, models.WebhookEventEntryFailed, payload)
		default:
			return
		}
	}
}

// Dispatch sends one event to every active subscribed target and waits for
// the deliveries to finish. Each target gets a single attempt.
func (s *Service) Dispatch(ctx context.Context, event models.WebhookEventType, payload events.Payload) {
	var targets []models.WebhookTarget
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&targets).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch webhook targets")
		return
	}

	body, err := json.Marshal(s.buildPayload(event, payload))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal webhook payload")
		return
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		if !target.Subscribed(event) {
			continue
		}
		wg.Add(1)
		go func(target models.WebhookTarget) {
			defer wg.Done()
			s.deliver(ctx, target, string(event), body)
		}(target)
	}
	wg.Wait()
}

func (s *Service) buildPayload(event models.WebhookEventType, in events.Payload) Payload {
	str := func(key string) string {
		v, _ := in[key].(string)
		return v
	}
	out := Payload{
		Event:         string(event),
		Timestamp:     s.now().UTC(),
		EntryID:       str("entry_id"),
		ArticleID:     str("article_id"),
		PolicyID:      str("policy_id"),
		Status:        str("status"),
		FailureReason: str("failure_reason"),
	}
	if raw := str("published_at"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			out.PublishedAt = &t
		}
	}
	return out
}

// deliver makes one attempt and records it. The returned status is 0 when no
// response was received.
func (s *Service) deliver(ctx context.Context, target models.WebhookTarget, event string, body []byte) (int, error) {
	started := time.Now()
	record := &models.WebhookLog{
		ID:       uuid.NewString(),
		TargetID: target.ID,
		Event:    event,
		Payload:  string(body),
	}
	defer func() {
		record.Duration = int(time.Since(started).Milliseconds())
		if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(record).Error; err != nil {
			s.logger.Error().Err(err).Msg("failed to log webhook delivery")
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		record.Error = err.Error()
		telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "error").Inc()
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", s.now().Unix()))
	if target.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, target.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		record.Error = err.Error()
		telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "error").Inc()
		s.logger.Warn().Err(err).Str("webhook", target.ID).Str("url", target.URL).Msg("webhook delivery failed")
		return 0, fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedResponse))
	record.StatusCode = resp.StatusCode
	record.Response = string(respBody)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "success").Inc()
		s.logger.Debug().Str("webhook", target.ID).Str("event", event).Int("status", resp.StatusCode).Msg("webhook delivered")
		return resp.StatusCode, nil
	}

	telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "rejected").Inc()
	s.logger.Warn().Str("webhook", target.ID).Str("event", event).Int("status", resp.StatusCode).Msg("webhook returned error status")
	return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// CreateTarget validates and stores a new target with a generated secret.
func (s *Service) CreateTarget(ctx context.Context, rawURL string, subscribed []models.WebhookEventType) (*models.WebhookTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidTarget)
	}
	if len(subscribed) == 0 {
		subscribed = models.WebhookEvents
	}
	for _, e := range subscribed {
		if !e.Valid() {
			return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidTarget, e)
		}
	}

	target := models.NewWebhookTarget(rawURL, subscribed)
	if err := s.db.WithContext(ctx).Create(target).Error; err != nil {
		return nil, fmt.Errorf("create webhook target: %w", err)
	}
	return target, nil
}

// ListTargets returns all targets, newest first.
func (s *Service) ListTargets(ctx context.Context) ([]models.WebhookTarget, error) {
	var targets []models.WebhookTarget
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("list webhook targets: %w", err)
	}
	return targets, nil
}

// DeleteTarget removes a target and its delivery logs.
func (s *Service) DeleteTarget(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.WebhookTarget{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete webhook target: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTargetNotFound
	}
	if err := s.db.WithContext(ctx).Where("target_id = ?", id).Delete(&models.WebhookLog{}).Error; err != nil {
		return fmt.Errorf("delete webhook logs: %w", err)
	}
	return nil
}

// ListLogs returns the most recent delivery attempts for a target.
func (s *Service) ListLogs(ctx context.Context, targetID string, limit int) ([]models.WebhookLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var logs []models.WebhookLog
	err := s.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("list webhook logs: %w", err)
	}
	return logs, nil
}

// SendTest delivers a synthetic entry.published payload to one target.
func (s *Service) SendTest(ctx context.Context, id string) (int, error) {
	var target models.WebhookTarget
	err := s.db.WithContext(ctx).First(&target, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrTargetNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load webhook target: %w", err)
	}

	now := s.now().UTC()
	body, err := json.Marshal(Payload{
		Event:       "test",
		Timestamp:   now,
		EntryID:     "test-entry-id",
		ArticleID:   "test-article-id",
		PolicyID:    "test-policy-id",
		Status:      string(models.EntryPublished),
		PublishedAt: &now,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	return s.deliver(ctx, target, "test", body)
}
