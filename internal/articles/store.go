/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package articles is the gorm-backed article store the scheduler releases
// content through.
package articles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/inkwell/internal/models"
	"github.com/friendsincode/inkwell/internal/publishing"
)

// ErrInvalidArticle is returned for articles missing a title or slug.
var ErrInvalidArticle = errors.New("invalid article")

// Store persists articles and hands out publishing capabilities for them.
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	logger zerolog.Logger
}

// NewStore creates an article store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		now:    time.Now,
		logger: logger.With().Str("component", "articles").Logger(),
	}
}

// Create stores a new draft article.
func (s *Store) Create(ctx context.Context, title, slug string) (*models.Article, error) {
	title = strings.TrimSpace(title)
	slug = strings.TrimSpace(slug)
	if title == "" || slug == "" {
		return nil, fmt.Errorf("%w: title and slug are required", ErrInvalidArticle)
	}

	article := &models.Article{
		ID:    uuid.NewString(),
		Title: title,
		Slug:  slug,
		State: models.ArticleDraft,
	}
	if err := s.db.WithContext(ctx).Create(article).Error; err != nil {
		return nil, fmt.Errorf("create article: %w", err)
	}
	return article, nil
}

// Get loads an article row.
func (s *Store) Get(ctx context.Context, id string) (*models.Article, error) {
	var article models.Article
	err := s.db.WithContext(ctx).First(&article, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("article %s: %w", id, publishing.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load article: %w", err)
	}
	return &article, nil
}

// List returns articles, newest first, optionally filtered by state.
func (s *Store) List(ctx context.Context, state models.ArticleState, limit int) ([]models.Article, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if state != "" {
		query = query.Where("state = ?", state)
	}
	var out []models.Article
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return out, nil
}

// Article implements publishing.ArticleResolver.
func (s *Store) Article(ctx context.Context, id string) (publishing.Article, error) {
	article, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &handle{store: s, id: article.ID, state: article.State}, nil
}

// handle is a snapshot of one article plus the actions the scheduler needs.
type handle struct {
	store *Store
	id    string
	state models.ArticleState
}

func (h *handle) ArticleID() string { return h.id }

func (h *handle) State() models.ArticleState { return h.state }

// Publish marks the article published. Publishing an already published
// article succeeds without touching published_at.
func (h *handle) Publish(ctx context.Context) error {
	now := h.store.now().UTC()
	result := h.store.db.WithContext(ctx).Model(&models.Article{}).
		Where("id = ? AND state <> ?", h.id, models.ArticlePublished).
		Updates(map[string]any{"state": models.ArticlePublished, "published_at": now})
	if result.Error != nil {
		return fmt.Errorf("publish article %s: %w", h.id, result.Error)
	}
	if result.RowsAffected == 0 {
		// Either already published or gone.
		if _, err := h.store.Get(ctx, h.id); err != nil {
			return err
		}
	}
	h.state = models.ArticlePublished

	h.store.logger.Debug().Str("article_id", h.id).Msg("article published")
	return nil
}

// SetState moves the article between draft and scheduled. A published
// article cannot be moved back.
func (h *handle) SetState(ctx context.Context, state models.ArticleState) error {
	if state == models.ArticlePublished {
		return h.Publish(ctx)
	}
	if state != models.ArticleDraft && state != models.ArticleScheduled {
		return fmt.Errorf("%w: unknown article state %q", publishing.ErrInvalidState, state)
	}

	result := h.store.db.WithContext(ctx).Model(&models.Article{}).
		Where("id = ? AND state <> ?", h.id, models.ArticlePublished).
		Update("state", state)
	if result.Error != nil {
		return fmt.Errorf("set article %s state: %w", h.id, result.Error)
	}
	if result.RowsAffected == 0 {
		current, err := h.store.Get(ctx, h.id)
		if err != nil {
			return err
		}
		if current.State == models.ArticlePublished {
			return fmt.Errorf("%w: article %s is published", publishing.ErrInvalidState, h.id)
		}
	}
	h.state = state
	return nil
}
