/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ArticleState is the reader-facing lifecycle of an article.
type ArticleState string

const (
	ArticleDraft     ArticleState = "draft"
	ArticleScheduled ArticleState = "scheduled"
	ArticlePublished ArticleState = "published"
)

// Article is the stored content item the scheduler releases.
type Article struct {
	ID          string       `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string       `gorm:"type:varchar(512);not null" json:"title"`
	Slug        string       `gorm:"type:varchar(255);uniqueIndex;not null" json:"slug"`
	State       ArticleState `gorm:"type:varchar(16);index;not null;default:'draft'" json:"state"`
	PublishedAt *time.Time   `json:"published_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Article) TableName() string {
	return "articles"
}
