/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package publishing

import (
	"context"

	"github.com/friendsincode/inkwell/internal/models"
)

// Article is the capability the scheduler needs from an article store.
// Publish must be a no-op success on an already published article.
type Article interface {
	ArticleID() string
	State() models.ArticleState
	Publish(ctx context.Context) error
	SetState(ctx context.Context, state models.ArticleState) error
}

// ArticleResolver looks up articles by ID. Implementations return an error
// wrapping ErrNotFound for unknown IDs.
type ArticleResolver interface {
	Article(ctx context.Context, id string) (Article, error)
}

type actorKey struct{}

// WithActor tags ctx with the operator performing a mutation, for the audit trail.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor set by WithActor, or "system".
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
