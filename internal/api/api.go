/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the admin HTTP surface for policies, queue entries and
// batch passes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/inkwell/internal/articles"
	"github.com/friendsincode/inkwell/internal/audit"
	"github.com/friendsincode/inkwell/internal/auth"
	"github.com/friendsincode/inkwell/internal/publishing"
	"github.com/friendsincode/inkwell/internal/scheduler"
	"github.com/friendsincode/inkwell/internal/webhooks"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// API exposes HTTP handlers.
type API struct {
	publishing *publishing.Service
	processor  *scheduler.Processor
	articles   *articles.Store
	auditSvc   *audit.Service
	webhookSvc *webhooks.Service
	jwtSecret  []byte
	now        func() time.Time
	logger     zerolog.Logger
}

// New creates the API router wrapper. auditSvc and webhookSvc may be nil, in
// which case their routes are not mounted.
func New(pub *publishing.Service, processor *scheduler.Processor, store *articles.Store, auditSvc *audit.Service, webhookSvc *webhooks.Service, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		publishing: pub,
		processor:  processor,
		articles:   store,
		auditSvc:   auditSvc,
		webhookSvc: webhookSvc,
		jwtSecret:  jwtSecret,
		now:        time.Now,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// SetClock replaces the time source used for passes and promotions.
func (a *API) SetClock(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(a.jwtSecret))
		r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleEditor))
		r.Use(actorMiddleware)

		adminOnly := auth.RequireRole(auth.RoleAdmin)

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", a.handlePoliciesList)
			r.With(adminOnly).Post("/", a.handlePoliciesCreate)
			r.Route("/{policyID}", func(r chi.Router) {
				r.Get("/", a.handlePoliciesGet)
				r.With(adminOnly).Put("/", a.handlePoliciesUpdate)
				r.With(adminOnly).Post("/deactivate", a.handlePoliciesDeactivate)
			})
		})

		r.Route("/articles", func(r chi.Router) {
			r.Get("/", a.handleArticlesList)
			r.Post("/", a.handleArticlesCreate)
			r.Get("/{articleID}", a.handleArticlesGet)
		})

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", a.handleEntriesList)
			r.Post("/", a.handleEntriesSchedule)
			r.Route("/{entryID}", func(r chi.Router) {
				r.Get("/", a.handleEntriesGet)
				r.Post("/reschedule", a.handleEntriesReschedule)
				r.Post("/cancel", a.handleEntriesCancel)
				r.Post("/promote", a.handleEntriesPromote)
			})
		})

		r.Post("/passes", a.handlePassesRun)

		if a.auditSvc != nil {
			r.With(adminOnly).Get("/audit", a.handleAuditList)
		}
		if a.webhookSvc != nil {
			r.Route("/webhooks", func(r chi.Router) {
				r.Use(adminOnly)
				r.Get("/", a.handleWebhooksList)
				r.Post("/", a.handleWebhooksCreate)
				r.Delete("/{webhookID}", a.handleWebhooksDelete)
				r.Post("/{webhookID}/test", a.handleWebhooksTest)
				r.Get("/{webhookID}/logs", a.handleWebhooksLogs)
			})
		}
	})
}

// actorMiddleware records the token subject as the actor of any mutation.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := auth.Actor(r.Context()); actor != "" {
			r = r.WithContext(publishing.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// writeServiceError maps domain errors to status codes.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, publishing.ErrInvalidPolicy):
		writeErrorDetail(w, http.StatusBadRequest, "invalid_policy", err)
	case errors.Is(err, publishing.ErrInvalidTime):
		writeErrorDetail(w, http.StatusBadRequest, "invalid_time", err)
	case errors.Is(err, articles.ErrInvalidArticle):
		writeErrorDetail(w, http.StatusBadRequest, "invalid_article", err)
	case errors.Is(err, webhooks.ErrInvalidTarget):
		writeErrorDetail(w, http.StatusBadRequest, "invalid_webhook", err)
	case errors.Is(err, publishing.ErrNotFound), errors.Is(err, webhooks.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, publishing.ErrInvalidState):
		writeErrorDetail(w, http.StatusConflict, "invalid_state", err)
	case errors.Is(err, scheduler.ErrPassInProgress):
		writeError(w, http.StatusConflict, "pass_in_progress")
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeErrorDetail(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, map[string]string{"error": code, "detail": err.Error()})
}
