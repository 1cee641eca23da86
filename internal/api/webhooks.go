/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/inkwell/internal/models"
	"github.com/friendsincode/inkwell/internal/webhooks"
)

type webhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// webhookCreated includes the signing secret, which is only shown once.
type webhookCreated struct {
	*models.WebhookTarget
	Secret string `json:"secret"`
}

func (a *API) handleWebhooksList(w http.ResponseWriter, r *http.Request) {
	targets, err := a.webhookSvc.ListTargets(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": targets})
}

func (a *API) handleWebhooksCreate(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	subscribed := make([]models.WebhookEventType, 0, len(req.Events))
	for _, e := range req.Events {
		subscribed = append(subscribed, models.WebhookEventType(e))
	}
	target, err := a.webhookSvc.CreateTarget(r.Context(), req.URL, subscribed)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, webhookCreated{WebhookTarget: target, Secret: target.Secret})
}

func (a *API) handleWebhooksDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.webhookSvc.DeleteTarget(r.Context(), chi.URLParam(r, "webhookID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleWebhooksTest(w http.ResponseWriter, r *http.Request) {
	status, err := a.webhookSvc.SendTest(r.Context(), chi.URLParam(r, "webhookID"))
	if errors.Is(err, webhooks.ErrTargetNotFound) {
		a.writeServiceError(w, err)
		return
	}
	// Delivery failures are reported in the body; the request itself succeeded.
	resp := map[string]any{"status_code": status, "success": err == nil}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleWebhooksLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := a.webhookSvc.ListLogs(r.Context(), chi.URLParam(r, "webhookID"), queryInt(r, "limit"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
