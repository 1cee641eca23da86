/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/inkwell/internal/models"
	"github.com/friendsincode/inkwell/internal/publishing"
)

type scheduleRequest struct {
	ArticleID     string     `json:"article_id"`
	PolicyID      string     `json:"policy_id"`
	RequestedTime *time.Time `json:"requested_time"`
	Priority      *int       `json:"priority"`
}

type rescheduleRequest struct {
	TargetTime *time.Time `json:"target_time"`
}

func (a *API) handleEntriesList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.EntryStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}
	filter := publishing.EntryFilter{
		Status:   status,
		PolicyID: q.Get("policy_id"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	}
	entries, err := a.publishing.ListEntries(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleEntriesSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ArticleID == "" || req.PolicyID == "" {
		writeError(w, http.StatusBadRequest, "article_id_and_policy_id_required")
		return
	}
	entry, err := a.publishing.ScheduleByID(r.Context(), req.ArticleID, req.PolicyID, publishing.ScheduleOptions{
		RequestedTime: req.RequestedTime,
		Priority:      req.Priority,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleEntriesGet(w http.ResponseWriter, r *http.Request) {
	entry, err := a.publishing.GetEntry(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleEntriesReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TargetTime == nil {
		writeError(w, http.StatusBadRequest, "target_time_required")
		return
	}
	entry, err := a.publishing.Reschedule(r.Context(), chi.URLParam(r, "entryID"), *req.TargetTime)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleEntriesCancel(w http.ResponseWriter, r *http.Request) {
	entry, err := a.publishing.Cancel(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleEntriesPromote(w http.ResponseWriter, r *http.Request) {
	summary, err := a.processor.PromoteEntry(r.Context(), chi.URLParam(r, "entryID"), a.now())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handlePassesRun(w http.ResponseWriter, r *http.Request) {
	summary, err := a.processor.RunOnce(r.Context(), a.now())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
