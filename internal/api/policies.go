/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/inkwell/internal/models"
)

type policyRequest struct {
	Name            string  `json:"name"`
	Active          *bool   `json:"active"`
	Cadence         string  `json:"cadence"`
	IntervalMinutes *int    `json:"interval_minutes"`
	BlackoutStart   *string `json:"blackout_start"`
	BlackoutEnd     *string `json:"blackout_end"`
	DailyCap        *int    `json:"daily_cap"`
	Priority        int     `json:"priority"`
}

// toModel converts the request. Omitted active defaults to true.
func (req policyRequest) toModel() models.SchedulePolicy {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return models.SchedulePolicy{
		Name:            req.Name,
		Active:          active,
		Cadence:         models.Cadence(req.Cadence),
		IntervalMinutes: req.IntervalMinutes,
		BlackoutStart:   req.BlackoutStart,
		BlackoutEnd:     req.BlackoutEnd,
		DailyCap:        req.DailyCap,
		Priority:        req.Priority,
	}
}

func (a *API) handlePoliciesList(w http.ResponseWriter, r *http.Request) {
	policies, err := a.publishing.ListPolicies(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (a *API) handlePoliciesCreate(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	policy, err := a.publishing.CreatePolicy(r.Context(), req.toModel())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

func (a *API) handlePoliciesGet(w http.ResponseWriter, r *http.Request) {
	policy, err := a.publishing.GetPolicy(r.Context(), chi.URLParam(r, "policyID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (a *API) handlePoliciesUpdate(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	policy, err := a.publishing.UpdatePolicy(r.Context(), chi.URLParam(r, "policyID"), req.toModel())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (a *API) handlePoliciesDeactivate(w http.ResponseWriter, r *http.Request) {
	policy, err := a.publishing.DeactivatePolicy(r.Context(), chi.URLParam(r, "policyID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}
