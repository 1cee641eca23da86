/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/friendsincode/inkwell/internal/audit"
	"github.com/friendsincode/inkwell/internal/models"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	filters, err := auditFiltersFrom(r.URL.Query())
	if err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid_query", err)
		return
	}

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("audit query failed")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audit_logs": logs,
		"total":      total,
		"limit":      filters.Limit,
		"offset":     filters.Offset,
	})
}

// auditFiltersFrom maps query parameters onto audit filters. Malformed
// times or paging values are rejected rather than ignored.
func auditFiltersFrom(q url.Values) (audit.QueryFilters, error) {
	filters := audit.QueryFilters{Limit: defaultAuditLimit}

	optional := func(key string) *string {
		if v := q.Get(key); v != "" {
			return &v
		}
		return nil
	}
	filters.Actor = optional("actor")
	filters.ResourceType = optional("resource_type")
	filters.ResourceID = optional("resource_id")
	if v := optional("action"); v != nil {
		action := models.AuditAction(*v)
		filters.Action = &action
	}

	for key, dst := range map[string]**time.Time{"start": &filters.StartTime, "end": &filters.EndTime} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, fmt.Errorf("%s must be RFC 3339: %w", key, err)
		}
		*dst = &t
	}
	if filters.StartTime != nil && filters.EndTime != nil && filters.EndTime.Before(*filters.StartTime) {
		return filters, fmt.Errorf("end precedes start")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAuditLimit {
			return filters, fmt.Errorf("limit must be between 1 and %d", maxAuditLimit)
		}
		filters.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filters, fmt.Errorf("offset must be a non-negative integer")
		}
		filters.Offset = n
	}

	return filters, nil
}
