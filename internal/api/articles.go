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

type articleRequest struct {
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

func (a *API) handleArticlesList(w http.ResponseWriter, r *http.Request) {
	list, err := a.articles.List(r.Context(), models.ArticleState(r.URL.Query().Get("state")), queryInt(r, "limit"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": list})
}

func (a *API) handleArticlesCreate(w http.ResponseWriter, r *http.Request) {
	var req articleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	article, err := a.articles.Create(r.Context(), req.Title, req.Slug)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, article)
}

func (a *API) handleArticlesGet(w http.ResponseWriter, r *http.Request) {
	article, err := a.articles.Get(r.Context(), chi.URLParam(r, "articleID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}
