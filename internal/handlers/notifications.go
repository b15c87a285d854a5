package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// MarkAllReadResponse reports how many notifications changed.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

func (a *API) ListNotifications(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	items, err := a.Notifications.List(ctx, caller, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := a.Notifications.MarkRead(ctx, caller, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	n, err := a.Notifications.MarkAllRead(ctx, caller)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MarkAllReadResponse{Updated: n})
}
