package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rewear/apiserver/internal/services"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
}

func NewNotificationHandler(notificationService *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// NotificationRouter registers notification routes. Every route requires
// authentication.
func NotificationRouter(r chi.Router, notificationService *services.NotificationService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewNotificationHandler(notificationService)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", handler.List)
		r.Post("/{notificationID}/read", handler.MarkRead)
	})
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	unreadOnly := false
	if raw := strings.TrimSpace(r.URL.Query().Get("unread")); raw != "" {
		unreadOnly, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid unread filter")
			return
		}
	}

	notifications, total, err := h.notificationService.List(r.Context(), userID, unreadOnly, offset, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(notifications, page, limit, total))
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.notificationService.MarkRead(r.Context(), chi.URLParam(r, "notificationID"), userID); err != nil {
		writeServiceError(w, err, "failed to update notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
