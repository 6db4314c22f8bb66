package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rewear/apiserver/internal/logger"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/types"
)

// AdminHandler serves moderation and reporting endpoints.
type AdminHandler struct {
	userService         *services.UserService
	itemService         *services.ItemService
	notificationService *services.NotificationService
}

func NewAdminHandler(userService *services.UserService, itemService *services.ItemService, notificationService *services.NotificationService) *AdminHandler {
	return &AdminHandler{
		userService:         userService,
		itemService:         itemService,
		notificationService: notificationService,
	}
}

// AdminRouter registers admin routes behind authentication and the admin
// role check.
func AdminRouter(
	r chi.Router,
	userService *services.UserService,
	itemService *services.ItemService,
	notificationService *services.NotificationService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewAdminHandler(userService, itemService, notificationService)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware, RequireAdmin)
		r.Get("/users", handler.ListUsers)
		r.Get("/items", handler.ListItems)
		r.Get("/stats", handler.Stats)
		r.Post("/users/{userID}/points", handler.AdjustPoints)
	})
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	users, total, err := h.userService.List(r.Context(), offset, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(users, page, limit, total))
}

// ListItems lists the whole catalog including exchanged items.
func (h *AdminHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.itemService.List(r.Context(), parseItemFilter(r), offset, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(items, page, limit, total))
}

type StatsResponse struct {
	Users int                      `json:"users"`
	Items map[types.ItemStatus]int `json:"items"`
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.itemService.CountByStatus(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to load stats")
		return
	}
	_, users, err := h.userService.List(r.Context(), 0, 1)
	if err != nil {
		writeServiceError(w, err, "failed to load stats")
		return
	}

	if counts == nil {
		counts = make(map[types.ItemStatus]int)
	}
	for _, status := range []types.ItemStatus{types.ItemAvailable, types.ItemPending, types.ItemSwapped, types.ItemRedeemed} {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}
	writeJSON(w, http.StatusOK, StatsResponse{Users: users, Items: counts})
}

// AdjustPointsRequest is a signed balance change. IdempotencyKey makes a
// retried request apply once.
type AdjustPointsRequest struct {
	Amount         int    `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Note           string `json:"note"`
}

type AdjustPointsResponse struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

func (h *AdminHandler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	var req AdjustPointsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	userID := chi.URLParam(r, "userID")
	balance, err := h.userService.AdjustPoints(r.Context(), userID, req.Amount, req.IdempotencyKey)
	if err != nil {
		writeServiceError(w, err, "failed to adjust points")
		return
	}

	message := fmt.Sprintf("An administrator adjusted your balance by %+d points.", req.Amount)
	if note := strings.TrimSpace(req.Note); note != "" {
		message += " " + note
	}
	if err := h.notificationService.Notify(r.Context(), userID, types.NotificationAdmin, "Points adjusted", message); err != nil {
		logger.WithComponent("http").Warn("failed to notify points adjustment", "user_id", userID, "error", err)
	}

	writeJSON(w, http.StatusOK, AdjustPointsResponse{UserID: userID, Balance: balance})
}
