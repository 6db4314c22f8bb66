package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/types"
)

// UserHandler serves the dashboard of the authenticated user.
type UserHandler struct {
	userService *services.UserService
	swapService *services.SwapService
	itemService *services.ItemService
}

func NewUserHandler(userService *services.UserService, swapService *services.SwapService, itemService *services.ItemService) *UserHandler {
	return &UserHandler{
		userService: userService,
		swapService: swapService,
		itemService: itemService,
	}
}

// UserRouter registers /users/me routes.
func UserRouter(
	r chi.Router,
	userService *services.UserService,
	swapService *services.SwapService,
	itemService *services.ItemService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewUserHandler(userService, swapService, itemService)

	r.Route("/me", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Patch("/", handler.UpdateProfile)
		r.Get("/points", handler.Points)
		r.Get("/swaps", handler.Swaps)
		r.Get("/items", handler.Items)
	})
}

type UpdateProfileRequest struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

// UpdateProfile changes the fields present in the request.
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	name, avatar := user.Name, user.AvatarURL
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
	}
	if req.AvatarURL != nil {
		avatar = strings.TrimSpace(*req.AvatarURL)
	}

	updated, err := h.userService.UpdateProfile(r.Context(), user.ID, name, avatar)
	if err != nil {
		writeServiceError(w, err, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *UserHandler) Points(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.userService.Points(r.Context(), user.ID, offset, limit)
	if err != nil {
		writeServiceError(w, err, "failed to load points")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Swaps lists requests the user made or received.
func (h *UserHandler) Swaps(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	requests, total, err := h.swapService.ListForUser(r.Context(), user.ID, offset, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list swap requests")
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(requests, page, limit, total))
}

// Items lists the user's own listings, optionally narrowed by status.
func (h *UserHandler) Items(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := types.ItemFilter{
		UploaderID: user.ID,
		Status:     types.ItemStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
	}
	items, total, err := h.itemService.List(r.Context(), filter, offset, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(items, page, limit, total))
}
