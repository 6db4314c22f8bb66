package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/types"
)

// SwapHandler serves swap request history and the owner/requester
// decisions on pending requests.
type SwapHandler struct {
	swapService     *services.SwapService
	exchangeService *services.ExchangeService
}

func NewSwapHandler(swapService *services.SwapService, exchangeService *services.ExchangeService) *SwapHandler {
	return &SwapHandler{
		swapService:     swapService,
		exchangeService: exchangeService,
	}
}

// SwapRouter registers swap request routes. Every route requires
// authentication.
func SwapRouter(
	r chi.Router,
	swapService *services.SwapService,
	exchangeService *services.ExchangeService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewSwapHandler(swapService, exchangeService)

	r.Route("/{requestID}", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", handler.GetRequest)
		r.Post("/accept", handler.Accept)
		r.Post("/decline", handler.Decline)
		r.Post("/cancel", handler.Cancel)
	})
}

func (h *SwapHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, err := h.swapService.Get(r.Context(), chi.URLParam(r, "requestID"), user)
	if err != nil {
		writeServiceError(w, err, "failed to fetch swap request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Accept completes a pending swap on behalf of the item's owner.
func (h *SwapHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.exchangeService.AcceptSwap(r.Context(), chi.URLParam(r, "requestID"), userID)
	if err != nil {
		writeServiceError(w, err, "failed to accept swap request")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SwapHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.closeRequest(w, r, h.exchangeService.DeclineSwap, "failed to decline swap request")
}

func (h *SwapHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.closeRequest(w, r, h.exchangeService.CancelSwap, "failed to cancel swap request")
}

type closeFunc func(ctx context.Context, requestID, actingUserID string) (types.SwapRequest, error)

func (h *SwapHandler) closeRequest(w http.ResponseWriter, r *http.Request, fn closeFunc, fallback string) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, err := fn(r.Context(), chi.URLParam(r, "requestID"), userID)
	if err != nil {
		writeServiceError(w, err, fallback)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
