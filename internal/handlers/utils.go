package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rewear/apiserver/internal/logger"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/internal/storage"
	"github.com/rewear/apiserver/types"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)

type contextKey string

const (
	contextSubjectKey contextKey = "sub"
	contextUserKey    contextKey = "user"
)

// ErrorResponse is the error payload. Code is a stable machine-readable
// reason for errors clients are expected to branch on.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ListResponse is the paginated list payload.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

func newListResponse[T any](items []T, page, limit, total int) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Page: page, Limit: limit, Total: total}
}

func userIDFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok {
		return "", errors.New("missing subject")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("invalid subject")
	}
	return subject, nil
}

func userFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// InsufficientPointsResponse adds the amounts to the error payload.
type InsufficientPointsResponse struct {
	ErrorResponse
	Required  int `json:"required"`
	Available int `json:"available"`
	Shortfall int `json:"shortfall"`
}

// writeServiceError maps service errors to HTTP responses. Unrecognized
// errors are logged and reported with the fallback message.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var (
		insufficient *services.InsufficientPointsError
		partial      *services.PartialFailureError
		inconsistent *services.InconsistencyError
	)

	switch {
	case errors.As(err, &inconsistent):
		logger.WithComponent("http").Error(fallback, "error", err, "fatal_inconsistency", true)
		writeErrorCode(w, http.StatusInternalServerError, "inconsistent_state", fallback)
	case errors.Is(err, services.ErrItemUnavailable):
		writeErrorCode(w, http.StatusConflict, "item_unavailable", err.Error())
	case errors.Is(err, services.ErrItemChanged):
		writeErrorCode(w, http.StatusConflict, "item_changed", err.Error())
	case errors.Is(err, services.ErrRequestNotPending):
		writeErrorCode(w, http.StatusConflict, "request_not_pending", err.Error())
	case errors.As(err, &partial):
		writeErrorCode(w, http.StatusServiceUnavailable, "partial_failure", "the operation failed and was rolled back, please retry")
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, InsufficientPointsResponse{
			ErrorResponse: ErrorResponse{Error: err.Error(), Code: "insufficient_points"},
			Required:      insufficient.Required,
			Available:     insufficient.Available,
			Shortfall:     insufficient.Shortfall(),
		})
	case errors.Is(err, services.ErrSelfTransaction):
		writeErrorCode(w, http.StatusUnprocessableEntity, "self_transaction", err.Error())
	case errors.Is(err, services.ErrDuplicateRequest):
		writeErrorCode(w, http.StatusConflict, "duplicate_request", err.Error())
	case errors.Is(err, services.ErrEmailTaken):
		writeErrorCode(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, services.ErrInvalidOffer):
		writeErrorCode(w, http.StatusBadRequest, "invalid_offer", err.Error())
	case errors.Is(err, services.ErrInvalidItem):
		writeErrorCode(w, http.StatusBadRequest, "invalid_item", err.Error())
	case errors.Is(err, services.ErrInvalidAdjustment):
		writeErrorCode(w, http.StatusBadRequest, "invalid_adjustment", err.Error())
	case errors.Is(err, services.ErrKeyReused):
		writeErrorCode(w, http.StatusConflict, "idempotency_key_reused", err.Error())
	case errors.Is(err, storage.ErrUnsupportedImage):
		writeErrorCode(w, http.StatusUnsupportedMediaType, "unsupported_image", err.Error())
	case errors.Is(err, storage.ErrImageTooLarge):
		writeErrorCode(w, http.StatusRequestEntityTooLarge, "image_too_large", err.Error())
	case errors.Is(err, storage.ErrNotConfigured):
		writeErrorCode(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
	case errors.Is(err, services.ErrItemNotFound):
		writeErrorCode(w, http.StatusNotFound, "item_not_found", err.Error())
	case errors.Is(err, services.ErrRequestNotFound):
		writeErrorCode(w, http.StatusNotFound, "request_not_found", err.Error())
	case errors.Is(err, services.ErrUserNotFound):
		writeErrorCode(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, services.ErrNotificationNotFound):
		writeErrorCode(w, http.StatusNotFound, "notification_not_found", err.Error())
	case errors.Is(err, services.ErrNotAuthorized):
		writeErrorCode(w, http.StatusForbidden, "not_authorized", err.Error())
	default:
		logger.WithComponent("http").Error(fallback, "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, 0, errors.New("invalid page")
		}
	}

	rawLimit := strings.TrimSpace(r.URL.Query().Get("limit"))
	if rawLimit == "" {
		rawLimit = strings.TrimSpace(r.URL.Query().Get("per_page"))
	}
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			return 0, 0, 0, errors.New("invalid limit")
		}
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	offset = (page - 1) * limit
	return page, limit, offset, nil
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
