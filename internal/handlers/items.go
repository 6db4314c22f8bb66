package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/internal/storage"
	"github.com/rewear/apiserver/types"
)

const (
	maxMultipartMemory = 32 << 20
	maxUploadBytes     = types.MaxItemImages*storage.MaxImageSize + 1<<20
	formFieldImages    = "images"
)

// ItemHandler provides HTTP handlers for the catalog and the exchange
// operations started from an item.
type ItemHandler struct {
	itemService     *services.ItemService
	exchangeService *services.ExchangeService
}

// NewItemHandler constructs a handler with the provided services.
func NewItemHandler(itemService *services.ItemService, exchangeService *services.ExchangeService) *ItemHandler {
	return &ItemHandler{
		itemService:     itemService,
		exchangeService: exchangeService,
	}
}

// ItemRouter registers item routes on the given router.
func ItemRouter(
	r chi.Router,
	itemService *services.ItemService,
	exchangeService *services.ExchangeService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewItemHandler(itemService, exchangeService)

	r.Get("/", handler.ListItems)
	r.With(authMiddleware).Post("/", handler.CreateItem)
	r.With(authMiddleware).Post("/images", handler.UploadImages)
	r.Route("/{itemID}", func(r chi.Router) {
		r.Get("/", handler.GetItem)
		r.With(authMiddleware).Put("/", handler.UpdateItem)
		r.With(authMiddleware).Delete("/", handler.DeleteItem)
		r.With(authMiddleware).Post("/swap-requests", handler.RequestSwap)
		r.With(authMiddleware).Post("/redeem", handler.Redeem)
	})
}

func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
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

func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.itemService.Get(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeServiceError(w, err, "failed to fetch item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input services.ItemInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	created, err := h.itemService.Create(r.Context(), user, input)
	if err != nil {
		writeServiceError(w, err, "failed to create item")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ItemHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input services.ItemInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.itemService.Update(r.Context(), user, chi.URLParam(r, "itemID"), input)
	if err != nil {
		writeServiceError(w, err, "failed to update item")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.itemService.Delete(r.Context(), user, chi.URLParam(r, "itemID")); err != nil {
		writeServiceError(w, err, "failed to delete item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadImages stores the files of the "images" form field and returns their
// URLs for use in a create or update request.
func (h *ItemHandler) UploadImages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploads, err := parseImageFiles(r.MultipartForm)
	if err != nil {
		writeServiceError(w, err, "failed to read images")
		return
	}

	urls, err := h.itemService.UploadImages(r.Context(), uploads)
	if err != nil {
		writeServiceError(w, err, "failed to store images")
		return
	}
	writeJSON(w, http.StatusCreated, ImageUploadResponse{Images: urls})
}

func (h *ItemHandler) RequestSwap(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SwapRequestBody
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}
	}

	created, err := h.exchangeService.RequestSwap(r.Context(), services.SwapProposal{
		ItemID:          chi.URLParam(r, "itemID"),
		RequesterID:     userID,
		RequesterItemID: strings.TrimSpace(req.RequesterItemID),
		Message:         strings.TrimSpace(req.Message),
	})
	if err != nil {
		writeServiceError(w, err, "failed to create swap request")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ItemHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.exchangeService.RedeemWithPoints(r.Context(), chi.URLParam(r, "itemID"), userID)
	if err != nil {
		writeServiceError(w, err, "failed to redeem item")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SwapRequestBody is the payload of a swap request. Both fields are optional.
type SwapRequestBody struct {
	RequesterItemID string `json:"requester_item_id"`
	Message         string `json:"message"`
}

type ImageUploadResponse struct {
	Images []string `json:"images"`
}

func parseItemFilter(r *http.Request) types.ItemFilter {
	q := r.URL.Query()
	return types.ItemFilter{
		Category:   types.Category(strings.TrimSpace(q.Get("category"))),
		Size:       strings.TrimSpace(q.Get("size")),
		Status:     types.ItemStatus(strings.TrimSpace(q.Get("status"))),
		UploaderID: strings.TrimSpace(q.Get("uploader")),
		Query:      strings.TrimSpace(q.Get("q")),
	}
}

func parseImageFiles(form *multipart.Form) ([]services.ImageUpload, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: missing form data", services.ErrInvalidItem)
	}

	files := form.File[formFieldImages]
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: at least one image is required", services.ErrInvalidItem)
	}
	if len(files) > types.MaxItemImages {
		return nil, fmt.Errorf("%w: at most %d images are allowed", services.ErrInvalidItem, types.MaxItemImages)
	}

	uploads := make([]services.ImageUpload, 0, len(files))
	for _, fileHeader := range files {
		file, err := fileHeader.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to read image %q: %w", fileHeader.Filename, err)
		}
		data, err := readFileLimited(file, storage.MaxImageSize)
		_ = file.Close()
		if err != nil {
			return nil, err
		}

		uploads = append(uploads, services.ImageUpload{
			Reader:      bytes.NewReader(data),
			Size:        int64(len(data)),
			ContentType: http.DetectContentType(data),
		})
	}
	return uploads, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, storage.ErrImageTooLarge
	}
	return data, nil
}
