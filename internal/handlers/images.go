package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rewear/apiserver/internal/logger"
	"github.com/rewear/apiserver/internal/storage"
)

// ImageRouter serves item images from object storage for deployments
// without a public bucket URL.
func ImageRouter(r chi.Router, store *storage.Storage) {
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		if !storage.ValidKey(key) {
			writeError(w, http.StatusNotFound, "image not found")
			return
		}

		obj, err := store.Get(r.Context(), key)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrObjectNotFound):
				writeError(w, http.StatusNotFound, "image not found")
			case errors.Is(err, storage.ErrNotConfigured):
				writeErrorCode(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
			default:
				logger.WithComponent("http").Error("failed to read image", "key", key, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to read image")
			}
			return
		}
		defer obj.Close()

		w.Header().Set("Content-Type", storage.ContentTypeForKey(key))
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, obj)
	})
}
