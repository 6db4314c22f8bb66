package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/config"
)

const (
	// MaxImageSize caps a single uploaded item image.
	MaxImageSize = 10 << 20

	imagePrefix  = "items/"
	imageRoute   = "/images/"
	fallbackMIME = "application/octet-stream"
)

var (
	ErrUnsupportedImage = errors.New("unsupported image type: use jpeg, png or webp")
	ErrImageTooLarge    = fmt.Errorf("image exceeds %d MiB", MaxImageSize>>20)
	ErrNotConfigured    = errors.New("object storage is not configured")
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Storage keeps item images in an ObjectStorage backend and maps object keys
// to the URLs stored on items.
type Storage struct {
	backend       ObjectStorage
	publicBaseURL string
}

// NewStorage constructs a Storage wrapper for the provided backend. When
// publicBaseURL is empty images are served through the API under /images/.
func NewStorage(backend ObjectStorage, publicBaseURL string) *Storage {
	return &Storage{
		backend:       backend,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}
}

// NewFromConfig selects the backend named in cfg. It returns nil, nil for
// the "none" backend.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "minio":
		backend, err = NewMinioClient(cfg.Minio)
	case "gcs":
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewStorage(backend, cfg.PublicBaseURL), nil
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// PutImage validates and stores an item image under a fresh key and returns
// its URL.
func (s *Storage) PutImage(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}
	ext, ok := imageExtensions[normalizeMIME(contentType)]
	if !ok {
		return "", ErrUnsupportedImage
	}
	if size > MaxImageSize {
		return "", ErrImageTooLarge
	}

	key := imagePrefix + uuid.NewString() + ext
	if err := s.backend.Put(ctx, key, r, size, normalizeMIME(contentType)); err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return s.URL(key), nil
}

// Get opens a reader for an object in the configured bucket.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil {
		return nil, ErrNotConfigured
	}
	return s.backend.Get(ctx, key)
}

// DeleteImage removes the object behind an image URL. URLs that do not point
// into this storage are ignored.
func (s *Storage) DeleteImage(ctx context.Context, imageURL string) error {
	if s == nil {
		return nil
	}
	key, ok := s.KeyFromURL(imageURL)
	if !ok {
		return nil
	}
	return s.backend.Delete(ctx, key)
}

// URL returns the address clients fetch an object from.
func (s *Storage) URL(key string) string {
	if s.publicBaseURL == "" {
		return imageRoute + key
	}
	return s.publicBaseURL + "/" + key
}

// KeyFromURL reverses URL for images this storage produced.
func (s *Storage) KeyFromURL(raw string) (string, bool) {
	var rest string
	switch {
	case s.publicBaseURL != "" && strings.HasPrefix(raw, s.publicBaseURL+"/"):
		rest = strings.TrimPrefix(raw, s.publicBaseURL+"/")
	case strings.HasPrefix(raw, imageRoute):
		rest = strings.TrimPrefix(raw, imageRoute)
	default:
		return "", false
	}
	if unescaped, err := url.PathUnescape(rest); err == nil {
		rest = unescaped
	}
	if !ValidKey(rest) {
		return "", false
	}
	return rest, true
}

// ValidKey reports whether key names an item image object.
func ValidKey(key string) bool {
	if !strings.HasPrefix(key, imagePrefix) || path.Clean(key) != key {
		return false
	}
	name := strings.TrimPrefix(key, imagePrefix)
	return name != "" && !strings.Contains(name, "/")
}

// ContentTypeForKey guesses the MIME type from an image key's extension.
func ContentTypeForKey(key string) string {
	ext := path.Ext(key)
	for mime, e := range imageExtensions {
		if e == ext {
			return mime
		}
	}
	return fallbackMIME
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

func normalizeMIME(contentType string) string {
	mime := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "image/jpg" {
		return "image/jpeg"
	}
	return mime
}
