package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBackend struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *memoryBackend) EnsureBucket(context.Context) error { return nil }

func (m *memoryBackend) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.contentTypes[key] = contentType
	return nil
}

func (m *memoryBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryBackend) Bucket() string { return "test" }

func TestPutImageStoresUnderItemsPrefix(t *testing.T) {
	backend := newMemoryBackend()
	s := NewStorage(backend, "https://cdn.example.com/rewear/")

	url, err := s.PutImage(context.Background(), strings.NewReader("png-bytes"), 9, "image/PNG")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/rewear/items/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	key, ok := s.KeyFromURL(url)
	require.True(t, ok)
	assert.Equal(t, []byte("png-bytes"), backend.objects[key])
	assert.Equal(t, "image/png", backend.contentTypes[key])
}

func TestPutImageRejectsUnsupportedAndOversized(t *testing.T) {
	s := NewStorage(newMemoryBackend(), "")

	_, err := s.PutImage(context.Background(), strings.NewReader("gif"), 3, "image/gif")
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = s.PutImage(context.Background(), strings.NewReader(""), MaxImageSize+1, "image/jpeg")
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestNilStorageIsNotConfigured(t *testing.T) {
	var s *Storage

	_, err := s.PutImage(context.Background(), strings.NewReader("x"), 1, "image/png")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, s.DeleteImage(context.Background(), "/images/items/a.png"))
}

func TestDeleteImageIgnoresForeignURLs(t *testing.T) {
	backend := newMemoryBackend()
	s := NewStorage(backend, "")

	url, err := s.PutImage(context.Background(), strings.NewReader("jpg"), 3, "image/jpeg; charset=binary")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/images/items/"))
	assert.True(t, strings.HasSuffix(url, ".jpg"))

	require.NoError(t, s.DeleteImage(context.Background(), "https://images.unsplash.com/photo-1"))
	assert.Len(t, backend.objects, 1)

	require.NoError(t, s.DeleteImage(context.Background(), url))
	assert.Empty(t, backend.objects)
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("items/abc.png"))
	assert.False(t, ValidKey("items/"))
	assert.False(t, ValidKey("items/../secret"))
	assert.False(t, ValidKey("items/a/b.png"))
	assert.False(t, ValidKey("other/abc.png"))
}

func TestContentTypeForKey(t *testing.T) {
	assert.Equal(t, "image/webp", ContentTypeForKey("items/a.webp"))
	assert.Equal(t, "image/jpeg", ContentTypeForKey("items/a.jpg"))
	assert.Equal(t, "application/octet-stream", ContentTypeForKey("items/a.bin"))
}
