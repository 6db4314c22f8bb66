package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rewear/apiserver/internal/logger"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

const maxItemTags = 10

var ErrInvalidItem = errors.New("invalid item")

// ItemRepository defines persistence operations for catalog items.
type ItemRepository interface {
	List(ctx context.Context, filter types.ItemFilter, offset, limit int) ([]types.Item, int, error)
	Get(ctx context.Context, id string) (types.Item, error)
	Create(ctx context.Context, item types.Item) (types.Item, error)
	Update(ctx context.Context, item types.Item) (types.Item, error)
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[types.ItemStatus]int, error)
}

// PendingRequests closes swap requests that reference a removed item.
type PendingRequests interface {
	ListPendingForItem(ctx context.Context, itemID string) ([]types.SwapRequest, error)
	UpdateStatus(ctx context.Context, id string, from, to types.SwapStatus) (types.SwapRequest, error)
}

// ImageStore keeps uploaded item images.
type ImageStore interface {
	PutImage(ctx context.Context, r io.Reader, size int64, contentType string) (string, error)
	DeleteImage(ctx context.Context, imageURL string) error
}

// ItemInput carries the user-editable listing fields.
type ItemInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Images      []string        `json:"images"`
	Category    types.Category  `json:"category"`
	Size        string          `json:"size"`
	Condition   types.Condition `json:"condition"`
	Tags        []string        `json:"tags"`
	PointValue  int             `json:"point_value"`
}

// ImageUpload is one file of a multipart image upload.
type ImageUpload struct {
	Reader      io.Reader
	Size        int64
	ContentType string
}

// ItemService encapsulates catalog use-cases.
type ItemService struct {
	repo          ItemRepository
	requests      PendingRequests
	points        PointsRepository
	images        ImageStore
	listingReward int
	log           *slog.Logger
}

func NewItemService(repo ItemRepository, requests PendingRequests, points PointsRepository, images ImageStore, listingReward int) *ItemService {
	return &ItemService{
		repo:          repo,
		requests:      requests,
		points:        points,
		images:        images,
		listingReward: listingReward,
		log:           logger.WithComponent("items"),
	}
}

func (s *ItemService) List(ctx context.Context, filter types.ItemFilter, offset, limit int) ([]types.Item, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown category %q", ErrInvalidItem, filter.Category)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidItem, filter.Status)
	}
	filter.Query = strings.TrimSpace(filter.Query)
	return s.repo.List(ctx, filter, offset, limit)
}

func (s *ItemService) Get(ctx context.Context, id string) (types.Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Item{}, ErrItemNotFound
		}
		return types.Item{}, err
	}
	return item, nil
}

// Create lists a new available item for the acting user and credits the
// listing reward when one is configured.
func (s *ItemService) Create(ctx context.Context, actor types.User, input ItemInput) (types.Item, error) {
	input, err := normalizeItemInput(input)
	if err != nil {
		return types.Item{}, err
	}

	created, err := s.repo.Create(ctx, types.Item{
		Title:        input.Title,
		Description:  input.Description,
		Images:       input.Images,
		Category:     input.Category,
		Size:         input.Size,
		Condition:    input.Condition,
		Tags:         input.Tags,
		Status:       types.ItemAvailable,
		UploaderID:   actor.ID,
		UploaderName: actor.Name,
		PointValue:   input.PointValue,
	})
	if err != nil {
		return types.Item{}, err
	}

	if s.listingReward > 0 {
		_, err := s.points.Adjust(ctx, actor.ID, s.listingReward, store.PointsEntry{
			Reason:         types.PointsListingReward,
			IdempotencyKey: "listing:" + created.ID,
		})
		if err != nil {
			s.log.Warn("failed to credit listing reward", "item_id", created.ID, "user_id", actor.ID, "error", err)
		}
	}
	return created, nil
}

// Update rewrites an available listing. Only the uploader or an admin may
// edit it.
func (s *ItemService) Update(ctx context.Context, actor types.User, id string, input ItemInput) (types.Item, error) {
	current, err := s.editable(ctx, actor, id)
	if err != nil {
		return types.Item{}, err
	}
	input, err = normalizeItemInput(input)
	if err != nil {
		return types.Item{}, err
	}

	current.Title = input.Title
	current.Description = input.Description
	previousImages := current.Images
	current.Images = input.Images
	current.Category = input.Category
	current.Size = input.Size
	current.Condition = input.Condition
	current.Tags = input.Tags
	current.PointValue = input.PointValue

	updated, err := s.repo.Update(ctx, current)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.Item{}, ErrItemUnavailable
		}
		if errors.Is(err, store.ErrNotFound) {
			return types.Item{}, ErrItemNotFound
		}
		return types.Item{}, err
	}

	s.dropImages(ctx, removedImages(previousImages, updated.Images))
	return updated, nil
}

// Delete removes an available listing and declines swap requests that
// targeted or offered it.
func (s *ItemService) Delete(ctx context.Context, actor types.User, id string) error {
	current, err := s.editable(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrItemUnavailable
		}
		if errors.Is(err, store.ErrNotFound) {
			return ErrItemNotFound
		}
		return err
	}

	pending, err := s.requests.ListPendingForItem(ctx, id)
	if err != nil {
		s.log.Warn("failed to list requests for deleted item", "item_id", id, "error", err)
	}
	for _, req := range pending {
		if _, err := s.requests.UpdateStatus(ctx, req.ID, types.SwapPending, types.SwapDeclined); err != nil && !errors.Is(err, store.ErrConflict) {
			s.log.Warn("failed to decline request for deleted item", "item_id", id, "request_id", req.ID, "error", err)
		}
	}

	s.dropImages(ctx, current.Images)
	return nil
}

// UploadImages stores up to MaxItemImages files and returns their URLs. On
// failure the files already stored are removed.
func (s *ItemService) UploadImages(ctx context.Context, uploads []ImageUpload) ([]string, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: at least one image is required", ErrInvalidItem)
	}
	if len(uploads) > types.MaxItemImages {
		return nil, fmt.Errorf("%w: at most %d images are allowed", ErrInvalidItem, types.MaxItemImages)
	}

	urls := make([]string, 0, len(uploads))
	for _, upload := range uploads {
		url, err := s.images.PutImage(ctx, upload.Reader, upload.Size, upload.ContentType)
		if err != nil {
			s.dropImages(ctx, urls)
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// CountByStatus reports catalog size per status.
func (s *ItemService) CountByStatus(ctx context.Context) (map[types.ItemStatus]int, error) {
	return s.repo.CountByStatus(ctx)
}

func (s *ItemService) editable(ctx context.Context, actor types.User, id string) (types.Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return types.Item{}, err
	}
	if item.UploaderID != actor.ID && !actor.IsAdmin() {
		return types.Item{}, ErrNotAuthorized
	}
	if item.Status != types.ItemAvailable {
		return types.Item{}, ErrItemUnavailable
	}
	return item, nil
}

func (s *ItemService) dropImages(ctx context.Context, urls []string) {
	if s.images == nil {
		return
	}
	for _, url := range urls {
		if err := s.images.DeleteImage(ctx, url); err != nil {
			s.log.Warn("failed to delete image", "url", url, "error", err)
		}
	}
}

func normalizeItemInput(in ItemInput) (ItemInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Size = strings.TrimSpace(in.Size)

	switch {
	case in.Title == "":
		return ItemInput{}, fmt.Errorf("%w: title is required", ErrInvalidItem)
	case in.Description == "":
		return ItemInput{}, fmt.Errorf("%w: description is required", ErrInvalidItem)
	case in.Size == "":
		return ItemInput{}, fmt.Errorf("%w: size is required", ErrInvalidItem)
	case !in.Category.Valid():
		return ItemInput{}, fmt.Errorf("%w: unknown category %q", ErrInvalidItem, in.Category)
	case !in.Condition.Valid():
		return ItemInput{}, fmt.Errorf("%w: unknown condition %q", ErrInvalidItem, in.Condition)
	case in.PointValue < types.MinPointValue || in.PointValue > types.MaxPointValue:
		return ItemInput{}, fmt.Errorf("%w: point value must be between %d and %d", ErrInvalidItem, types.MinPointValue, types.MaxPointValue)
	}

	images := make([]string, 0, len(in.Images))
	for _, img := range in.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}
	if len(images) == 0 || len(images) > types.MaxItemImages {
		return ItemInput{}, fmt.Errorf("%w: between 1 and %d images are required", ErrInvalidItem, types.MaxItemImages)
	}
	in.Images = images

	seen := make(map[string]bool, len(in.Tags))
	tags := make([]string, 0, len(in.Tags))
	for _, tag := range in.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	if len(tags) > maxItemTags {
		return ItemInput{}, fmt.Errorf("%w: at most %d tags are allowed", ErrInvalidItem, maxItemTags)
	}
	in.Tags = tags
	return in, nil
}

func removedImages(before, after []string) []string {
	kept := make(map[string]bool, len(after))
	for _, url := range after {
		kept[url] = true
	}
	var removed []string
	for _, url := range before {
		if !kept[url] {
			removed = append(removed, url)
		}
	}
	return removed
}
