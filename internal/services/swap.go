package services

import (
	"context"
	"errors"

	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

// SwapRepository defines read access to swap and redemption requests.
type SwapRepository interface {
	Get(ctx context.Context, id string) (types.SwapRequest, error)
	ListForUser(ctx context.Context, userID string, offset, limit int) ([]types.SwapRequest, int, error)
}

// SwapService serves request history. State changes go through
// ExchangeService.
type SwapService struct {
	repo SwapRepository
}

func NewSwapService(repo SwapRepository) *SwapService {
	return &SwapService{repo: repo}
}

// Get returns a request visible to its requester, the item's owner or an
// admin.
func (s *SwapService) Get(ctx context.Context, id string, actor types.User) (types.SwapRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.SwapRequest{}, ErrRequestNotFound
		}
		return types.SwapRequest{}, err
	}
	if req.RequesterID != actor.ID && req.UploaderID != actor.ID && !actor.IsAdmin() {
		return types.SwapRequest{}, ErrNotAuthorized
	}
	return req, nil
}

func (s *SwapService) ListForUser(ctx context.Context, userID string, offset, limit int) ([]types.SwapRequest, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.ListForUser(ctx, userID, offset, limit)
}
