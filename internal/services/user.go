package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

var (
	ErrEmailTaken        = errors.New("email already registered")
	ErrInvalidAdjustment = errors.New("invalid points adjustment")
	ErrKeyReused         = errors.New("idempotency key already used for a different adjustment")
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
}

// PointsRepository reads and changes point balances through the ledger.
type PointsRepository interface {
	Balance(ctx context.Context, userID string) (int, error)
	Adjust(ctx context.Context, userID string, delta int, entry store.PointsEntry) (int, error)
	History(ctx context.Context, userID string, offset, limit int) ([]types.PointsTransaction, int, error)
}

// PointsSummary is a balance with one page of its ledger history.
type PointsSummary struct {
	Balance      int                       `json:"balance"`
	Transactions []types.PointsTransaction `json:"transactions"`
	Total        int                       `json:"total"`
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo           UserRepository
	points         PointsRepository
	startingPoints int
}

func NewUserService(repo UserRepository, points PointsRepository, startingPoints int) *UserService {
	return &UserService{repo: repo, points: points, startingPoints: startingPoints}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return s.repo.GetByEmail(ctx, NormalizeEmail(email))
}

// Register creates a user account credited with the starting balance.
func (s *UserService) Register(ctx context.Context, user types.User) (types.User, error) {
	user.Email = NormalizeEmail(user.Email)
	user.Name = strings.TrimSpace(user.Name)
	if user.Role == "" {
		user.Role = types.RoleUser
	}
	user.Points = s.startingPoints

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, ErrEmailTaken
		}
		return types.User{}, err
	}
	return created, nil
}

// UpdateProfile changes the display name and avatar of a user.
func (s *UserService) UpdateProfile(ctx context.Context, userID, name, avatarURL string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, err
	}
	if name = strings.TrimSpace(name); name != "" {
		user.Name = name
	}
	user.AvatarURL = strings.TrimSpace(avatarURL)
	return s.repo.Update(ctx, user)
}

func (s *UserService) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, offset, limit)
}

// Points returns the user's balance and a page of ledger history.
func (s *UserService) Points(ctx context.Context, userID string, offset, limit int) (PointsSummary, error) {
	balance, err := s.points.Balance(ctx, userID)
	if err != nil {
		return PointsSummary{}, err
	}
	history, total, err := s.points.History(ctx, userID, offset, limit)
	if err != nil {
		return PointsSummary{}, err
	}
	return PointsSummary{Balance: balance, Transactions: history, Total: total}, nil
}

// AdjustPoints applies an administrative credit or debit. Keys are scoped to
// the user: the same key and amount applied twice changes the balance once,
// while reusing a key with a different amount returns ErrKeyReused.
func (s *UserService) AdjustPoints(ctx context.Context, userID string, delta int, key string) (int, error) {
	key = strings.TrimSpace(key)
	if delta == 0 {
		return 0, fmt.Errorf("%w: amount must not be zero", ErrInvalidAdjustment)
	}
	if key == "" {
		return 0, fmt.Errorf("%w: idempotency key is required", ErrInvalidAdjustment)
	}

	balance, err := s.points.Adjust(ctx, userID, delta, store.PointsEntry{
		Reason:         types.PointsAdminAdjustment,
		IdempotencyKey: fmt.Sprintf("admin:%s:%s", userID, key),
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return 0, ErrUserNotFound
		case errors.Is(err, store.ErrInsufficientPoints):
			return 0, fmt.Errorf("%w: balance cannot go below zero", ErrInvalidAdjustment)
		case errors.Is(err, store.ErrConflict):
			return 0, ErrKeyReused
		}
		return 0, err
	}
	return balance, nil
}

// NormalizeEmail lowercases and trims an address for lookups and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
