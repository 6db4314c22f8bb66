package services

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (types.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockUserRepo) Update(ctx context.Context, user types.User) (types.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockUserRepo) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	args := m.Called(ctx, offset, limit)
	return args.Get(0).([]types.User), args.Int(1), args.Error(2)
}

type MockPointsRepo struct {
	mock.Mock
}

func (m *MockPointsRepo) Balance(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockPointsRepo) Adjust(ctx context.Context, userID string, delta int, entry store.PointsEntry) (int, error) {
	args := m.Called(ctx, userID, delta, entry)
	return args.Int(0), args.Error(1)
}

func (m *MockPointsRepo) History(ctx context.Context, userID string, offset, limit int) ([]types.PointsTransaction, int, error) {
	args := m.Called(ctx, userID, offset, limit)
	return args.Get(0).([]types.PointsTransaction), args.Int(1), args.Error(2)
}

type MockItemRepo struct {
	mock.Mock
}

func (m *MockItemRepo) List(ctx context.Context, filter types.ItemFilter, offset, limit int) ([]types.Item, int, error) {
	args := m.Called(ctx, filter, offset, limit)
	return args.Get(0).([]types.Item), args.Int(1), args.Error(2)
}

func (m *MockItemRepo) Get(ctx context.Context, id string) (types.Item, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Item), args.Error(1)
}

func (m *MockItemRepo) Create(ctx context.Context, item types.Item) (types.Item, error) {
	args := m.Called(ctx, item)
	return args.Get(0).(types.Item), args.Error(1)
}

func (m *MockItemRepo) Update(ctx context.Context, item types.Item) (types.Item, error) {
	args := m.Called(ctx, item)
	return args.Get(0).(types.Item), args.Error(1)
}

func (m *MockItemRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockItemRepo) CountByStatus(ctx context.Context) (map[types.ItemStatus]int, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[types.ItemStatus]int), args.Error(1)
}

type MockPendingRequests struct {
	mock.Mock
}

func (m *MockPendingRequests) ListPendingForItem(ctx context.Context, itemID string) ([]types.SwapRequest, error) {
	args := m.Called(ctx, itemID)
	return args.Get(0).([]types.SwapRequest), args.Error(1)
}

func (m *MockPendingRequests) UpdateStatus(ctx context.Context, id string, from, to types.SwapStatus) (types.SwapRequest, error) {
	args := m.Called(ctx, id, from, to)
	return args.Get(0).(types.SwapRequest), args.Error(1)
}

type MockImageStore struct {
	mock.Mock
}

func (m *MockImageStore) PutImage(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	args := m.Called(ctx, r, size, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockImageStore) DeleteImage(ctx context.Context, imageURL string) error {
	args := m.Called(ctx, imageURL)
	return args.Error(0)
}

type MockNotificationRepo struct {
	mock.Mock
}

func (m *MockNotificationRepo) Create(ctx context.Context, n types.Notification) (types.Notification, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(types.Notification), args.Error(1)
}

func (m *MockNotificationRepo) ListForUser(ctx context.Context, userID string, unreadOnly bool, offset, limit int) ([]types.Notification, int, error) {
	args := m.Called(ctx, userID, unreadOnly, offset, limit)
	return args.Get(0).([]types.Notification), args.Int(1), args.Error(2)
}

func (m *MockNotificationRepo) MarkRead(ctx context.Context, id, userID string) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}
