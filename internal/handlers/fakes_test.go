package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/internal/storage"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

const testSecret = "test-secret"

// memDB backs every repository the handlers reach through services.
type memDB struct {
	mu            sync.Mutex
	seq           int
	users         map[string]types.User
	items         map[string]types.Item
	swaps         map[string]types.SwapRequest
	notifications map[string]types.Notification
	ledger        []types.PointsTransaction
	keys          map[string]bool
	images        map[string][]byte
}

func newMemDB() *memDB {
	return &memDB{
		users:         make(map[string]types.User),
		items:         make(map[string]types.Item),
		swaps:         make(map[string]types.SwapRequest),
		notifications: make(map[string]types.Notification),
		keys:          make(map[string]bool),
		images:        make(map[string][]byte),
	}
}

func (db *memDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

type memUsers struct{ db *memDB }

func (r memUsers) GetByID(_ context.Context, id string) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r memUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == email {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r memUsers) Create(_ context.Context, user types.User) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = r.db.nextID("user")
	}
	user.CreatedAt = time.Now()
	r.db.users[user.ID] = user
	return user, nil
}

func (r memUsers) Update(_ context.Context, user types.User) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	current, ok := r.db.users[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	current.Name = user.Name
	current.AvatarURL = user.AvatarURL
	r.db.users[user.ID] = current
	return current, nil
}

func (r memUsers) List(_ context.Context, offset, limit int) ([]types.User, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	all := make([]types.User, 0, len(r.db.users))
	for _, u := range r.db.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, offset, limit), len(all), nil
}

type memPoints struct{ db *memDB }

func (r memPoints) Balance(_ context.Context, userID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return u.Points, nil
}

func (r memPoints) Adjust(_ context.Context, userID string, delta int, entry store.PointsEntry) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if r.db.keys[entry.IdempotencyKey] {
		for _, tx := range r.db.ledger {
			if tx.IdempotencyKey == entry.IdempotencyKey && (tx.UserID != userID || tx.Amount != delta) {
				return 0, store.ErrConflict
			}
		}
		return u.Points, nil
	}
	if u.Points+delta < 0 {
		return 0, store.ErrInsufficientPoints
	}
	u.Points += delta
	r.db.users[userID] = u
	r.db.keys[entry.IdempotencyKey] = true
	r.db.ledger = append(r.db.ledger, types.PointsTransaction{
		ID:             int64(len(r.db.ledger) + 1),
		UserID:         userID,
		Amount:         delta,
		Reason:         entry.Reason,
		IdempotencyKey: entry.IdempotencyKey,
		SwapRequestID:  entry.SwapRequestID,
	})
	return u.Points, nil
}

func (r memPoints) History(_ context.Context, userID string, offset, limit int) ([]types.PointsTransaction, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var mine []types.PointsTransaction
	for i := len(r.db.ledger) - 1; i >= 0; i-- {
		if r.db.ledger[i].UserID == userID {
			mine = append(mine, r.db.ledger[i])
		}
	}
	return page(mine, offset, limit), len(mine), nil
}

type memItems struct{ db *memDB }

func (r memItems) List(_ context.Context, filter types.ItemFilter, offset, limit int) ([]types.Item, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []types.Item
	for _, it := range r.db.items {
		if filter.Category != "" && it.Category != filter.Category {
			continue
		}
		if filter.Status != "" && it.Status != filter.Status {
			continue
		}
		if filter.UploaderID != "" && it.UploaderID != filter.UploaderID {
			continue
		}
		if filter.Size != "" && it.Size != filter.Size {
			continue
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(it.Title), strings.ToLower(filter.Query)) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, offset, limit), len(out), nil
}

func (r memItems) Get(_ context.Context, id string) (types.Item, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	it, ok := r.db.items[id]
	if !ok {
		return types.Item{}, store.ErrNotFound
	}
	return it, nil
}

func (r memItems) Create(_ context.Context, item types.Item) (types.Item, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if item.ID == "" {
		item.ID = r.db.nextID("item")
	}
	r.db.items[item.ID] = item
	return item, nil
}

func (r memItems) Update(_ context.Context, item types.Item) (types.Item, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	current, ok := r.db.items[item.ID]
	if !ok {
		return types.Item{}, store.ErrNotFound
	}
	if current.Status != types.ItemAvailable {
		return types.Item{}, store.ErrConflict
	}
	item.Status = current.Status
	r.db.items[item.ID] = item
	return item, nil
}

func (r memItems) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	current, ok := r.db.items[id]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != types.ItemAvailable {
		return store.ErrConflict
	}
	delete(r.db.items, id)
	return nil
}

func (r memItems) CountByStatus(_ context.Context) (map[types.ItemStatus]int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	counts := make(map[types.ItemStatus]int)
	for _, it := range r.db.items {
		counts[it.Status]++
	}
	return counts, nil
}

func (r memItems) SetStatus(_ context.Context, id string, from, to types.ItemStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	current, ok := r.db.items[id]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != from {
		return store.ErrConflict
	}
	current.Status = to
	r.db.items[id] = current
	return nil
}

type memSwaps struct{ db *memDB }

func (r memSwaps) Get(_ context.Context, id string) (types.SwapRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req, ok := r.db.swaps[id]
	if !ok {
		return types.SwapRequest{}, store.ErrNotFound
	}
	return req, nil
}

func (r memSwaps) Create(_ context.Context, req types.SwapRequest) (types.SwapRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if req.ID == "" {
		req.ID = r.db.nextID("req")
	}
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	r.db.swaps[req.ID] = req
	return req, nil
}

func (r memSwaps) UpdateStatus(_ context.Context, id string, from, to types.SwapStatus) (types.SwapRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req, ok := r.db.swaps[id]
	if !ok {
		return types.SwapRequest{}, store.ErrNotFound
	}
	if req.Status != from {
		return types.SwapRequest{}, store.ErrConflict
	}
	req.Status = to
	req.UpdatedAt = time.Now()
	r.db.swaps[id] = req
	return req, nil
}

func (r memSwaps) ListPendingForItem(_ context.Context, itemID string) ([]types.SwapRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []types.SwapRequest
	for _, req := range r.db.swaps {
		if req.Status == types.SwapPending && req.References(itemID) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memSwaps) ListForUser(_ context.Context, userID string, offset, limit int) ([]types.SwapRequest, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []types.SwapRequest
	for _, req := range r.db.swaps {
		if req.RequesterID == userID || req.UploaderID == userID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, offset, limit), len(out), nil
}

// memLedger exposes the exchange surface over the same tables.
type memLedger struct {
	items  memItems
	swaps  memSwaps
	points memPoints
}

func (l memLedger) GetItem(ctx context.Context, id string) (types.Item, error) {
	return l.items.Get(ctx, id)
}

func (l memLedger) SetItemStatus(ctx context.Context, id string, from, to types.ItemStatus) error {
	return l.items.SetStatus(ctx, id, from, to)
}

func (l memLedger) GetUserPoints(ctx context.Context, userID string) (int, error) {
	return l.points.Balance(ctx, userID)
}

func (l memLedger) AdjustUserPoints(ctx context.Context, userID string, delta int, entry store.PointsEntry) (int, error) {
	return l.points.Adjust(ctx, userID, delta, entry)
}

func (l memLedger) GetSwapRequest(ctx context.Context, id string) (types.SwapRequest, error) {
	return l.swaps.Get(ctx, id)
}

func (l memLedger) CreateSwapRequest(ctx context.Context, req types.SwapRequest) (types.SwapRequest, error) {
	return l.swaps.Create(ctx, req)
}

func (l memLedger) UpdateSwapRequestStatus(ctx context.Context, id string, from, to types.SwapStatus) (types.SwapRequest, error) {
	return l.swaps.UpdateStatus(ctx, id, from, to)
}

func (l memLedger) ListPendingRequestsForItem(ctx context.Context, itemID string) ([]types.SwapRequest, error) {
	return l.swaps.ListPendingForItem(ctx, itemID)
}

type memNotifications struct{ db *memDB }

func (r memNotifications) Create(_ context.Context, n types.Notification) (types.Notification, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n.ID = r.db.nextID("note")
	n.CreatedAt = time.Now()
	r.db.notifications[n.ID] = n
	return n, nil
}

func (r memNotifications) ListForUser(_ context.Context, userID string, unreadOnly bool, offset, limit int) ([]types.Notification, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []types.Notification
	for _, n := range r.db.notifications {
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, offset, limit), len(out), nil
}

func (r memNotifications) MarkRead(_ context.Context, id, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n, ok := r.db.notifications[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	n.Read = true
	r.db.notifications[id] = n
	return nil
}

// memObjects is an ObjectStorage backend for the image routes.
type memObjects struct{ db *memDB }

func (b memObjects) EnsureBucket(context.Context) error { return nil }

func (b memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	b.db.images[key] = data
	return nil
}

func (b memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	data, ok := b.db.images[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b memObjects) Delete(_ context.Context, key string) error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	delete(b.db.images, key)
	return nil
}

func (b memObjects) Bucket() string { return "test" }

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// testAPI is the full router over in-memory repositories.
type testAPI struct {
	t      *testing.T
	db     *memDB
	router chi.Router
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db := newMemDB()
	users := memUsers{db}
	points := memPoints{db}
	items := memItems{db}
	swaps := memSwaps{db}
	images := storage.NewStorage(memObjects{db}, "")

	userService := services.NewUserService(users, points, 100)
	itemService := services.NewItemService(items, swaps, points, images, 0)
	swapService := services.NewSwapService(swaps)
	exchangeService := services.NewExchangeService(memLedger{items: items, swaps: swaps, points: points}, nil)
	notificationService := services.NewNotificationService(memNotifications{db})

	authHandler := NewAuthHandler(userService, testSecret, time.Hour)
	r := chi.NewRouter()
	r.Get("/healthz", Healthz)
	r.Route("/auth", func(r chi.Router) { AuthRouter(r, authHandler) })
	r.Route("/items", func(r chi.Router) {
		ItemRouter(r, itemService, exchangeService, authHandler.Authenticate)
	})
	r.Route("/swap-requests", func(r chi.Router) {
		SwapRouter(r, swapService, exchangeService, authHandler.Authenticate)
	})
	r.Route("/users", func(r chi.Router) {
		UserRouter(r, userService, swapService, itemService, authHandler.Authenticate)
	})
	r.Route("/notifications", func(r chi.Router) {
		NotificationRouter(r, notificationService, authHandler.Authenticate)
	})
	r.Route("/admin", func(r chi.Router) {
		AdminRouter(r, userService, itemService, notificationService, authHandler.Authenticate)
	})
	r.Route("/images", func(r chi.Router) { ImageRouter(r, images) })

	return &testAPI{t: t, db: db, router: r}
}

// addUser stores a user with the password "secret123" and returns a token
// for it.
func (a *testAPI) addUser(id, email string, points int, role string) string {
	a.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(a.t, err)
	a.db.mu.Lock()
	a.db.users[id] = types.User{ID: id, Name: id, Email: email, Role: role, Points: points, PasswordHash: string(hash)}
	a.db.mu.Unlock()
	token, err := issueToken(id, []byte(testSecret), time.Hour)
	require.NoError(a.t, err)
	return token
}

func (a *testAPI) addItem(id, uploaderID string, value int) {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	a.db.items[id] = types.Item{
		ID:         id,
		Title:      "Item " + id,
		Images:     []string{"/images/items/" + id + ".jpg"},
		Category:   types.CategoryUnisex,
		Size:       "M",
		Condition:  types.ConditionGood,
		Status:     types.ItemAvailable,
		UploaderID: uploaderID,
		PointValue: value,
	}
}

func (a *testAPI) item(id string) types.Item {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	return a.db.items[id]
}

func (a *testAPI) points(userID string) int {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	return a.db.users[userID].Points
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(req, token)
}

func (a *testAPI) send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
