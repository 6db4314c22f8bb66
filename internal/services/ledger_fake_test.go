package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rewear/apiserver/internal/mq"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

// fakeLedger is an in-memory Ledger with the same conditional-write
// semantics as store.LedgerStore. The *Err hooks inject failures.
type fakeLedger struct {
	mu       sync.Mutex
	items    map[string]types.Item
	points   map[string]int
	keys     map[string]store.PointsEntry
	changes  map[string]keyedChange
	requests map[string]types.SwapRequest
	seq      int

	setItemStatusErr func(id string, from, to types.ItemStatus) error
	adjustErr        func(userID string, entry store.PointsEntry) error
	createRequestErr func(req types.SwapRequest) error
	updateRequestErr func(id string, from, to types.SwapStatus) error
}

type keyedChange struct {
	userID string
	delta  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		items:    map[string]types.Item{},
		points:   map[string]int{},
		keys:     map[string]store.PointsEntry{},
		changes:  map[string]keyedChange{},
		requests: map[string]types.SwapRequest{},
	}
}

func (f *fakeLedger) addUser(id string, points int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[id] = points
}

func (f *fakeLedger) addItem(id, uploaderID string, pointValue int) types.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := types.Item{
		ID:         id,
		Title:      "item " + id,
		Category:   types.CategoryUnisex,
		Size:       "M",
		Condition:  types.ConditionGood,
		Status:     types.ItemAvailable,
		UploaderID: uploaderID,
		PointValue: pointValue,
	}
	f.items[id] = item
	return item
}

func (f *fakeLedger) item(id string) types.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

func (f *fakeLedger) balance(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.points[userID]
}

func (f *fakeLedger) request(id string) types.SwapRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[id]
}

func (f *fakeLedger) requestsOfType(t types.SwapType) []types.SwapRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.SwapRequest
	for _, r := range f.requests {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeLedger) GetItem(_ context.Context, id string) (types.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return types.Item{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeLedger) SetItemStatus(_ context.Context, id string, from, to types.ItemStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setItemStatusErr != nil {
		if err := f.setItemStatusErr(id, from, to); err != nil {
			return err
		}
	}
	item, ok := f.items[id]
	if !ok {
		return store.ErrNotFound
	}
	if item.Status != from {
		return store.ErrConflict
	}
	item.Status = to
	f.items[id] = item
	return nil
}

func (f *fakeLedger) GetUserPoints(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	points, ok := f.points[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return points, nil
}

func (f *fakeLedger) AdjustUserPoints(_ context.Context, userID string, delta int, entry store.PointsEntry) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adjustErr != nil {
		if err := f.adjustErr(userID, entry); err != nil {
			return 0, err
		}
	}
	points, ok := f.points[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if prior, replay := f.changes[entry.IdempotencyKey]; replay {
		if prior != (keyedChange{userID: userID, delta: delta}) {
			return 0, store.ErrConflict
		}
		return points, nil
	}
	if points+delta < 0 {
		return 0, store.ErrInsufficientPoints
	}
	f.keys[entry.IdempotencyKey] = entry
	f.changes[entry.IdempotencyKey] = keyedChange{userID: userID, delta: delta}
	f.points[userID] = points + delta
	return points + delta, nil
}

func (f *fakeLedger) GetSwapRequest(_ context.Context, id string) (types.SwapRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return types.SwapRequest{}, store.ErrNotFound
	}
	return req, nil
}

func (f *fakeLedger) CreateSwapRequest(_ context.Context, req types.SwapRequest) (types.SwapRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createRequestErr != nil {
		if err := f.createRequestErr(req); err != nil {
			return types.SwapRequest{}, err
		}
	}
	if _, exists := f.requests[req.ID]; exists {
		return types.SwapRequest{}, store.ErrDuplicate
	}
	f.seq++
	req.CreatedAt = time.Unix(int64(f.seq), 0).UTC()
	req.UpdatedAt = req.CreatedAt
	f.requests[req.ID] = req
	return req, nil
}

func (f *fakeLedger) UpdateSwapRequestStatus(_ context.Context, id string, from, to types.SwapStatus) (types.SwapRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateRequestErr != nil {
		if err := f.updateRequestErr(id, from, to); err != nil {
			return types.SwapRequest{}, err
		}
	}
	req, ok := f.requests[id]
	if !ok {
		return types.SwapRequest{}, store.ErrNotFound
	}
	if req.Status != from {
		return types.SwapRequest{}, store.ErrConflict
	}
	req.Status = to
	f.requests[id] = req
	return req, nil
}

func (f *fakeLedger) ListPendingRequestsForItem(_ context.Context, itemID string) ([]types.SwapRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.SwapRequest
	for _, r := range f.requests {
		if r.Status == types.SwapPending && (r.ItemID == itemID || r.RequesterItemID == itemID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// txLedger adds the single-transaction redemption of store.LedgerStore.
type txLedger struct {
	*fakeLedger
	redeemCalls int
	// beforeRedeem runs inside the transaction with the ledger locked.
	beforeRedeem func()
}

func (l *txLedger) RedeemItem(_ context.Context, req types.SwapRequest, price int) (types.SwapRequest, int, error) {
	f := l.fakeLedger
	f.mu.Lock()
	defer f.mu.Unlock()
	l.redeemCalls++
	if l.beforeRedeem != nil {
		l.beforeRedeem()
	}

	item, ok := f.items[req.ItemID]
	if !ok {
		return types.SwapRequest{}, 0, store.ErrNotFound
	}
	if item.Status != types.ItemAvailable {
		return types.SwapRequest{}, 0, store.ErrConflict
	}
	if item.PointValue != price {
		return types.SwapRequest{}, 0, store.ErrStale
	}
	points, ok := f.points[req.RequesterID]
	if !ok {
		return types.SwapRequest{}, 0, store.ErrNotFound
	}
	if points < price {
		return types.SwapRequest{}, 0, store.ErrInsufficientPoints
	}

	item.Status = types.ItemRedeemed
	f.items[item.ID] = item
	f.points[req.RequesterID] = points - price
	key := "redeem:" + req.ID
	f.keys[key] = store.PointsEntry{Reason: types.PointsRedemptionDebit, IdempotencyKey: key, SwapRequestID: req.ID}
	f.changes[key] = keyedChange{userID: req.RequesterID, delta: -price}
	f.seq++
	req.CreatedAt = time.Unix(int64(f.seq), 0).UTC()
	req.UpdatedAt = req.CreatedAt
	f.requests[req.ID] = req
	return req, points - price, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.ExchangeEvent
	err    error
}

func (p *recordingPublisher) PublishExchangeEvent(_ context.Context, event mq.ExchangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) eventTypes() []mq.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]mq.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
