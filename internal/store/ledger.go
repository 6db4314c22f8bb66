package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rewear/apiserver/types"
)

// LedgerStore is the narrow data-access surface the exchange workflow runs
// against. Every mutation is a single conditional statement (or a single
// transaction for balance changes) so concurrent callers serialize in
// Postgres.
type LedgerStore struct {
	db     *sql.DB
	items  *ItemRepository
	swaps  *SwapRepository
	points *PointsRepository
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{
		db:     db,
		items:  NewItemRepository(db),
		swaps:  NewSwapRepository(db),
		points: NewPointsRepository(db),
	}
}

func (l *LedgerStore) GetItem(ctx context.Context, id string) (types.Item, error) {
	return l.items.Get(ctx, id)
}

func (l *LedgerStore) SetItemStatus(ctx context.Context, id string, from, to types.ItemStatus) error {
	return l.items.SetStatus(ctx, id, from, to)
}

func (l *LedgerStore) GetUserPoints(ctx context.Context, userID string) (int, error) {
	return l.points.Balance(ctx, userID)
}

func (l *LedgerStore) AdjustUserPoints(ctx context.Context, userID string, delta int, entry PointsEntry) (int, error) {
	return l.points.Adjust(ctx, userID, delta, entry)
}

func (l *LedgerStore) GetSwapRequest(ctx context.Context, id string) (types.SwapRequest, error) {
	return l.swaps.Get(ctx, id)
}

func (l *LedgerStore) CreateSwapRequest(ctx context.Context, req types.SwapRequest) (types.SwapRequest, error) {
	return l.swaps.Create(ctx, req)
}

func (l *LedgerStore) UpdateSwapRequestStatus(ctx context.Context, id string, from, to types.SwapStatus) (types.SwapRequest, error) {
	return l.swaps.UpdateStatus(ctx, id, from, to)
}

func (l *LedgerStore) ListPendingRequestsForItem(ctx context.Context, itemID string) ([]types.SwapRequest, error) {
	return l.swaps.ListPendingForItem(ctx, itemID)
}

// RedeemItem claims an available item for req.RequesterID, debits price and
// records req as the completed redemption, all in one transaction. The item
// row stays locked until commit, so a competing redemption waits and then
// sees the item gone. It returns ErrConflict when the item is not available,
// ErrStale when its point value is no longer price and ErrInsufficientPoints
// when the balance does not cover price. Nothing is written on error.
func (l *LedgerStore) RedeemItem(ctx context.Context, req types.SwapRequest, price int) (types.SwapRequest, int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return types.SwapRequest{}, 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status types.ItemStatus
	var current int
	err = tx.QueryRowContext(ctx, `SELECT status, point_value FROM items WHERE id = $1 FOR UPDATE`, req.ItemID).
		Scan(&status, &current)
	if err != nil {
		return types.SwapRequest{}, 0, mapError(err)
	}
	if status != types.ItemAvailable {
		return types.SwapRequest{}, 0, ErrConflict
	}
	if current != price {
		return types.SwapRequest{}, 0, ErrStale
	}

	const claim = `UPDATE items SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, claim, types.ItemRedeemed, time.Now().UTC(), req.ItemID); err != nil {
		return types.SwapRequest{}, 0, fmt.Errorf("claim item: %w", err)
	}

	balance, err := applyAdjustment(ctx, tx, req.RequesterID, -price, PointsEntry{
		Reason:         types.PointsRedemptionDebit,
		IdempotencyKey: "redeem:" + req.ID,
		SwapRequestID:  req.ID,
	})
	if err != nil {
		if errors.Is(err, errReplayed) {
			return types.SwapRequest{}, 0, ErrDuplicate
		}
		return types.SwapRequest{}, 0, err
	}

	created, err := insertSwap(ctx, tx, req)
	if err != nil {
		return types.SwapRequest{}, 0, err
	}

	if err := tx.Commit(); err != nil {
		return types.SwapRequest{}, 0, err
	}
	return created, balance, nil
}
