package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rewear/apiserver/types"
)

// PointsEntry describes why a balance changes. IdempotencyKey must be unique
// per logical change; replaying a key does not apply the change twice.
type PointsEntry struct {
	Reason         types.PointsReason
	IdempotencyKey string
	SwapRequestID  string
}

// PointsRepository owns user balances and the points ledger.
type PointsRepository struct {
	db *sql.DB
}

func NewPointsRepository(db *sql.DB) *PointsRepository {
	return &PointsRepository{db: db}
}

func (r *PointsRepository) Balance(ctx context.Context, userID string) (int, error) {
	var points int
	err := r.db.QueryRowContext(ctx, `SELECT points FROM users WHERE id = $1`, userID).Scan(&points)
	if err != nil {
		return 0, mapError(err)
	}
	return points, nil
}

// Adjust applies delta to the user's balance and records a ledger row in one
// transaction. The update is conditional on the resulting balance being
// non-negative; otherwise ErrInsufficientPoints is returned and nothing is
// written. A replayed idempotency key returns the current balance unchanged,
// or ErrConflict when the key was used for a different user or amount.
func (r *PointsRepository) Adjust(ctx context.Context, userID string, delta int, entry PointsEntry) (int, error) {
	if entry.IdempotencyKey == "" {
		return 0, errors.New("idempotency key is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	balance, err := applyAdjustment(ctx, tx, userID, delta, entry)
	switch {
	case errors.Is(err, errReplayed):
		_ = tx.Rollback()
		return r.replayed(ctx, userID, delta, entry.IdempotencyKey)
	case errors.Is(err, ErrInsufficientPoints):
		_ = tx.Rollback()
		if _, balErr := r.Balance(ctx, userID); balErr != nil {
			return 0, balErr
		}
		return 0, ErrInsufficientPoints
	case err != nil:
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// errReplayed marks an idempotency key that is already in the ledger.
var errReplayed = errors.New("idempotency key already applied")

// applyAdjustment writes the ledger row and the conditional balance update
// inside tx.
func applyAdjustment(ctx context.Context, tx *sql.Tx, userID string, delta int, entry PointsEntry) (int, error) {
	const insertQuery = `
		INSERT INTO points_transactions (user_id, amount, reason, idempotency_key, swap_request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`
	var txID int64
	err := tx.QueryRowContext(
		ctx,
		insertQuery,
		userID,
		delta,
		entry.Reason,
		entry.IdempotencyKey,
		nullString(entry.SwapRequestID),
		time.Now().UTC(),
	).Scan(&txID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errReplayed
	}
	if err != nil {
		return 0, mapError(err)
	}

	const updateQuery = `
		UPDATE users
		SET points = points + $1, updated_at = $2
		WHERE id = $3 AND points + $1 >= 0
		RETURNING points`
	var balance int
	err = tx.QueryRowContext(ctx, updateQuery, delta, time.Now().UTC(), userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInsufficientPoints
	}
	if err != nil {
		return 0, mapError(err)
	}
	return balance, nil
}

// replayed accepts a reused key only if it describes the same change.
func (r *PointsRepository) replayed(ctx context.Context, userID string, delta int, key string) (int, error) {
	var ownerID string
	var amount int
	err := r.db.QueryRowContext(ctx, `SELECT user_id, amount FROM points_transactions WHERE idempotency_key = $1`, key).
		Scan(&ownerID, &amount)
	if err != nil {
		return 0, mapError(err)
	}
	if ownerID != userID || amount != delta {
		return 0, ErrConflict
	}
	return r.Balance(ctx, userID)
}

// History returns the user's ledger rows, newest first.
func (r *PointsRepository) History(ctx context.Context, userID string, offset, limit int) ([]types.PointsTransaction, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM points_transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	const query = `
		SELECT id, user_id, amount, reason, idempotency_key, swap_request_id, created_at
		FROM points_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	txs := make([]types.PointsTransaction, 0, limit)
	for rows.Next() {
		var t types.PointsTransaction
		var swapID sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &t.IdempotencyKey, &swapID, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		t.SwapRequestID = swapID.String
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}
