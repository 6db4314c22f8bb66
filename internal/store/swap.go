package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/types"
)

const swapColumns = `id, item_id, requester_id, uploader_id, requester_item_id, type, status, message, created_at, updated_at`

// SwapRepository handles persistence for swap and redemption requests.
// Rows are never deleted.
type SwapRepository struct {
	db *sql.DB
}

func NewSwapRepository(db *sql.DB) *SwapRepository {
	return &SwapRepository{db: db}
}

func scanSwap(row rowScanner) (types.SwapRequest, error) {
	var req types.SwapRequest
	var offered sql.NullString
	if err := row.Scan(
		&req.ID,
		&req.ItemID,
		&req.RequesterID,
		&req.UploaderID,
		&offered,
		&req.Type,
		&req.Status,
		&req.Message,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return types.SwapRequest{}, err
	}
	req.RequesterItemID = offered.String
	return req, nil
}

func (r *SwapRepository) Get(ctx context.Context, id string) (types.SwapRequest, error) {
	query := `SELECT ` + swapColumns + ` FROM swap_requests WHERE id = $1`
	req, err := scanSwap(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return types.SwapRequest{}, mapError(err)
	}
	return req, nil
}

func (r *SwapRepository) Create(ctx context.Context, req types.SwapRequest) (types.SwapRequest, error) {
	return insertSwap(ctx, r.db, req)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSwap(ctx context.Context, ex execer, req types.SwapRequest) (types.SwapRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	const query = `
		INSERT INTO swap_requests (id, item_id, requester_id, uploader_id, requester_item_id, type, status, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := ex.ExecContext(
		ctx,
		query,
		req.ID,
		req.ItemID,
		req.RequesterID,
		req.UploaderID,
		nullString(req.RequesterItemID),
		req.Type,
		req.Status,
		req.Message,
		req.CreatedAt,
		req.UpdatedAt,
	); err != nil {
		return types.SwapRequest{}, mapError(err)
	}
	return req, nil
}

// UpdateStatus moves the request from one status to another only if it is
// currently in from.
func (r *SwapRepository) UpdateStatus(ctx context.Context, id string, from, to types.SwapStatus) (types.SwapRequest, error) {
	query := `
		UPDATE swap_requests
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING ` + swapColumns
	req, err := scanSwap(r.db.QueryRowContext(ctx, query, to, time.Now().UTC(), id, from))
	if err == nil {
		return req, nil
	}
	err = mapError(err)
	if !errors.Is(err, ErrNotFound) {
		return types.SwapRequest{}, err
	}
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return types.SwapRequest{}, getErr
	}
	return types.SwapRequest{}, ErrConflict
}

// ListPendingForItem returns pending requests that target or offer itemID,
// oldest first.
func (r *SwapRepository) ListPendingForItem(ctx context.Context, itemID string) ([]types.SwapRequest, error) {
	query := `
		SELECT ` + swapColumns + `
		FROM swap_requests
		WHERE status = 'pending' AND (item_id = $1 OR requester_item_id = $1)
		ORDER BY created_at, id`
	return r.list(ctx, query, itemID)
}

// ListForUser returns requests where the user is requester or uploader,
// newest first.
func (r *SwapRepository) ListForUser(ctx context.Context, userID string, offset, limit int) ([]types.SwapRequest, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM swap_requests WHERE requester_id = $1 OR uploader_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + swapColumns + `
		FROM swap_requests
		WHERE requester_id = $1 OR uploader_id = $1
		ORDER BY created_at DESC, id
		OFFSET $2 LIMIT $3`
	reqs, err := r.list(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

func (r *SwapRepository) list(ctx context.Context, query string, args ...any) ([]types.SwapRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []types.SwapRequest
	for rows.Next() {
		req, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reqs, nil
}
