package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/types"
)

const itemColumns = `id, title, description, images, category, size, condition, tags, status,
	uploader_id, uploader_name, point_value, created_at, updated_at`

// ItemRepository handles persistence for clothing items.
type ItemRepository struct {
	db *sql.DB
}

func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

func scanItem(row rowScanner) (types.Item, error) {
	var item types.Item
	var imagesJSON, tagsJSON []byte
	if err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&imagesJSON,
		&item.Category,
		&item.Size,
		&item.Condition,
		&tagsJSON,
		&item.Status,
		&item.UploaderID,
		&item.UploaderName,
		&item.PointValue,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return types.Item{}, err
	}

	_ = json.Unmarshal(imagesJSON, &item.Images)
	_ = json.Unmarshal(tagsJSON, &item.Tags)
	if item.Images == nil {
		item.Images = []string{}
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return item, nil
}

// filterClause renders the WHERE clause and arguments for a catalog filter.
func filterClause(filter types.ItemFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Category != "" {
		add("category = $%d", string(filter.Category))
	}
	if filter.Size != "" {
		add("size = $%d", filter.Size)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.UploaderID != "" {
		add("uploader_id = $%d", filter.UploaderID)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add(`(title ILIKE $%[1]d OR description ILIKE $%[1]d
			OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(tags) AS t(tag) WHERE t.tag ILIKE $%[1]d))`,
			"%"+escapeLike(q)+"%")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *ItemRepository) List(ctx context.Context, filter types.ItemFilter, offset, limit int) ([]types.Item, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	where, args := filterClause(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM items`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := fmt.Sprintf(`SELECT %s FROM items%s ORDER BY created_at DESC, id OFFSET $%d LIMIT $%d`,
		itemColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, listQuery, append(args, offset, limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]types.Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *ItemRepository) Get(ctx context.Context, id string) (types.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	item, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return types.Item{}, mapError(err)
	}
	return item, nil
}

func (r *ItemRepository) Create(ctx context.Context, item types.Item) (types.Item, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = types.ItemAvailable
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	imagesJSON, err := json.Marshal(nonNil(item.Images))
	if err != nil {
		return types.Item{}, err
	}
	tagsJSON, err := json.Marshal(nonNil(item.Tags))
	if err != nil {
		return types.Item{}, err
	}

	const query = `
		INSERT INTO items (id, title, description, images, category, size, condition, tags, status,
			uploader_id, uploader_name, point_value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		item.ID,
		item.Title,
		item.Description,
		imagesJSON,
		item.Category,
		item.Size,
		item.Condition,
		tagsJSON,
		item.Status,
		item.UploaderID,
		item.UploaderName,
		item.PointValue,
		item.CreatedAt,
		item.UpdatedAt,
	); err != nil {
		return types.Item{}, mapError(err)
	}
	return item, nil
}

// Update rewrites the listing fields of an available item. Status, owner and
// creation time are never changed here.
func (r *ItemRepository) Update(ctx context.Context, item types.Item) (types.Item, error) {
	item.UpdatedAt = time.Now().UTC()

	imagesJSON, err := json.Marshal(nonNil(item.Images))
	if err != nil {
		return types.Item{}, err
	}
	tagsJSON, err := json.Marshal(nonNil(item.Tags))
	if err != nil {
		return types.Item{}, err
	}

	const query = `
		UPDATE items
		SET title = $1,
			description = $2,
			images = $3,
			category = $4,
			size = $5,
			condition = $6,
			tags = $7,
			point_value = $8,
			updated_at = $9
		WHERE id = $10 AND status = 'available'`
	result, err := r.db.ExecContext(
		ctx,
		query,
		item.Title,
		item.Description,
		imagesJSON,
		item.Category,
		item.Size,
		item.Condition,
		tagsJSON,
		item.PointValue,
		item.UpdatedAt,
		item.ID,
	)
	if err != nil {
		return types.Item{}, err
	}
	if err := r.checkAffected(ctx, result, item.ID); err != nil {
		return types.Item{}, err
	}
	return r.Get(ctx, item.ID)
}

// Delete removes an available item.
func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM items WHERE id = $1 AND status = 'available'`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, result, id)
}

// SetStatus moves the item from one status to another only if it is
// currently in from. It returns ErrConflict when the status differs and
// ErrNotFound when the item does not exist.
func (r *ItemRepository) SetStatus(ctx context.Context, id string, from, to types.ItemStatus) error {
	const query = `UPDATE items SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, result, id)
}

// CountByStatus returns the number of items per status.
func (r *ItemRepository) CountByStatus(ctx context.Context) (map[types.ItemStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.ItemStatus]int)
	for rows.Next() {
		var status types.ItemStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// checkAffected distinguishes a missing row from a failed status guard.
func (r *ItemRepository) checkAffected(ctx context.Context, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
