package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/mindgraph/store"
)

// CreateMemory creates a new memory.
func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	if create.UID == "" {
		create.UID = uuid.NewString()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	if create.Type == "" {
		create.Type = "chat"
	}
	keywords, err := json.Marshal(create.Keywords)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode keywords")
	}

	stmt := `INSERT INTO memory (uid, user_id, content, type, summary, keywords, created_ts)
		VALUES (` + placeholders(7) + `)
		RETURNING id`

	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.UserID,
		create.Content,
		create.Type,
		create.Summary,
		string(keywords),
		create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create memory")
	}

	return create, nil
}

// ListMemories lists memories matching the find conditions.
func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Type != nil {
		where, args = append(where, "type = "+placeholder(len(args)+1)), append(args, *find.Type)
	}
	if find.CreatedAfter > 0 {
		where, args = append(where, "created_ts > "+placeholder(len(args)+1)), append(args, find.CreatedAfter)
	}

	query := `SELECT id, uid, user_id, content, type, summary, keywords, created_ts
		FROM memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
		if find.Offset > 0 {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memories")
	}
	defer rows.Close()

	list := []*store.Memory{}
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, memory)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// UpdateMemory back-fills derived fields on a memory. Content is immutable.
func (d *DB) UpdateMemory(ctx context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	set, args := []string{}, []any{}

	if update.Summary != nil {
		set, args = append(set, "summary = "+placeholder(len(args)+1)), append(args, *update.Summary)
	}
	if update.Keywords != nil {
		keywords, err := json.Marshal(update.Keywords)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode keywords")
		}
		set, args = append(set, "keywords = "+placeholder(len(args)+1)), append(args, string(keywords))
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE memory SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, uid, user_id, content, type, summary, keywords, created_ts`

	memory, err := scanMemory(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, errors.Wrap(err, "failed to update memory")
	}
	return memory, nil
}

// DeleteMemory deletes memories matching the conditions. Refuses to run
// without any condition.
func (d *DB) DeleteMemory(ctx context.Context, delete *store.DeleteMemory) error {
	where, args := []string{}, []any{}

	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *delete.UserID)
	}
	if len(where) == 0 {
		return errors.New("delete requires at least one condition")
	}

	if _, err := d.db.ExecContext(ctx, `DELETE FROM memory WHERE `+strings.Join(where, " AND "), args...); err != nil {
		return errors.Wrap(err, "failed to delete memory")
	}
	return nil
}

func (d *DB) CountMemoriesCreatedAfter(ctx context.Context, userID int32, createdTs int64) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory WHERE user_id = $1 AND created_ts > $2`,
		userID, createdTs,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count memories")
	}
	return count, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*store.Memory, error) {
	var memory store.Memory
	var keywords []byte
	if err := row.Scan(
		&memory.ID,
		&memory.UID,
		&memory.UserID,
		&memory.Content,
		&memory.Type,
		&memory.Summary,
		&keywords,
		&memory.CreatedTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, errors.Wrap(err, "failed to scan memory")
	}
	if err := decodeKeywords(keywords, &memory); err != nil {
		return nil, err
	}
	return &memory, nil
}

func decodeKeywords(raw []byte, memory *store.Memory) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &memory.Keywords); err != nil {
		return errors.Wrap(err, "failed to decode keywords")
	}
	return nil
}
