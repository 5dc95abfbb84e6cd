package postgres

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/store"
)

func (d *DB) CreateCacheEntry(ctx context.Context, entry *store.CacheEntry) error {
	stmt := `
		INSERT INTO cache_entry
			(id, owner_id, scope, question_text, question_embedding, response_text, provenance, model, hit_count, created_ts, last_hit_ts, expires_ts)
		VALUES (` + placeholders(12) + `)
	`
	_, err := d.db.ExecContext(ctx, stmt,
		entry.ID,
		entry.OwnerID,
		entry.Scope,
		entry.QuestionText,
		pgvector.NewVector(entry.QuestionVector),
		entry.ResponseText,
		entry.Provenance,
		entry.Model,
		entry.HitCount,
		entry.CreatedTs,
		entry.LastHitTs,
		entry.ExpiresTs,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert cache entry")
	}
	return nil
}

func (d *DB) ListCacheEntries(ctx context.Context, find *store.FindCacheEntry) ([]*store.CacheEntry, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != "" {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, find.ID)
	}
	if find.OwnerID != "" {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, find.OwnerID)
	}
	if find.Scope != nil {
		where, args = append(where, "scope = "+placeholder(len(args)+1)), append(args, *find.Scope)
	}
	if find.ActiveAt > 0 {
		where, args = append(where, "expires_ts > "+placeholder(len(args)+1)), append(args, find.ActiveAt)
	}
	args = append(args, find.Limit)

	query := `
		SELECT id, owner_id, scope, question_text, question_embedding, response_text, provenance, model, hit_count, created_ts, last_hit_ts, expires_ts
		FROM cache_entry
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id ASC
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cache entries")
	}
	defer rows.Close()

	list := []*store.CacheEntry{}
	for rows.Next() {
		var (
			e      store.CacheEntry
			vector pgvector.Vector
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Scope, &e.QuestionText, &vector, &e.ResponseText,
			&e.Provenance, &e.Model, &e.HitCount, &e.CreatedTs, &e.LastHitTs, &e.ExpiresTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan cache entry")
		}
		e.QuestionVector = vector.Slice()
		list = append(list, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate cache entries")
	}
	return list, nil
}

func (d *DB) UpdateCacheEntryHit(ctx context.Context, update *store.UpdateCacheEntryHit) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE cache_entry SET hit_count = hit_count + 1, last_hit_ts = GREATEST(last_hit_ts, $1) WHERE id = $2",
		update.LastHitTs, update.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update cache entry hit")
	}
	return nil
}

func (d *DB) DeleteCacheEntries(ctx context.Context, del *store.DeleteCacheEntry) (int64, error) {
	where, args := []string{"1 = 1"}, []any{}
	if del.ID != "" {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, del.ID)
	}
	if del.OwnerID != "" {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, del.OwnerID)
	}
	if del.ExpiredAt != 0 {
		where, args = append(where, "expires_ts <= "+placeholder(len(args)+1)), append(args, del.ExpiredAt)
	}

	result, err := d.db.ExecContext(ctx, "DELETE FROM cache_entry WHERE "+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete cache entries")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read deleted row count")
	}
	return n, nil
}
