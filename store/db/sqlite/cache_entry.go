package sqlite

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/store"
)

func (d *DB) CreateCacheEntry(ctx context.Context, entry *store.CacheEntry) error {
	blob, err := float32ArrayToBLOB(entry.QuestionVector)
	if err != nil {
		return errors.Wrap(err, "failed to convert question vector to BLOB")
	}

	stmt := `INSERT INTO cache_entry
		(id, owner_id, scope, question_text, question_embedding, dimension, response_text, provenance, model, hit_count, created_ts, last_hit_ts, expires_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, stmt,
		entry.ID,
		entry.OwnerID,
		entry.Scope,
		entry.QuestionText,
		blob,
		len(entry.QuestionVector),
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
		where, args = append(where, "id = ?"), append(args, find.ID)
	}
	if find.OwnerID != "" {
		where, args = append(where, "owner_id = ?"), append(args, find.OwnerID)
	}
	if find.Scope != nil {
		where, args = append(where, "scope = ?"), append(args, *find.Scope)
	}
	if find.ActiveAt > 0 {
		where, args = append(where, "expires_ts > ?"), append(args, find.ActiveAt)
	}
	args = append(args, find.Limit)

	query := `SELECT id, owner_id, scope, question_text, question_embedding, dimension, response_text, provenance, model, hit_count, created_ts, last_hit_ts, expires_ts
		FROM cache_entry
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id ASC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cache entries")
	}
	defer rows.Close()

	list := []*store.CacheEntry{}
	for rows.Next() {
		var (
			e    store.CacheEntry
			blob []byte
			dim  int
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Scope, &e.QuestionText, &blob, &dim, &e.ResponseText,
			&e.Provenance, &e.Model, &e.HitCount, &e.CreatedTs, &e.LastHitTs, &e.ExpiresTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan cache entry")
		}
		e.QuestionVector, err = blobToFloat32Array(blob, dim)
		if err != nil {
			slog.Warn("skip cache entry with corrupt embedding", "id", e.ID, "error", err)
			continue
		}
		list = append(list, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate cache entries")
	}
	return list, nil
}

func (d *DB) UpdateCacheEntryHit(ctx context.Context, update *store.UpdateCacheEntryHit) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE cache_entry SET hit_count = hit_count + 1, last_hit_ts = MAX(last_hit_ts, ?) WHERE id = ?",
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
		where, args = append(where, "id = ?"), append(args, del.ID)
	}
	if del.OwnerID != "" {
		where, args = append(where, "owner_id = ?"), append(args, del.OwnerID)
	}
	if del.ExpiredAt != 0 {
		where, args = append(where, "expires_ts <= ?"), append(args, del.ExpiredAt)
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
