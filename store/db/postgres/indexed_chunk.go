package postgres

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/store"
)

func (d *DB) CreateIndexedChunk(ctx context.Context, chunk *store.IndexedChunk) error {
	stmt := `
		INSERT INTO indexed_chunk
			(id, owner_id, source_kind, source_ref, source_label, text, summary, embedding, model, importance, created_ts, indexed_ts)
		VALUES (` + placeholders(12) + `)
	`
	_, err := d.db.ExecContext(ctx, stmt,
		chunk.ID,
		chunk.OwnerID,
		string(chunk.SourceKind),
		chunk.SourceRef,
		chunk.SourceLabel,
		chunk.Text,
		chunk.Summary,
		pgvector.NewVector(chunk.Vector),
		chunk.Model,
		chunk.Importance,
		chunk.CreatedTs,
		chunk.IndexedTs,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert indexed chunk")
	}
	return nil
}

func (d *DB) ListIndexedChunks(ctx context.Context, find *store.FindIndexedChunk) ([]*store.IndexedChunk, error) {
	where, args := []string{"owner_id = " + placeholder(1)}, []any{find.OwnerID}
	if len(find.Kinds) > 0 {
		kinds := make([]string, 0, len(find.Kinds))
		for _, k := range find.Kinds {
			args = append(args, string(k))
			kinds = append(kinds, placeholder(len(args)))
		}
		where = append(where, "source_kind IN ("+strings.Join(kinds, ", ")+")")
	}
	args = append(args, find.Limit)

	query := `
		SELECT id, owner_id, source_kind, source_ref, source_label, text, summary, embedding, model, importance, created_ts, indexed_ts
		FROM indexed_chunk
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY indexed_ts DESC, id ASC
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list indexed chunks")
	}
	defer rows.Close()

	list := []*store.IndexedChunk{}
	for rows.Next() {
		var (
			c      store.IndexedChunk
			kind   string
			vector pgvector.Vector
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &kind, &c.SourceRef, &c.SourceLabel, &c.Text, &c.Summary,
			&vector, &c.Model, &c.Importance, &c.CreatedTs, &c.IndexedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan indexed chunk")
		}
		c.SourceKind = store.SourceKind(kind)
		c.Vector = vector.Slice()
		list = append(list, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate indexed chunks")
	}
	return list, nil
}

func (d *DB) DeleteIndexedChunks(ctx context.Context, del *store.DeleteIndexedChunk) (int64, error) {
	where, args := []string{"owner_id = " + placeholder(1), "indexed_ts < " + placeholder(2)}, []any{del.OwnerID, del.IndexedBefore}
	if del.Kind != "" {
		where, args = append(where, "source_kind = "+placeholder(3)), append(args, string(del.Kind))
	}

	result, err := d.db.ExecContext(ctx, "DELETE FROM indexed_chunk WHERE "+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete indexed chunks")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read deleted row count")
	}
	return n, nil
}

func (d *DB) ListChunkOwners(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT DISTINCT owner_id FROM indexed_chunk ORDER BY owner_id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chunk owners")
	}
	defer rows.Close()

	owners := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan owner id")
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}
