package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	p := &profile.Profile{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")}
	driver, err := NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(context.Background()))
	return driver.(*DB)
}

func TestFloat32BLOBRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75, 0}
	blob, err := float32ArrayToBLOB(vec)
	require.NoError(t, err)
	assert.Len(t, blob, 16)

	got, err := blobToFloat32Array(blob, 4)
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = blobToFloat32Array(blob, 3)
	assert.Error(t, err)
	_, err = float32ArrayToBLOB(nil)
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	d := newTestDB(t)
	require.NoError(t, d.Migrate(context.Background()))
}

func TestSystemSetting(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	v, err := d.GetSystemSetting(ctx, "schema_version")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, d.UpsertSystemSetting(ctx, "schema_version", "0.1.0"))
	require.NoError(t, d.UpsertSystemSetting(ctx, "schema_version", "0.2.0"))
	v, err = d.GetSystemSetting(ctx, "schema_version")
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", v)
}

func TestIndexedChunkCRUD(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	chunks := []*store.IndexedChunk{
		{ID: "c1", OwnerID: "u1", SourceKind: store.SourceConversationTurn, Text: "a", Vector: []float32{1, 0}, IndexedTs: 100, CreatedTs: 100},
		{ID: "c2", OwnerID: "u1", SourceKind: store.SourceLearnedFact, Text: "b", Vector: []float32{0, 1}, IndexedTs: 200, CreatedTs: 200},
		{ID: "c3", OwnerID: "u1", SourceKind: store.SourceConversationTurn, Text: "c", Vector: []float32{1, 1}, IndexedTs: 300, CreatedTs: 300},
		{ID: "c4", OwnerID: "u2", SourceKind: store.SourceConversationTurn, Text: "d", Vector: []float32{1, 1}, IndexedTs: 400, CreatedTs: 400},
	}
	for _, c := range chunks {
		require.NoError(t, d.CreateIndexedChunk(ctx, c))
	}

	tests := []struct {
		name string
		find *store.FindIndexedChunk
		want []string
	}{
		{"newest first", &store.FindIndexedChunk{OwnerID: "u1", Limit: 10}, []string{"c3", "c2", "c1"}},
		{"limit", &store.FindIndexedChunk{OwnerID: "u1", Limit: 2}, []string{"c3", "c2"}},
		{"kinds", &store.FindIndexedChunk{OwnerID: "u1", Kinds: []store.SourceKind{store.SourceLearnedFact}, Limit: 10}, []string{"c2"}},
		{"owner scoped", &store.FindIndexedChunk{OwnerID: "u2", Limit: 10}, []string{"c4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := d.ListIndexedChunks(ctx, tt.find)
			require.NoError(t, err)
			ids := make([]string, len(list))
			for i, c := range list {
				ids[i] = c.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	list, err := d.ListIndexedChunks(ctx, &store.FindIndexedChunk{OwnerID: "u1", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, list[0].Vector)

	n, err := d.DeleteIndexedChunks(ctx, &store.DeleteIndexedChunk{OwnerID: "u1", IndexedBefore: 250, Kind: store.SourceConversationTurn})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	owners, err := d.ListChunkOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, owners)

	count, err := d.CountOwnerVectors(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCacheEntryCRUD(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	entries := []*store.CacheEntry{
		{ID: "e1", OwnerID: "u1", Scope: "default", QuestionText: "q1", QuestionVector: []float32{1, 0}, ResponseText: "r1", CreatedTs: 100, ExpiresTs: 200},
		{ID: "e2", OwnerID: "u1", Scope: "default", QuestionText: "q2", QuestionVector: []float32{0, 1}, ResponseText: "r2", CreatedTs: 150, ExpiresTs: 1000},
		{ID: "e3", OwnerID: "u1", Scope: "coder", QuestionText: "q3", QuestionVector: []float32{0, 1}, ResponseText: "r3", CreatedTs: 160, ExpiresTs: 1000},
	}
	for _, e := range entries {
		require.NoError(t, d.CreateCacheEntry(ctx, e))
	}

	scope := "default"
	list, err := d.ListCacheEntries(ctx, &store.FindCacheEntry{OwnerID: "u1", Scope: &scope, ActiveAt: 300, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "e2", list[0].ID)

	for range 3 {
		require.NoError(t, d.UpdateCacheEntryHit(ctx, &store.UpdateCacheEntryHit{ID: "e2", LastHitTs: 320}))
	}
	list, err = d.ListCacheEntries(ctx, &store.FindCacheEntry{ID: "e2", Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(3), list[0].HitCount)
	assert.Equal(t, int64(320), list[0].LastHitTs)

	n, err := d.DeleteCacheEntries(ctx, &store.DeleteCacheEntry{ExpiredAt: 300})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = d.DeleteCacheEntries(ctx, &store.DeleteCacheEntry{ID: "missing"})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = d.DeleteCacheEntries(ctx, &store.DeleteCacheEntry{All: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOwnerProfile(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	p, err := d.GetOwnerProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, d.UpsertOwnerProfile(ctx, &store.OwnerProfile{OwnerID: "u1", Version: 1, EmbeddingModel: "m", Dimension: 3, UpdatedTs: 10}))
	require.NoError(t, d.UpsertOwnerProfile(ctx, &store.OwnerProfile{OwnerID: "u1", Version: 1, EmbeddingModel: "m2", Dimension: 4, UpdatedTs: 20}))

	p, err = d.GetOwnerProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 4, p.Dimension)
	assert.Equal(t, "m2", p.EmbeddingModel)
}
