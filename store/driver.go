package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate applies the embedded schema. It must be idempotent.
	Migrate(ctx context.Context) error
	GetSystemSetting(ctx context.Context, name string) (string, error)
	UpsertSystemSetting(ctx context.Context, name, value string) error

	// IndexedChunk model related methods.
	CreateIndexedChunk(ctx context.Context, chunk *IndexedChunk) error
	ListIndexedChunks(ctx context.Context, find *FindIndexedChunk) ([]*IndexedChunk, error)
	DeleteIndexedChunks(ctx context.Context, delete *DeleteIndexedChunk) (int64, error)
	ListChunkOwners(ctx context.Context) ([]string, error)

	// CacheEntry model related methods.
	CreateCacheEntry(ctx context.Context, entry *CacheEntry) error
	ListCacheEntries(ctx context.Context, find *FindCacheEntry) ([]*CacheEntry, error)
	UpdateCacheEntryHit(ctx context.Context, update *UpdateCacheEntryHit) error
	DeleteCacheEntries(ctx context.Context, delete *DeleteCacheEntry) (int64, error)

	// OwnerProfile model related methods.
	GetOwnerProfile(ctx context.Context, ownerID string) (*OwnerProfile, error)
	UpsertOwnerProfile(ctx context.Context, profile *OwnerProfile) error
	// CountOwnerVectors counts chunks and cache entries held by an owner.
	CountOwnerVectors(ctx context.Context, ownerID string) (int64, error)
}
