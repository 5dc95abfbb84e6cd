package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// CacheEntry is a cached question/response pair.
// ExpiresTs is always CreatedTs + TTL; an entry with ExpiresTs <= now is never a hit.
type CacheEntry struct {
	ID             string
	OwnerID        string
	Scope          string
	QuestionText   string
	QuestionVector []float32
	ResponseText   string
	Provenance     string
	Model          string
	HitCount       int64
	CreatedTs      int64
	LastHitTs      int64
	ExpiresTs      int64
}

// Expired reports whether the entry is no longer eligible at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresTs <= now.Unix()
}

// Clone returns a deep copy.
func (e *CacheEntry) Clone() *CacheEntry {
	c := *e
	c.QuestionVector = append([]float32(nil), e.QuestionVector...)
	return &c
}

// FindCacheEntry is the scan condition for cache entries, newest first.
type FindCacheEntry struct {
	ID      string
	OwnerID string
	Scope   *string
	// ActiveAt keeps only entries with ExpiresTs > ActiveAt (unix seconds). 0 disables.
	ActiveAt int64
	Limit    int
}

// UpdateCacheEntryHit bumps the hit counter of an entry by one and sets
// its last hit time. The increment happens in the database, so concurrent
// hits are all counted.
type UpdateCacheEntryHit struct {
	ID        string
	LastHitTs int64
}

// DeleteCacheEntry removes entries. At least one condition is required.
type DeleteCacheEntry struct {
	ID      string
	OwnerID string
	// ExpiredAt removes entries with ExpiresTs <= ExpiredAt.
	ExpiredAt int64
	// All removes every entry; it cannot be combined with other conditions.
	All bool
}

// Validate validates the DeleteCacheEntry.
func (d *DeleteCacheEntry) Validate() error {
	if d.All {
		if d.ID != "" || d.OwnerID != "" || d.ExpiredAt != 0 {
			return errors.New("All cannot be combined with other conditions")
		}
		return nil
	}
	if d.ID == "" && d.OwnerID == "" && d.ExpiredAt == 0 {
		return errors.New("delete condition is required")
	}
	return nil
}

// CreateCacheEntry persists a new entry.
func (s *Store) CreateCacheEntry(ctx context.Context, entry *CacheEntry) error {
	if entry.ID == "" || entry.OwnerID == "" {
		return errors.New("id and owner id are required")
	}
	if len(entry.QuestionVector) == 0 {
		return errors.New("question vector cannot be empty")
	}
	if entry.ExpiresTs <= entry.CreatedTs {
		return errors.Errorf("expires_ts %d must be after created_ts %d", entry.ExpiresTs, entry.CreatedTs)
	}

	unlock := s.locks.Lock(entry.OwnerID)
	defer unlock()

	if err := s.checkDimension(ctx, entry.OwnerID, entry.Model, len(entry.QuestionVector)); err != nil {
		return err
	}
	if err := s.driver.CreateCacheEntry(ctx, entry); err != nil {
		return unavailable(err, "create cache entry")
	}
	return nil
}

// ListCacheEntries returns entries matching find, newest first.
func (s *Store) ListCacheEntries(ctx context.Context, find *FindCacheEntry) ([]*CacheEntry, error) {
	if find.Limit <= 0 {
		find.Limit = 500
	}
	list, err := s.driver.ListCacheEntries(ctx, find)
	if err != nil {
		return nil, unavailable(err, "list cache entries")
	}
	return list, nil
}

// GetCacheEntry returns the entry with id, or nil when absent.
func (s *Store) GetCacheEntry(ctx context.Context, id string) (*CacheEntry, error) {
	list, err := s.ListCacheEntries(ctx, &FindCacheEntry{ID: id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateCacheEntryHit records a hit.
func (s *Store) UpdateCacheEntryHit(ctx context.Context, update *UpdateCacheEntryHit) error {
	if err := s.driver.UpdateCacheEntryHit(ctx, update); err != nil {
		return unavailable(err, "update cache entry hit")
	}
	return nil
}

// DeleteCacheEntries removes entries and returns the number deleted.
func (s *Store) DeleteCacheEntries(ctx context.Context, del *DeleteCacheEntry) (int64, error) {
	if err := del.Validate(); err != nil {
		return 0, err
	}
	if del.OwnerID != "" {
		unlock := s.locks.Lock(del.OwnerID)
		defer unlock()
	}
	n, err := s.driver.DeleteCacheEntries(ctx, del)
	if err != nil {
		return 0, unavailable(err, "delete cache entries")
	}
	return n, nil
}
