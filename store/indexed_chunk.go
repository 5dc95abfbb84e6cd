package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// SourceKind is the origin of an indexed chunk.
type SourceKind string

const (
	SourceConversationTurn SourceKind = "conversation_turn"
	SourceLearnedFact      SourceKind = "learned_fact"
	SourceDocument         SourceKind = "document"
)

// Valid reports whether k is a known kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceConversationTurn, SourceLearnedFact, SourceDocument:
		return true
	}
	return false
}

// IndexedChunk is a unit of durable knowledge. Chunks are never mutated.
type IndexedChunk struct {
	ID          string
	OwnerID     string
	SourceKind  SourceKind
	SourceRef   string
	SourceLabel string
	Text        string
	Summary     string
	Vector      []float32
	Model       string
	Importance  float64
	CreatedTs   int64
	IndexedTs   int64
}

// IndexedAt returns IndexedTs as a time.
func (c *IndexedChunk) IndexedAt() time.Time {
	return time.Unix(c.IndexedTs, 0)
}

// FindIndexedChunk is the scan condition. Results are newest-first by IndexedTs.
type FindIndexedChunk struct {
	OwnerID string
	Kinds   []SourceKind // empty means all kinds
	Limit   int
}

// Validate validates the FindIndexedChunk.
func (f *FindIndexedChunk) Validate() error {
	if f.OwnerID == "" {
		return errors.New("owner id is required")
	}
	if f.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", f.Limit)
	}
	if f.Limit == 0 {
		f.Limit = 1000
	}
	for _, k := range f.Kinds {
		if !k.Valid() {
			return errors.Errorf("invalid source kind: %q", k)
		}
	}
	return nil
}

// DeleteIndexedChunk is the prune condition.
type DeleteIndexedChunk struct {
	OwnerID string
	// IndexedBefore deletes chunks with IndexedTs strictly below it (unix seconds).
	IndexedBefore int64
	// Kind restricts the prune when set.
	Kind SourceKind
}

// Validate validates the DeleteIndexedChunk.
func (d *DeleteIndexedChunk) Validate() error {
	if d.OwnerID == "" {
		return errors.New("owner id is required")
	}
	if d.IndexedBefore <= 0 {
		return errors.Errorf("invalid cutoff: %d", d.IndexedBefore)
	}
	if d.Kind != "" && !d.Kind.Valid() {
		return errors.Errorf("invalid source kind: %q", d.Kind)
	}
	return nil
}

// InsertIndexedChunk appends a chunk. It fails with ErrDimensionMismatch when
// the vector disagrees with the owner's established dimension.
func (s *Store) InsertIndexedChunk(ctx context.Context, chunk *IndexedChunk) error {
	if chunk.OwnerID == "" {
		return errors.New("owner id is required")
	}
	if !chunk.SourceKind.Valid() {
		return errors.Errorf("invalid source kind: %q", chunk.SourceKind)
	}
	if len(chunk.Vector) == 0 {
		return errors.New("vector cannot be empty")
	}

	unlock := s.locks.Lock(chunk.OwnerID)
	defer unlock()

	if err := s.checkDimension(ctx, chunk.OwnerID, chunk.Model, len(chunk.Vector)); err != nil {
		return err
	}

	now := s.now().Unix()
	if chunk.CreatedTs == 0 {
		chunk.CreatedTs = now
	}
	if chunk.IndexedTs == 0 {
		chunk.IndexedTs = now
	}
	if err := s.driver.CreateIndexedChunk(ctx, chunk); err != nil {
		return unavailable(err, "insert indexed chunk")
	}
	return nil
}

// ListIndexedChunks returns the newest chunks for an owner. It reads the last
// committed state and does not wait for writers.
func (s *Store) ListIndexedChunks(ctx context.Context, find *FindIndexedChunk) ([]*IndexedChunk, error) {
	if err := find.Validate(); err != nil {
		return nil, err
	}
	list, err := s.driver.ListIndexedChunks(ctx, find)
	if err != nil {
		return nil, unavailable(err, "list indexed chunks")
	}
	return list, nil
}

// DeleteIndexedChunks prunes chunks and returns the number deleted.
func (s *Store) DeleteIndexedChunks(ctx context.Context, del *DeleteIndexedChunk) (int64, error) {
	if err := del.Validate(); err != nil {
		return 0, err
	}

	unlock := s.locks.Lock(del.OwnerID)
	defer unlock()

	n, err := s.driver.DeleteIndexedChunks(ctx, del)
	if err != nil {
		return 0, unavailable(err, "delete indexed chunks")
	}
	return n, nil
}

// ListChunkOwners returns every owner that has at least one chunk.
func (s *Store) ListChunkOwners(ctx context.Context) ([]string, error) {
	owners, err := s.driver.ListChunkOwners(ctx)
	if err != nil {
		return nil, unavailable(err, "list chunk owners")
	}
	return owners, nil
}
