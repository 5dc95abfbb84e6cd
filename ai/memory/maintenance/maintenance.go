// Package maintenance prunes expired cache entries and old knowledge chunks,
// on demand or on a schedule.
package maintenance

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/ai/metrics"
	"github.com/hrygo/mnemo/ai/observability/logging"
	"github.com/hrygo/mnemo/store"
)

// CachePruner removes expired cache entries. *cache.SemanticCache implements it.
type CachePruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// Service runs the prune operations.
type Service struct {
	cache    CachePruner
	store    *store.Store
	logger   *logging.Logger
	recorder metrics.Recorder
	now      func() time.Time
}

// NewService creates a maintenance service.
func NewService(cache CachePruner, st *store.Store, logger *logging.Logger, recorder metrics.Recorder) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		cache:    cache,
		store:    st,
		logger:   logger.Component("maintenance"),
		recorder: recorder,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// PruneExpired deletes cache entries whose TTL has passed.
func (s *Service) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.cache.PruneExpired(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("expired cache entries pruned", "count", n)
	return n, nil
}

// PruneOlderThan deletes ownerID's chunks indexed more than days ago.
// days == 0 removes every chunk indexed before now.
func (s *Service) PruneOlderThan(ctx context.Context, ownerID string, days int) (int64, error) {
	if ownerID == "" {
		return 0, errors.New("owner id is required")
	}
	if days < 0 {
		return 0, errors.Errorf("days cannot be negative: %d", days)
	}

	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := s.store.DeleteIndexedChunks(ctx, &store.DeleteIndexedChunk{
		OwnerID:       ownerID,
		IndexedBefore: cutoff.Unix(),
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune knowledge chunks")
	}
	s.recorder.RecordPrune("knowledge", n)
	s.logger.Info("knowledge chunks pruned", "owner_id", ownerID, "days", days, "count", n)
	return n, nil
}

// PruneAllOlderThan applies PruneOlderThan to every owner with chunks.
// It keeps going after a failed owner and returns the first error.
func (s *Service) PruneAllOlderThan(ctx context.Context, days int) (int64, error) {
	owners, err := s.store.ListChunkOwners(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list chunk owners")
	}

	var (
		total    int64
		firstErr error
	)
	for _, owner := range owners {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := s.PruneOlderThan(ctx, owner, days)
		if err != nil {
			s.logger.Warn("owner prune failed", "owner_id", owner, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
	}
	return total, firstErr
}
