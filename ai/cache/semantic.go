// Package cache answers "was a near-identical question already answered?".
//
// Lookups go through three layers:
//  1. the exact-question memo, which skips the embedding call for repeated text;
//  2. the FrontCache, an in-process copy of recently stored or hit entries;
//  3. the durable cache entries in the store, scoped to owner and scope and
//     filtered to unexpired rows.
//
// 语义缓存：精确匹配层 -> 前置缓存 -> 持久化存储。任何依赖失败都退化为 MISS。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/ai/core/embedding"
	"github.com/hrygo/mnemo/ai/memory/degrade"
	"github.com/hrygo/mnemo/ai/memory/similarity"
	"github.com/hrygo/mnemo/ai/metrics"
	"github.com/hrygo/mnemo/ai/observability/logging"
	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/store"
)

const component = "cache"

// Source tells which tier produced a hit.
type Source string

const (
	SourceNone    Source = ""
	SourceFront   Source = "front"
	SourceDurable Source = "durable"
)

// Config configures the semantic cache.
type Config struct {
	// Threshold is the minimum cosine similarity for a hit. It is a
	// near-duplicate threshold, stricter than retrieval matching.
	Threshold float64
	// TTL is the fixed lifespan of an entry. ExpiresTs = CreatedTs + TTL.
	TTL time.Duration
	// FrontCapacity bounds the FrontCache.
	FrontCapacity int
	// ScanLimit bounds the durable candidate set per lookup.
	ScanLimit int
	// MemoSize bounds the exact-question embedding memo. 0 disables it.
	MemoSize int
	// OperationTimeout bounds each embedding call and store read.
	OperationTimeout time.Duration
	// WriteTimeout bounds durable writes, which outlive the caller's context.
	WriteTimeout time.Duration
	// CleanupEvery throttles the background expired-entry cleanup.
	CleanupEvery time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:        0.92,
		TTL:              24 * time.Hour,
		FrontCapacity:    DefaultFrontCapacity,
		ScanLimit:        500,
		MemoSize:         512,
		OperationTimeout: 3 * time.Second,
		WriteTimeout:     5 * time.Second,
		CleanupEvery:     time.Minute,
	}
}

// ConfigFromTuning maps the tuning file onto a Config.
func ConfigFromTuning(t profile.Tuning) Config {
	cfg := DefaultConfig()
	cfg.Threshold = t.Cache.Threshold
	cfg.TTL = t.Cache.TTLDuration
	cfg.FrontCapacity = t.Cache.FrontCapacity
	cfg.ScanLimit = t.Cache.ScanLimit
	cfg.MemoSize = t.EmbedMemo
	cfg.OperationTimeout = t.OperationTimeout
	cfg.WriteTimeout = t.WriteTimeout
	return cfg
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = d.Threshold
	}
	if c.TTL < time.Second {
		c.TTL = d.TTL
	}
	if c.FrontCapacity <= 0 {
		c.FrontCapacity = d.FrontCapacity
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = d.ScanLimit
	}
	if c.MemoSize < 0 {
		c.MemoSize = 0
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = d.CleanupEvery
	}
}

// LookupResult is the outcome of a lookup. Source is empty on a miss.
type LookupResult struct {
	Hit        bool
	EntryID    string
	Response   string
	Similarity float64
	Source     Source
}

// Stats represents cache statistics.
type Stats struct {
	FrontHits   int64
	DurableHits int64
	Misses      int64
	Degraded    int64
	FrontSize   int
}

// Option customizes a SemanticCache.
type Option func(*SemanticCache)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *SemanticCache) { c.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *SemanticCache) { c.recorder = r }
}

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *SemanticCache) { c.now = now }
}

// SemanticCache composes the FrontCache, the store and the similarity engine.
type SemanticCache struct {
	cfg      Config
	store    *store.Store
	embedder embedding.Provider
	front    *FrontCache
	memo     *LRUCache[string, []float32]
	logger   *logging.Logger
	recorder metrics.Recorder
	now      func() time.Time

	cleaning    atomic.Bool
	lastCleanup atomic.Int64
	background  sync.WaitGroup

	frontHits   atomic.Int64
	durableHits atomic.Int64
	misses      atomic.Int64
	degraded    atomic.Int64
}

// NewSemanticCache creates a semantic cache over st.
func NewSemanticCache(st *store.Store, embedder embedding.Provider, cfg Config, opts ...Option) *SemanticCache {
	cfg.normalize()
	c := &SemanticCache{
		cfg:      cfg,
		store:    st,
		embedder: embedder,
		front:    NewFrontCache(cfg.FrontCapacity),
		logger:   logging.Default(),
		recorder: metrics.Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Component(component)
	if cfg.MemoSize > 0 {
		c.memo = NewLRUCache[string, []float32](cfg.MemoSize, cfg.TTL).WithClock(c.now)
	}
	return c
}

// Front exposes the front tier.
func (c *SemanticCache) Front() *FrontCache {
	return c.front
}

// Lookup checks the front tier, then the durable entries. Any embedding or
// store failure, a timeout included, degrades to a miss. Results read after
// ctx is cancelled are discarded.
func (c *SemanticCache) Lookup(ctx context.Context, question, ownerID, scope string) LookupResult {
	start := c.now()
	if ownerID == "" || question == "" {
		return c.miss(start)
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	vector, err := c.embed(opCtx, question)
	if err != nil {
		return c.fallback(ctx, "lookup", err, start)
	}
	if ctx.Err() != nil {
		return c.miss(start)
	}

	now := c.now()
	if entry, sim, ok := c.front.Lookup(ownerID, scope, vector, c.cfg.Threshold, now); ok {
		entry.HitCount++
		entry.LastHitTs = now.Unix()
		c.front.Touch(entry.ID, entry.HitCount, entry.LastHitTs)
		c.recordHit(ctx, entry)
		c.frontHits.Add(1)
		c.recorder.RecordCacheLookup(string(SourceFront), c.now().Sub(start))
		return LookupResult{Hit: true, EntryID: entry.ID, Response: entry.ResponseText, Similarity: sim, Source: SourceFront}
	}

	list, err := c.store.ListCacheEntries(opCtx, &store.FindCacheEntry{
		OwnerID:  ownerID,
		Scope:    &scope,
		ActiveAt: now.Unix(),
		Limit:    c.cfg.ScanLimit,
	})
	if err != nil {
		return c.fallback(ctx, "lookup", err, start)
	}
	if ctx.Err() != nil {
		return c.miss(start)
	}

	candidates := make([]similarity.Candidate[*store.CacheEntry], 0, len(list))
	for _, e := range list {
		// the scan filters by expiry already; re-check against our own clock
		if e.Expired(now) || e.OwnerID != ownerID || e.Scope != scope {
			continue
		}
		candidates = append(candidates, similarity.Candidate[*store.CacheEntry]{
			ID:        e.ID,
			Vector:    e.QuestionVector,
			IndexedAt: time.Unix(e.CreatedTs, 0),
			Payload:   e,
		})
	}
	out := similarity.Search(vector, candidates, similarity.Options{TopK: 1, MinScore: c.cfg.Threshold, Now: now})
	if n := len(out.Mismatched); n > 0 {
		degrade.Report(ctx, c.logger, c.recorder, component, "lookup",
			errors.Wrapf(store.ErrDimensionMismatch, "%d cached entries of owner %s skipped", n, ownerID))
	}
	if len(out.Results) == 0 {
		return c.miss(start)
	}

	best := out.Results[0]
	entry := best.Payload
	entry.HitCount++
	entry.LastHitTs = now.Unix()
	c.recordHit(ctx, entry)
	c.front.Insert(entry)
	c.recorder.SetFrontCacheSize(c.front.Len())
	c.durableHits.Add(1)
	c.recorder.RecordCacheLookup(string(SourceDurable), c.now().Sub(start))
	return LookupResult{Hit: true, EntryID: entry.ID, Response: entry.ResponseText, Similarity: best.RawSimilarity, Source: SourceDurable}
}

// Store embeds question and persists the answer for ownerID within scope.
// An embedding or store failure fails only the store; the caller still has
// its answer. The durable write completes even if ctx is cancelled.
func (c *SemanticCache) Store(ctx context.Context, question, response, ownerID, scope, provenance string) (string, error) {
	if ownerID == "" {
		return "", errors.New("owner id is required")
	}
	if question == "" {
		return "", errors.New("question is required")
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	vector, err := c.embed(opCtx, question)
	if err != nil {
		degrade.Report(ctx, c.logger, c.recorder, component, "store", err)
		c.recorder.RecordCacheStore(false)
		return "", errors.Wrap(err, "failed to embed question")
	}

	now := c.now()
	entry := &store.CacheEntry{
		ID:             shortuuid.New(),
		OwnerID:        ownerID,
		Scope:          scope,
		QuestionText:   question,
		QuestionVector: vector,
		ResponseText:   response,
		Provenance:     provenance,
		Model:          c.embedder.Model(),
		CreatedTs:      now.Unix(),
		ExpiresTs:      now.Add(c.cfg.TTL).Unix(),
	}

	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.WriteTimeout)
	defer cancelWrite()
	if err := c.store.CreateCacheEntry(writeCtx, entry); err != nil {
		degrade.Report(ctx, c.logger, c.recorder, component, "store", err)
		c.recorder.RecordCacheStore(false)
		return "", errors.Wrap(err, "failed to persist cache entry")
	}

	c.front.Insert(entry)
	c.recorder.SetFrontCacheSize(c.front.Len())
	c.recorder.RecordCacheStore(true)
	c.scheduleCleanup()
	return entry.ID, nil
}

// Invalidate deletes one entry. A non-empty ownerID restricts the delete to
// that owner's entries. An unknown id, or one owned by someone else, returns
// false, not an error.
func (c *SemanticCache) Invalidate(ctx context.Context, id, ownerID string) (bool, error) {
	if id == "" {
		return false, nil
	}
	n, err := c.store.DeleteCacheEntries(ctx, &store.DeleteCacheEntry{ID: id, OwnerID: ownerID})
	if err != nil {
		return false, errors.Wrap(err, "failed to invalidate cache entry")
	}
	if n > 0 || ownerID == "" {
		c.front.Remove(id)
		c.recorder.SetFrontCacheSize(c.front.Len())
	}
	return n > 0, nil
}

// Clear deletes every entry of ownerID, or every entry when ownerID is empty.
func (c *SemanticCache) Clear(ctx context.Context, ownerID string) (int64, error) {
	del := &store.DeleteCacheEntry{OwnerID: ownerID}
	if ownerID == "" {
		del = &store.DeleteCacheEntry{All: true}
		c.front.Clear()
	} else {
		c.front.RemoveOwner(ownerID)
	}
	n, err := c.store.DeleteCacheEntries(ctx, del)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clear cache entries")
	}
	c.recorder.SetFrontCacheSize(c.front.Len())
	return n, nil
}

// PruneExpired deletes expired entries from both tiers and returns the
// number of durable rows removed.
func (c *SemanticCache) PruneExpired(ctx context.Context) (int64, error) {
	now := c.now()
	c.lastCleanup.Store(now.Unix())
	c.front.RemoveExpired(now)
	c.recorder.SetFrontCacheSize(c.front.Len())
	if c.memo != nil {
		c.memo.CleanupExpired()
	}

	n, err := c.store.DeleteCacheEntries(ctx, &store.DeleteCacheEntry{ExpiredAt: now.Unix()})
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune expired cache entries")
	}
	c.recorder.RecordPrune("cache", n)
	return n, nil
}

// Stats returns a snapshot of the lookup counters.
func (c *SemanticCache) Stats() Stats {
	return Stats{
		FrontHits:   c.frontHits.Load(),
		DurableHits: c.durableHits.Load(),
		Misses:      c.misses.Load(),
		Degraded:    c.degraded.Load(),
		FrontSize:   c.front.Len(),
	}
}

// Wait blocks until background cleanup finishes.
func (c *SemanticCache) Wait() {
	c.background.Wait()
}

// embed returns the question vector, consulting the exact-question memo first.
func (c *SemanticCache) embed(ctx context.Context, question string) ([]float32, error) {
	key := c.memoKey(question)
	if c.memo != nil {
		if v, ok := c.memo.Get(key); ok {
			return v, nil
		}
	}
	v, err := c.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, embedding.Unavailable(c.embedder.Model(), errors.New("empty vector"))
	}
	if c.memo != nil {
		c.memo.Set(key, v)
	}
	return v, nil
}

func (c *SemanticCache) memoKey(question string) string {
	sum := sha256.Sum256([]byte(c.embedder.Model() + "\x00" + question))
	return hex.EncodeToString(sum[:])
}

// recordHit counts one durable hit. A failure only loses the stats.
func (c *SemanticCache) recordHit(ctx context.Context, entry *store.CacheEntry) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.WriteTimeout)
	defer cancel()
	err := c.store.UpdateCacheEntryHit(writeCtx, &store.UpdateCacheEntryHit{
		ID:        entry.ID,
		LastHitTs: entry.LastHitTs,
	})
	if err != nil {
		degrade.Report(ctx, c.logger, c.recorder, component, "record_hit", err)
	}
}

// scheduleCleanup prunes expired entries in the background, at most once per
// CleanupEvery and never twice at the same time.
func (c *SemanticCache) scheduleCleanup() {
	if c.now().Unix()-c.lastCleanup.Load() < int64(c.cfg.CleanupEvery/time.Second) {
		return
	}
	if !c.cleaning.CompareAndSwap(false, true) {
		return
	}
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		defer c.cleaning.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
		defer cancel()
		if n, err := c.PruneExpired(ctx); err != nil {
			degrade.Report(ctx, c.logger, c.recorder, component, "cleanup", err)
		} else if n > 0 {
			c.logger.Debug("expired cache entries pruned", "count", n)
		}
	}()
}

func (c *SemanticCache) miss(start time.Time) LookupResult {
	c.misses.Add(1)
	c.recorder.RecordCacheLookup("miss", c.now().Sub(start))
	return LookupResult{}
}

func (c *SemanticCache) fallback(ctx context.Context, operation string, err error, start time.Time) LookupResult {
	degrade.Report(ctx, c.logger, c.recorder, component, operation, err)
	c.degraded.Add(1)
	c.misses.Add(1)
	c.recorder.RecordCacheLookup("degraded", c.now().Sub(start))
	return LookupResult{}
}
