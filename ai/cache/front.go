package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/hrygo/mnemo/ai/memory/similarity"
	"github.com/hrygo/mnemo/store"
)

// DefaultFrontCapacity is the front cache size when none is configured.
const DefaultFrontCapacity = 100

// FrontCache is the in-process tier in front of the durable cache entries.
// It holds copies keyed by entry id and evicts in insertion order: the entry
// inserted longest ago goes first, regardless of how often it was hit.
//
// Losing an entry here is always safe; the durable copy is untouched.
type FrontCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = newest insertion
	entries  map[string]*list.Element
}

// NewFrontCache creates a front cache. capacity <= 0 uses DefaultFrontCapacity.
func NewFrontCache(capacity int) *FrontCache {
	if capacity <= 0 {
		capacity = DefaultFrontCapacity
	}
	return &FrontCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Lookup returns the most similar unexpired entry of (ownerID, scope) whose
// cosine similarity to vector is at least threshold.
func (f *FrontCache) Lookup(ownerID, scope string, vector []float32, threshold float64, now time.Time) (*store.CacheEntry, float64, bool) {
	// Entries are replaced, never mutated, so the pointers stay valid after unlock.
	f.mu.Lock()
	candidates := make([]similarity.Candidate[*store.CacheEntry], 0, len(f.entries))
	for el := f.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*store.CacheEntry)
		if e.OwnerID != ownerID || e.Scope != scope || e.Expired(now) {
			continue
		}
		candidates = append(candidates, similarity.Candidate[*store.CacheEntry]{
			ID:        e.ID,
			Vector:    e.QuestionVector,
			IndexedAt: time.Unix(e.CreatedTs, 0),
			Payload:   e,
		})
	}
	f.mu.Unlock()

	out := similarity.Search(vector, candidates, similarity.Options{TopK: 1, MinScore: threshold, Now: now})
	if len(out.Results) == 0 {
		return nil, 0, false
	}
	best := out.Results[0]
	return best.Payload.Clone(), best.RawSimilarity, true
}

// Insert adds or overwrites entry. Overwriting counts as a new insertion.
// When full, the oldest insertion is evicted first.
func (f *FrontCache) Insert(entry *store.CacheEntry) {
	if entry == nil {
		return
	}
	cp := entry.Clone()

	f.mu.Lock()
	defer f.mu.Unlock()

	if el, ok := f.entries[cp.ID]; ok {
		el.Value = cp
		f.order.MoveToFront(el)
		return
	}
	for f.order.Len() >= f.capacity {
		f.removeElement(f.order.Back())
	}
	f.entries[cp.ID] = f.order.PushFront(cp)
}

// Touch records a hit on id without changing its eviction position.
// It returns false when id is not cached.
func (f *FrontCache) Touch(id string, hitCount, lastHitTs int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	el, ok := f.entries[id]
	if !ok {
		return false
	}
	cp := *el.Value.(*store.CacheEntry)
	cp.HitCount = hitCount
	cp.LastHitTs = lastHitTs
	el.Value = &cp
	return true
}

// Remove drops id and reports whether it was present.
func (f *FrontCache) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	el, ok := f.entries[id]
	if !ok {
		return false
	}
	f.removeElement(el)
	return true
}

// RemoveOwner drops every entry of ownerID and returns how many were removed.
func (f *FrontCache) RemoveOwner(ownerID string) int {
	return f.removeWhere(func(e *store.CacheEntry) bool { return e.OwnerID == ownerID })
}

// RemoveExpired drops entries expired at now.
func (f *FrontCache) RemoveExpired(now time.Time) int {
	return f.removeWhere(func(e *store.CacheEntry) bool { return e.Expired(now) })
}

// Clear empties the cache.
func (f *FrontCache) Clear() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.order.Len()
	f.order.Init()
	f.entries = make(map[string]*list.Element, f.capacity)
	return n
}

// Len returns the number of cached copies.
func (f *FrontCache) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order.Len()
}

// Capacity returns the configured bound.
func (f *FrontCache) Capacity() int {
	return f.capacity
}

func (f *FrontCache) removeWhere(match func(*store.CacheEntry) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for el := f.order.Front(); el != nil; {
		next := el.Next()
		if match(el.Value.(*store.CacheEntry)) {
			f.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// removeElement must be called with the lock held.
func (f *FrontCache) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	f.order.Remove(el)
	delete(f.entries, el.Value.(*store.CacheEntry).ID)
}
