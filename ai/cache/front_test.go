package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemo/store"
)

func oneHot(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i%dim] = 1
	return v
}

func frontEntry(id, owner, scope string, vec []float32, created int64) *store.CacheEntry {
	return &store.CacheEntry{
		ID:             id,
		OwnerID:        owner,
		Scope:          scope,
		QuestionVector: vec,
		ResponseText:   "answer " + id,
		CreatedTs:      created,
		ExpiresTs:      created + 3600,
	}
}

func TestFrontCache_CapacityLaw(t *testing.T) {
	f := NewFrontCache(10)
	for i := 0; i < 57; i++ {
		f.Insert(frontEntry(fmt.Sprintf("e%d", i), "o", "s", oneHot(64, i), 100))
		assert.LessOrEqual(t, f.Len(), f.Capacity())
	}
	assert.Equal(t, 10, f.Len())
}

func TestFrontCache_EvictsOldestInsertionNotLeastHit(t *testing.T) {
	f := NewFrontCache(3)
	now := time.Unix(200, 0)
	for i := 0; i < 3; i++ {
		f.Insert(frontEntry(fmt.Sprintf("e%d", i), "o", "s", oneHot(8, i), 100))
	}

	// hitting e0 repeatedly must not protect it
	for range 5 {
		e, _, ok := f.Lookup("o", "s", oneHot(8, 0), 0.9, now)
		require.True(t, ok)
		f.Touch(e.ID, e.HitCount+1, now.Unix())
	}

	f.Insert(frontEntry("e3", "o", "s", oneHot(8, 3), 100))
	_, _, ok := f.Lookup("o", "s", oneHot(8, 0), 0.9, now)
	assert.False(t, ok, "first inserted entry is evicted")
	for i := 1; i <= 3; i++ {
		_, _, ok := f.Lookup("o", "s", oneHot(8, i), 0.9, now)
		assert.True(t, ok, "e%d", i)
	}
}

func TestFrontCache_OverwriteCountsAsInsertion(t *testing.T) {
	f := NewFrontCache(2)
	f.Insert(frontEntry("a", "o", "s", oneHot(4, 0), 100))
	f.Insert(frontEntry("b", "o", "s", oneHot(4, 1), 100))
	f.Insert(frontEntry("a", "o", "s", oneHot(4, 0), 100))
	f.Insert(frontEntry("c", "o", "s", oneHot(4, 2), 100))

	now := time.Unix(150, 0)
	_, _, ok := f.Lookup("o", "s", oneHot(4, 1), 0.9, now)
	assert.False(t, ok, "b is now the oldest insertion")
	_, _, ok = f.Lookup("o", "s", oneHot(4, 0), 0.9, now)
	assert.True(t, ok)
}

func TestFrontCache_Lookup(t *testing.T) {
	now := time.Unix(1000, 0)
	f := NewFrontCache(10)
	f.Insert(frontEntry("exact", "alice", "agent", []float32{1, 0, 0}, 900))
	f.Insert(frontEntry("close", "alice", "agent", []float32{0.9, 0.1, 0}, 950))
	f.Insert(frontEntry("other-scope", "alice", "memo", []float32{1, 0, 0}, 900))
	f.Insert(frontEntry("other-owner", "bob", "agent", []float32{1, 0, 0}, 900))
	expired := frontEntry("expired", "carol", "agent", []float32{1, 0, 0}, 0)
	expired.ExpiresTs = 1000
	f.Insert(expired)

	tests := []struct {
		name   string
		owner  string
		scope  string
		vec    []float32
		wantID string
	}{
		{"highest similarity wins", "alice", "agent", []float32{1, 0, 0}, "exact"},
		{"scope is honored", "alice", "memo", []float32{1, 0, 0}, "other-scope"},
		{"owner is honored", "bob", "agent", []float32{1, 0, 0}, "other-owner"},
		{"expired at deadline is never a hit", "carol", "agent", []float32{1, 0, 0}, ""},
		{"below threshold", "alice", "agent", []float32{0, 0, 1}, ""},
		{"unknown scope", "alice", "nope", []float32{1, 0, 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, sim, ok := f.Lookup(tt.owner, tt.scope, tt.vec, 0.92, now)
			if tt.wantID == "" {
				assert.False(t, ok)
				assert.Nil(t, e)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantID, e.ID)
			assert.GreaterOrEqual(t, sim, 0.92)
		})
	}
}

func TestFrontCache_ReturnsCopies(t *testing.T) {
	f := NewFrontCache(4)
	orig := frontEntry("a", "o", "s", []float32{1, 0}, 100)
	f.Insert(orig)
	orig.QuestionVector[0] = 0
	orig.ResponseText = "mutated"

	e, _, ok := f.Lookup("o", "s", []float32{1, 0}, 0.9, time.Unix(100, 0))
	require.True(t, ok)
	assert.Equal(t, "answer a", e.ResponseText)

	e.ResponseText = "changed"
	again, _, _ := f.Lookup("o", "s", []float32{1, 0}, 0.9, time.Unix(100, 0))
	assert.Equal(t, "answer a", again.ResponseText)
}

func TestFrontCache_RemoveOps(t *testing.T) {
	f := NewFrontCache(10)
	f.Insert(frontEntry("a1", "alice", "s", oneHot(4, 0), 100))
	f.Insert(frontEntry("a2", "alice", "s", oneHot(4, 1), 100))
	f.Insert(frontEntry("b1", "bob", "s", oneHot(4, 0), 100))
	old := frontEntry("b2", "bob", "s", oneHot(4, 2), 0)
	old.ExpiresTs = 50
	f.Insert(old)

	assert.True(t, f.Remove("a1"))
	assert.False(t, f.Remove("a1"))
	assert.Equal(t, 1, f.RemoveExpired(time.Unix(60, 0)))
	assert.Equal(t, 1, f.RemoveOwner("alice"))
	assert.Equal(t, 1, f.Len())
	assert.True(t, f.Touch("b1", 3, 70))
	assert.False(t, f.Touch("missing", 1, 1))
	assert.Equal(t, 1, f.Clear())
	assert.Equal(t, 0, f.Len())
}

func TestFrontCache_Concurrent(t *testing.T) {
	f := NewFrontCache(20)
	now := time.Unix(100, 0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("g%d-%d", g, i)
				f.Insert(frontEntry(id, "o", "s", oneHot(32, i), 100))
				f.Lookup("o", "s", oneHot(32, i), 0.9, now)
				if i%7 == 0 {
					f.Remove(id)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, f.Len(), 20)
}
