package knowledge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTarget struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int // owner -> attempts that index nothing
	reject   bool
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func newScriptedTarget() *scriptedTarget {
	return &scriptedTarget{calls: map[string]int{}, failures: map[string]int{}}
}

func (s *scriptedTarget) Index(_ context.Context, req IndexRequest) (IndexResult, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.OwnerID]++
	if s.reject {
		return IndexResult{}, errors.New("bad request")
	}
	if s.calls[req.OwnerID] <= s.failures[req.OwnerID] {
		return IndexResult{ChunksSkipped: 1}, nil
	}
	return IndexResult{ChunksIndexed: 1}, nil
}

func (s *scriptedTarget) count(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[owner]
}

func fastConfig() IndexerConfig {
	return IndexerConfig{Workers: 2, QueueSize: 8, MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestIndexer_RunsQueuedRequests(t *testing.T) {
	target := newScriptedTarget()
	target.delay = 5 * time.Millisecond
	ix := NewIndexer(target, fastConfig(), nil, nil)
	ix.Start()

	for _, owner := range []string{"a", "b", "c", "d", "e"} {
		require.True(t, ix.Enqueue(IndexRequest{OwnerID: owner, Text: "x"}))
	}
	require.NoError(t, ix.Shutdown(context.Background()))

	for _, owner := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, 1, target.count(owner), owner)
	}
	assert.LessOrEqual(t, target.peak.Load(), int32(2), "workers bound concurrency")
	assert.False(t, ix.Enqueue(IndexRequest{OwnerID: "late"}), "closed indexer rejects work")
}

func TestIndexer_RetriesTotalFailure(t *testing.T) {
	target := newScriptedTarget()
	target.failures["flaky"] = 2
	target.failures["dead"] = 10
	ix := NewIndexer(target, fastConfig(), nil, nil)
	ix.Start()

	require.True(t, ix.Enqueue(IndexRequest{OwnerID: "flaky"}))
	require.True(t, ix.Enqueue(IndexRequest{OwnerID: "dead"}))

	require.Eventually(t, func() bool {
		return target.count("flaky") == 3 && target.count("dead") == 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, ix.Shutdown(context.Background()))

	assert.Equal(t, 3, target.count("flaky"), "succeeds on the third attempt")
	assert.Equal(t, 3, target.count("dead"), "gives up after MaxAttempts")
}

func TestIndexer_RejectedRequestIsNotRetried(t *testing.T) {
	target := newScriptedTarget()
	target.reject = true
	ix := NewIndexer(target, fastConfig(), nil, nil)
	ix.Start()

	require.True(t, ix.Enqueue(IndexRequest{OwnerID: "o"}))
	require.NoError(t, ix.Shutdown(context.Background()))
	assert.Equal(t, 1, target.count("o"))
}

func TestIndexer_QueueFull(t *testing.T) {
	target := newScriptedTarget()
	ix := NewIndexer(target, IndexerConfig{Workers: 1, QueueSize: 2, MaxAttempts: 1}, nil, nil)

	// not started, so nothing drains the queue
	assert.True(t, ix.Enqueue(IndexRequest{OwnerID: "a"}))
	assert.True(t, ix.Enqueue(IndexRequest{OwnerID: "b"}))
	assert.False(t, ix.Enqueue(IndexRequest{OwnerID: "c"}))
	assert.Equal(t, 2, ix.Pending())

	require.NoError(t, ix.Shutdown(context.Background()), "shutdown drains even when never started")
	assert.Equal(t, 1, target.count("a"))
	assert.Equal(t, 1, target.count("b"))
	assert.Equal(t, 0, target.count("c"))
}

func TestIndexer_ShutdownHonorsContext(t *testing.T) {
	target := newScriptedTarget()
	target.delay = 200 * time.Millisecond
	ix := NewIndexer(target, fastConfig(), nil, nil)
	ix.Start()
	require.True(t, ix.Enqueue(IndexRequest{OwnerID: "slow"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ix.Shutdown(ctx), context.DeadlineExceeded)

	require.NoError(t, ix.Shutdown(context.Background()))
	assert.Equal(t, 1, target.count("slow"))
}
