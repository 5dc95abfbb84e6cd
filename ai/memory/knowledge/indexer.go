package knowledge

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hrygo/mnemo/ai/metrics"
	"github.com/hrygo/mnemo/ai/observability/logging"
	"github.com/hrygo/mnemo/internal/profile"
)

// Indexable is the work an Indexer runs. *Service implements it.
type Indexable interface {
	Index(ctx context.Context, req IndexRequest) (IndexResult, error)
}

// IndexerConfig configures background indexing.
type IndexerConfig struct {
	// Workers bounds concurrent Index calls.
	Workers   int
	QueueSize int
	// MaxAttempts includes the first attempt.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultIndexerConfig returns the default configuration.
func DefaultIndexerConfig() IndexerConfig {
	return IndexerConfig{
		Workers:        2,
		QueueSize:      256,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// IndexerConfigFromTuning maps the tuning file onto an IndexerConfig.
func IndexerConfigFromTuning(t profile.Tuning) IndexerConfig {
	cfg := DefaultIndexerConfig()
	cfg.Workers = t.Indexer.Workers
	cfg.QueueSize = t.Indexer.QueueSize
	cfg.MaxAttempts = t.Indexer.MaxAttempts
	cfg.InitialBackoff = t.Indexer.Backoff
	return cfg
}

// Indexer runs index requests off the request path. A request that indexed
// nothing because every chunk failed is retried with exponential backoff.
// Partial successes are not retried, so chunks are never stored twice.
type Indexer struct {
	target   Indexable
	cfg      IndexerConfig
	queue    chan IndexRequest
	sem      *semaphore.Weighted
	logger   *logging.Logger
	recorder metrics.Recorder

	mu       sync.RWMutex // guards closed against Enqueue
	closed   bool
	stopping chan struct{}
	wg       sync.WaitGroup
	loopDone chan struct{}
	started  sync.Once
}

// NewIndexer creates an indexer. Call Start before enqueueing.
func NewIndexer(target Indexable, cfg IndexerConfig, logger *logging.Logger, recorder metrics.Recorder) *Indexer {
	d := DefaultIndexerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = d.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(d.MaxBackoff, cfg.InitialBackoff)
	}
	if logger == nil {
		logger = logging.Default()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Indexer{
		target:   target,
		cfg:      cfg,
		queue:    make(chan IndexRequest, cfg.QueueSize),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		logger:   logger.Component("indexer"),
		recorder: recorder,
		stopping: make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start launches the dispatch loop. It is safe to call more than once.
func (i *Indexer) Start() {
	i.started.Do(func() { go i.loop() })
}

// Enqueue hands req to the background workers. It returns false when the
// queue is full or the indexer is shutting down; the caller decides whether
// to index inline or drop.
func (i *Indexer) Enqueue(req IndexRequest) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return false
	}
	select {
	case i.queue <- req:
		i.recorder.SetIndexerQueueDepth(len(i.queue))
		return true
	default:
		i.logger.Warn("index queue full, request dropped", "owner_id", req.OwnerID, "source_ref", req.SourceRef)
		return false
	}
}

// Pending returns the number of queued requests.
func (i *Indexer) Pending() int {
	return len(i.queue)
}

// Shutdown stops accepting work and waits for queued requests to finish.
// Retries still waiting on backoff give up once shutdown begins.
func (i *Indexer) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	if !i.closed {
		i.closed = true
		close(i.stopping)
		close(i.queue)
	}
	i.mu.Unlock()
	i.Start() // drain even if never started

	select {
	case <-i.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Indexer) loop() {
	defer close(i.loopDone)
	defer i.wg.Wait()

	for req := range i.queue {
		i.recorder.SetIndexerQueueDepth(len(i.queue))
		// Acquire never fails with a background context
		_ = i.sem.Acquire(context.Background(), 1)
		i.wg.Add(1)
		go func(req IndexRequest) {
			defer i.wg.Done()
			defer i.sem.Release(1)
			i.run(req)
		}(req)
	}
}

func (i *Indexer) run(req IndexRequest) {
	backoff := i.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		res, err := i.target.Index(context.Background(), req)
		switch {
		case err != nil:
			// invalid request, retrying cannot help
			i.logger.Error("index request rejected", "owner_id", req.OwnerID, "source_ref", req.SourceRef, "error", err)
			return
		case res.ChunksIndexed > 0 || res.ChunksSkipped == 0:
			return
		}

		if attempt >= i.cfg.MaxAttempts {
			i.logger.Error("index request failed",
				"owner_id", req.OwnerID,
				"source_ref", req.SourceRef,
				"attempts", attempt,
				"skipped", res.ChunksSkipped,
			)
			return
		}
		i.logger.Warn("index request retrying", "owner_id", req.OwnerID, "attempt", attempt, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-i.stopping:
			i.logger.Warn("index retry abandoned on shutdown", "owner_id", req.OwnerID, "source_ref", req.SourceRef)
			return
		}
		backoff = min(backoff*2, i.cfg.MaxBackoff)
	}
}
