// Package memory wires the semantic cache, knowledge retrieval and maintenance
// services over one store and one embedding provider.
package memory

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/ai/cache"
	"github.com/hrygo/mnemo/ai/core/embedding"
	"github.com/hrygo/mnemo/ai/memory/knowledge"
	"github.com/hrygo/mnemo/ai/memory/maintenance"
	"github.com/hrygo/mnemo/ai/metrics"
	"github.com/hrygo/mnemo/ai/observability/logging"
	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/store"
	"github.com/hrygo/mnemo/store/db"
)

// CacheService answers repeated questions from stored responses.
// Consumers: server API, chat pipelines.
type CacheService interface {
	Lookup(ctx context.Context, question, ownerID, scope string) cache.LookupResult
	Store(ctx context.Context, question, response, ownerID, scope, provenance string) (string, error)
	Invalidate(ctx context.Context, id, ownerID string) (bool, error)
	Clear(ctx context.Context, ownerID string) (int64, error)
	Stats() cache.Stats
}

// KnowledgeService indexes text and retrieves relevant context.
type KnowledgeService interface {
	Index(ctx context.Context, req knowledge.IndexRequest) (knowledge.IndexResult, error)
	Retrieve(ctx context.Context, query, ownerID string, opts knowledge.RetrieveOptions) knowledge.RetrieveResult
}

// Maintainer prunes expired and old records.
type Maintainer interface {
	PruneExpired(ctx context.Context) (int64, error)
	PruneOlderThan(ctx context.Context, ownerID string, days int) (int64, error)
}

var (
	_ CacheService     = (*cache.SemanticCache)(nil)
	_ KnowledgeService = (*knowledge.Service)(nil)
	_ Maintainer       = (*maintenance.Service)(nil)
)

// Runtime owns every memory component for one process.
type Runtime struct {
	Profile   *profile.Profile
	Store     *store.Store
	Embedder  embedding.Provider
	Metrics   *metrics.PrometheusExporter
	Cache     *cache.SemanticCache
	Knowledge *knowledge.Service
	Indexer   *knowledge.Indexer
	Maintain  *maintenance.Service

	scheduler *maintenance.Scheduler
	logger    *logging.Logger
}

// NewRuntime opens the database, migrates it and builds the services.
// The profile must already be validated.
func NewRuntime(ctx context.Context, p *profile.Profile) (*Runtime, error) {
	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	st := store.New(driver, p)
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}

	rt, err := NewRuntimeWithStore(p, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return rt, nil
}

// NewRuntimeWithStore builds the services over an already migrated store.
func NewRuntimeWithStore(p *profile.Profile, st *store.Store) (*Runtime, error) {
	logger := logging.Default().Component("memory")
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())

	embedder, err := newEmbedder(p)
	if err != nil {
		return nil, err
	}
	embedder = embedding.WithMetrics(embedder, exporter)

	tuning := p.Tuning
	semantic := cache.NewSemanticCache(st, embedder, cache.ConfigFromTuning(tuning),
		cache.WithLogger(logger),
		cache.WithRecorder(exporter),
	)
	know := knowledge.NewService(st, embedder, knowledge.ConfigFromTuning(tuning),
		knowledge.WithLogger(logger),
		knowledge.WithRecorder(exporter),
	)
	maintain := maintenance.NewService(semantic, st, logger, exporter)

	rt := &Runtime{
		Profile:   p,
		Store:     st,
		Embedder:  embedder,
		Metrics:   exporter,
		Cache:     semantic,
		Knowledge: know,
		Indexer:   knowledge.NewIndexer(know, knowledge.IndexerConfigFromTuning(tuning), logger, exporter),
		Maintain:  maintain,
		logger:    logger,
	}

	if tuning.Maintain.IntervalDuration > 0 {
		rt.scheduler, err = maintenance.NewScheduler(maintain, maintenance.SchedulerConfig{
			Interval:      tuning.Maintain.IntervalDuration,
			RetentionDays: tuning.Maintain.RetentionDays,
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Info("memory runtime ready",
		"driver", p.Driver,
		"embedding_model", embedder.Model(),
		"dimensions", embedder.Dimensions(),
	)
	return rt, nil
}

func newEmbedder(p *profile.Profile) (embedding.Provider, error) {
	if p.UsesLocalEmbedder() {
		return embedding.NewHashEmbedder(p.EmbeddingDimensions), nil
	}
	provider, err := embedding.NewProvider(&embedding.Config{
		BaseURL:           p.EmbeddingBaseURL,
		APIKey:            p.EmbeddingAPIKey,
		Model:             p.EmbeddingModel,
		Dimensions:        p.EmbeddingDimensions,
		RequestsPerSecond: p.EmbeddingRPS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding provider")
	}
	if err := provider.Validate(); err != nil {
		return nil, err
	}
	return provider, nil
}

// Start launches the background indexer and the maintenance schedule.
func (r *Runtime) Start() {
	r.Indexer.Start()
	if r.scheduler != nil {
		r.scheduler.Start()
	}
}

// Shutdown drains background work and closes the store.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var firstErr error
	if r.scheduler != nil {
		if err := r.scheduler.Shutdown(); err != nil {
			firstErr = err
		}
	}
	if err := r.Indexer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	r.Cache.Wait()
	if err := r.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	r.logger.Info("memory runtime stopped")
	return firstErr
}
