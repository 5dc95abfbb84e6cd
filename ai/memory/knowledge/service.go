// Package knowledge indexes text into durable chunks and retrieves the chunks
// most relevant to a query.
package knowledge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/mnemo/ai/core/embedding"
	"github.com/hrygo/mnemo/ai/memory/chunker"
	"github.com/hrygo/mnemo/ai/memory/degrade"
	"github.com/hrygo/mnemo/ai/memory/similarity"
	"github.com/hrygo/mnemo/ai/metrics"
	"github.com/hrygo/mnemo/ai/observability/logging"
	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/store"
)

const component = "knowledge"

// Config holds retrieval and indexing parameters.
type Config struct {
	TopK     int
	MinScore float64
	// CandidateWindow bounds how many of the newest chunks are scored per query.
	CandidateWindow int
	FreshnessWindow time.Duration
	DecayFloor      float64
	SimilarityShare float64

	MaxWords     int
	OverlapWords int
	// Concurrency bounds parallel chunk embeddings within one Index call.
	Concurrency int

	OperationTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TopK:             5,
		MinScore:         0.6,
		CandidateWindow:  1000,
		FreshnessWindow:  90 * 24 * time.Hour,
		DecayFloor:       similarity.DefaultDecayFloor,
		SimilarityShare:  similarity.DefaultSimilarityShare,
		MaxWords:         200,
		OverlapWords:     30,
		Concurrency:      4,
		OperationTimeout: 3 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// ConfigFromTuning maps the tuning file onto a Config.
func ConfigFromTuning(t profile.Tuning) Config {
	return Config{
		TopK:             t.Retrieval.TopK,
		MinScore:         t.Retrieval.MinScore,
		CandidateWindow:  t.Retrieval.CandidateWindow,
		FreshnessWindow:  time.Duration(t.Retrieval.FreshnessDays * float64(24*time.Hour)),
		DecayFloor:       t.Retrieval.DecayFloor,
		SimilarityShare:  t.Retrieval.SimilarityShare,
		MaxWords:         t.Chunker.MaxWords,
		OverlapWords:     t.Chunker.OverlapWords,
		Concurrency:      t.Indexer.Concurrency,
		OperationTimeout: t.OperationTimeout,
		WriteTimeout:     t.WriteTimeout,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.CandidateWindow <= 0 {
		c.CandidateWindow = d.CandidateWindow
	}
	if c.MaxWords <= 0 {
		c.MaxWords, c.OverlapWords = d.MaxWords, d.OverlapWords
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
}

// IndexRequest describes one block of text to index.
type IndexRequest struct {
	OwnerID     string           `json:"owner_id"`
	SourceRef   string           `json:"source_ref"`
	SourceLabel string           `json:"source_label"`
	Text        string           `json:"text"`
	Role        string           `json:"role"`
	Kind        store.SourceKind `json:"kind"`
	Importance  float64          `json:"importance"`
	// CreatedTs is when the source content was produced. Zero means now.
	CreatedTs int64 `json:"created_ts"`
}

// IndexResult counts indexed chunks and chunks skipped after a failure.
type IndexResult struct {
	ChunksIndexed int `json:"chunks_indexed"`
	ChunksSkipped int `json:"chunks_skipped"`
}

// RetrieveOptions overrides the configured ranking per call. A zero TopK and
// a nil MinScore use the defaults.
type RetrieveOptions struct {
	TopK     int
	MinScore *float64
	Kinds    []store.SourceKind
}

// Source is one retrieved chunk.
type Source struct {
	ChunkID       string           `json:"chunk_id"`
	Kind          store.SourceKind `json:"kind"`
	SourceRef     string           `json:"source_ref"`
	SourceLabel   string           `json:"source_label"`
	Text          string           `json:"text"`
	Summary       string           `json:"summary"`
	RawSimilarity float64          `json:"raw_similarity"`
	Score         float64          `json:"score"`
	IndexedAt     time.Time        `json:"indexed_at"`
}

// RetrieveResult is the ranked output plus a formatted context block.
type RetrieveResult struct {
	HasContext  bool     `json:"has_context"`
	Sources     []Source `json:"sources"`
	ContextText string   `json:"context_text"`
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithFormatter replaces the context block formatter.
func WithFormatter(f ContextFormatter) Option {
	return func(s *Service) { s.formatter = f }
}

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service composes the chunker, the store and the similarity engine.
type Service struct {
	cfg       Config
	store     *store.Store
	embedder  embedding.Provider
	chunker   *chunker.Chunker
	formatter ContextFormatter
	logger    *logging.Logger
	recorder  metrics.Recorder
	now       func() time.Time
}

// NewService creates a knowledge service.
func NewService(st *store.Store, embedder embedding.Provider, cfg Config, opts ...Option) *Service {
	cfg.normalize()
	s := &Service{
		cfg:       cfg,
		store:     st,
		embedder:  embedder,
		chunker:   chunker.New(cfg.MaxWords, cfg.OverlapWords),
		formatter: PercentFormatter{},
		logger:    logging.Default(),
		recorder:  metrics.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component(component)
	return s
}

// Index chunks req.Text, embeds every chunk and stores it. A chunk whose
// embedding or insert fails is logged and skipped; the rest are still indexed.
// Only an invalid request returns an error.
func (s *Service) Index(ctx context.Context, req IndexRequest) (IndexResult, error) {
	if req.OwnerID == "" {
		return IndexResult{}, errors.New("owner id is required")
	}
	if req.Kind == "" {
		req.Kind = store.SourceConversationTurn
	}
	if !req.Kind.Valid() {
		return IndexResult{}, errors.Errorf("invalid source kind: %q", req.Kind)
	}

	now := s.now().Unix()
	createdTs := req.CreatedTs
	if createdTs == 0 {
		createdTs = now
	}

	var (
		indexed, skipped atomic.Int64
		g                errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	for ch := range s.chunker.Chunks(req.Role, req.Text) {
		if ch.IsBlank() {
			continue
		}
		g.Go(func() error {
			if err := s.indexChunk(ctx, req, ch, createdTs, now); err != nil {
				degrade.Report(ctx, s.logger, s.recorder, component, "index", err)
				s.logger.Debug("chunk skipped", "owner_id", req.OwnerID, "source_ref", req.SourceRef, "chunk", ch.Index)
				skipped.Add(1)
				return nil
			}
			indexed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := IndexResult{ChunksIndexed: int(indexed.Load()), ChunksSkipped: int(skipped.Load())}
	s.recorder.RecordIndexed(res.ChunksIndexed, res.ChunksSkipped)
	s.logger.Info("indexed",
		"owner_id", req.OwnerID,
		"source_ref", req.SourceRef,
		"indexed", res.ChunksIndexed,
		"skipped", res.ChunksSkipped,
	)
	return res, nil
}

func (s *Service) indexChunk(ctx context.Context, req IndexRequest, ch chunker.Chunk, createdTs, indexedTs int64) error {
	text := ch.Text()

	embedCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	vector, err := s.embedder.Embed(embedCtx, text)
	cancel()
	if err != nil {
		return err
	}

	record := &store.IndexedChunk{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		SourceKind:  req.Kind,
		SourceRef:   req.SourceRef,
		SourceLabel: req.SourceLabel,
		Text:        text,
		Summary:     Summarize(ch.Role, ch.Overlap+ch.Body, DefaultSummaryRunes),
		Vector:      vector,
		Model:       s.embedder.Model(),
		Importance:  req.Importance,
		CreatedTs:   createdTs,
		IndexedTs:   indexedTs,
	}

	// an issued write completes even if the caller goes away
	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
	defer cancelWrite()
	return s.store.InsertIndexedChunk(writeCtx, record)
}

// Retrieve embeds query and ranks the owner's newest chunks against it.
// Failures degrade to an empty result. Results read after ctx is cancelled
// are discarded.
func (s *Service) Retrieve(ctx context.Context, query, ownerID string, opts RetrieveOptions) RetrieveResult {
	start := s.now()
	empty := RetrieveResult{Sources: []Source{}}
	if query == "" || ownerID == "" {
		return empty
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	vector, err := s.embedder.Embed(opCtx, query)
	if err != nil {
		degrade.Report(ctx, s.logger, s.recorder, component, "retrieve", err)
		return empty
	}

	chunks, err := s.store.ListIndexedChunks(opCtx, &store.FindIndexedChunk{
		OwnerID: ownerID,
		Kinds:   opts.Kinds,
		Limit:   s.cfg.CandidateWindow,
	})
	if err != nil {
		degrade.Report(ctx, s.logger, s.recorder, component, "retrieve", err)
		return empty
	}
	if ctx.Err() != nil {
		return empty
	}

	candidates := make([]similarity.Candidate[*store.IndexedChunk], 0, len(chunks))
	for _, c := range chunks {
		candidates = append(candidates, similarity.Candidate[*store.IndexedChunk]{
			ID:         c.ID,
			Vector:     c.Vector,
			Importance: c.Importance,
			IndexedAt:  c.IndexedAt(),
			Payload:    c,
		})
	}

	topK := s.cfg.TopK
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	minScore := s.cfg.MinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}
	out := similarity.Search(vector, candidates, similarity.Options{
		TopK:            topK,
		MinScore:        minScore,
		FreshnessWindow: s.cfg.FreshnessWindow,
		Now:             s.now(),
		DecayFloor:      s.cfg.DecayFloor,
		SimilarityShare: s.cfg.SimilarityShare,
	})
	if n := len(out.Mismatched); n > 0 {
		degrade.Report(ctx, s.logger, s.recorder, component, "retrieve",
			errors.Wrapf(store.ErrDimensionMismatch, "%d chunks of owner %s skipped", n, ownerID))
	}

	sources := make([]Source, 0, len(out.Results))
	for _, r := range out.Results {
		c := r.Payload
		sources = append(sources, Source{
			ChunkID:       c.ID,
			Kind:          c.SourceKind,
			SourceRef:     c.SourceRef,
			SourceLabel:   c.SourceLabel,
			Text:          c.Text,
			Summary:       c.Summary,
			RawSimilarity: r.RawSimilarity,
			Score:         r.FinalScore,
			IndexedAt:     c.IndexedAt(),
		})
	}
	s.recorder.RecordRetrieval(len(sources), s.now().Sub(start))

	res := RetrieveResult{HasContext: len(sources) > 0, Sources: sources}
	if res.HasContext {
		res.ContextText = s.formatter.Format(sources)
	}
	return res
}
