package profile

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Tuning holds the memory thresholds and limits.
// The decay formula and the two similarity thresholds were chosen empirically;
// keep them configurable.
type Tuning struct {
	Cache      CacheTuning       `yaml:"cache"`
	Retrieval  RetrievalTuning   `yaml:"retrieval"`
	Chunker    ChunkerTuning     `yaml:"chunker"`
	Indexer    IndexerTuning     `yaml:"indexer"`
	Maintain   MaintenanceTuning `yaml:"maintenance"`
	EmbedMemo  int               `yaml:"embed_memo_size"`
	Timeout    string            `yaml:"operation_timeout"`
	WriteGrace string            `yaml:"write_timeout"`

	OperationTimeout time.Duration `yaml:"-"`
	WriteTimeout     time.Duration `yaml:"-"`
}

type CacheTuning struct {
	Threshold     float64 `yaml:"threshold"`
	TTL           string  `yaml:"ttl"`
	FrontCapacity int     `yaml:"front_capacity"`
	ScanLimit     int     `yaml:"scan_limit"`

	TTLDuration time.Duration `yaml:"-"`
}

type RetrievalTuning struct {
	TopK            int     `yaml:"top_k"`
	MinScore        float64 `yaml:"min_score"`
	CandidateWindow int     `yaml:"candidate_window"`
	FreshnessDays   float64 `yaml:"freshness_days"`
	DecayFloor      float64 `yaml:"decay_floor"`
	SimilarityShare float64 `yaml:"similarity_share"`
}

type ChunkerTuning struct {
	MaxWords     int `yaml:"max_words"`
	OverlapWords int `yaml:"overlap_words"`
}

type IndexerTuning struct {
	Workers        int    `yaml:"workers"`
	QueueSize      int    `yaml:"queue_size"`
	MaxAttempts    int    `yaml:"max_attempts"`
	InitialBackoff string `yaml:"initial_backoff"`
	Concurrency    int    `yaml:"chunk_concurrency"`

	Backoff time.Duration `yaml:"-"`
}

type MaintenanceTuning struct {
	Interval      string `yaml:"interval"`
	RetentionDays int    `yaml:"retention_days"`

	IntervalDuration time.Duration `yaml:"-"`
}

// DefaultTuning returns the built-in thresholds.
func DefaultTuning() Tuning {
	t := Tuning{
		Cache: CacheTuning{
			Threshold:     0.92,
			TTL:           "24h",
			FrontCapacity: 100,
			ScanLimit:     500,
		},
		Retrieval: RetrievalTuning{
			TopK:            5,
			MinScore:        0.6,
			CandidateWindow: 1000,
			FreshnessDays:   90,
			DecayFloor:      0.5,
			SimilarityShare: 0.7,
		},
		Chunker: ChunkerTuning{
			MaxWords:     200,
			OverlapWords: 30,
		},
		Indexer: IndexerTuning{
			Workers:        2,
			QueueSize:      256,
			MaxAttempts:    3,
			InitialBackoff: "500ms",
			Concurrency:    4,
		},
		Maintain: MaintenanceTuning{
			Interval:      "1h",
			RetentionDays: 0,
		},
		EmbedMemo:  512,
		Timeout:    "3s",
		WriteGrace: "5s",
	}
	_ = t.resolve()
	return t
}

// LoadTuning reads a YAML file over the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	data, err := os.ReadFile(path)
	if err != nil {
		return t, errors.Wrapf(err, "failed to read tuning file %s", path)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, errors.Wrapf(err, "failed to parse tuning file %s", path)
	}
	if err := t.resolve(); err != nil {
		return t, err
	}
	return t, nil
}

func (t *Tuning) resolve() error {
	var err error
	if t.Cache.TTLDuration, err = parseDuration("cache.ttl", t.Cache.TTL); err != nil {
		return err
	}
	if t.Indexer.Backoff, err = parseDuration("indexer.initial_backoff", t.Indexer.InitialBackoff); err != nil {
		return err
	}
	if t.Maintain.IntervalDuration, err = parseDuration("maintenance.interval", t.Maintain.Interval); err != nil {
		return err
	}
	if t.OperationTimeout, err = parseDuration("operation_timeout", t.Timeout); err != nil {
		return err
	}
	if t.WriteTimeout, err = parseDuration("write_timeout", t.WriteGrace); err != nil {
		return err
	}
	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", field)
	}
	return d, nil
}

// Validate checks ranges.
func (t Tuning) Validate() error {
	if t.Cache.Threshold <= 0 || t.Cache.Threshold > 1 {
		return errors.Errorf("cache.threshold must be in (0, 1], got %v", t.Cache.Threshold)
	}
	if t.Cache.TTLDuration <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if t.Cache.FrontCapacity <= 0 {
		return errors.Errorf("cache.front_capacity must be positive, got %d", t.Cache.FrontCapacity)
	}
	if t.Retrieval.MinScore < 0 || t.Retrieval.MinScore > 1 {
		return errors.Errorf("retrieval.min_score must be in [0, 1], got %v", t.Retrieval.MinScore)
	}
	if t.Retrieval.TopK <= 0 || t.Retrieval.CandidateWindow <= 0 {
		return errors.New("retrieval.top_k and retrieval.candidate_window must be positive")
	}
	if t.Retrieval.DecayFloor < 0 || t.Retrieval.DecayFloor > 1 {
		return errors.Errorf("retrieval.decay_floor must be in [0, 1], got %v", t.Retrieval.DecayFloor)
	}
	if t.Retrieval.SimilarityShare < 0 || t.Retrieval.SimilarityShare > 1 {
		return errors.Errorf("retrieval.similarity_share must be in [0, 1], got %v", t.Retrieval.SimilarityShare)
	}
	if t.Chunker.MaxWords <= 0 || t.Chunker.OverlapWords < 0 || t.Chunker.OverlapWords >= t.Chunker.MaxWords {
		return errors.Errorf("chunker: need max_words > overlap_words >= 0, got %d/%d", t.Chunker.MaxWords, t.Chunker.OverlapWords)
	}
	if t.Indexer.Workers <= 0 || t.Indexer.QueueSize <= 0 || t.Indexer.MaxAttempts <= 0 {
		return errors.New("indexer.workers, indexer.queue_size and indexer.max_attempts must be positive")
	}
	if t.OperationTimeout <= 0 || t.WriteTimeout <= 0 {
		return errors.New("operation_timeout and write_timeout must be positive")
	}
	return nil
}
