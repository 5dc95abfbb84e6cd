// Package similarity ranks candidate vectors against a query vector.
//
// Search is pure: the same query, candidates and options always produce the
// same ordered result. It performs no I/O and holds no locks.
package similarity

import (
	"cmp"
	"math"
	"slices"
	"time"
)

const (
	DefaultDecayFloor      = 0.5
	DefaultSimilarityShare = 0.7
)

// Candidate is one record offered for ranking.
type Candidate[T any] struct {
	ID         string
	Vector     []float32
	Importance float64
	IndexedAt  time.Time
	Payload    T
}

// Result is a ranked candidate.
type Result[T any] struct {
	Candidate[T]
	RawSimilarity float64
	FinalScore    float64
}

// Options control ranking.
type Options struct {
	TopK     int     // 0 or less returns every qualifying result
	MinScore float64 // results with FinalScore < MinScore are dropped

	// FreshnessWindow enables age decay when positive.
	FreshnessWindow time.Duration
	// Now anchors age computation. Zero means time.Now().
	Now time.Time

	// DecayFloor bounds the freshness multiplier from below. Zero means 0.5.
	DecayFloor float64
	// SimilarityShare is the weight of raw similarity in the decayed score;
	// the remainder scales with freshness. Zero means 0.7.
	SimilarityShare float64
}

// Outcome is the output of Search.
type Outcome[T any] struct {
	Results []Result[T]
	// Mismatched lists candidate IDs whose dimension differs from the query.
	// They are excluded from Results; the query itself still succeeds.
	Mismatched []string
}

// Search scores, filters, sorts and truncates candidates.
func Search[T any](query []float32, candidates []Candidate[T], opts Options) Outcome[T] {
	var out Outcome[T]
	if len(query) == 0 {
		return out
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	floor := opts.DecayFloor
	if floor <= 0 {
		floor = DefaultDecayFloor
	}
	share := opts.SimilarityShare
	if share <= 0 {
		share = DefaultSimilarityShare
	}
	queryNorm := norm(query)

	results := make([]Result[T], 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) != len(query) {
			out.Mismatched = append(out.Mismatched, c.ID)
			continue
		}
		sim := cosine(query, c.Vector, queryNorm)
		final := sim
		if opts.FreshnessWindow > 0 {
			final = sim * (share + (1-share)*Freshness(now.Sub(c.IndexedAt), opts.FreshnessWindow, floor))
		}
		if !(final >= opts.MinScore) {
			continue
		}
		results = append(results, Result[T]{Candidate: c, RawSimilarity: sim, FinalScore: final})
	}

	slices.SortStableFunc(results, compareResults[T])
	if opts.TopK > 0 && len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	out.Results = results
	return out
}

// compareResults orders by score desc, importance desc, newer first, then ID.
func compareResults[T any](a, b Result[T]) int {
	if c := cmp.Compare(b.FinalScore, a.FinalScore); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Importance, a.Importance); c != 0 {
		return c
	}
	if c := b.IndexedAt.Compare(a.IndexedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Freshness returns max(floor, 1 - age/window). Negative ages count as zero.
func Freshness(age, window time.Duration, floor float64) float64 {
	if window <= 0 {
		return 1
	}
	if age < 0 {
		age = 0
	}
	days := age.Hours() / 24
	windowDays := window.Hours() / 24
	return math.Max(floor, 1-days/windowDays)
}

// CosineSimilarity returns dot(a,b)/(|a||b|). It is 0 when either norm is zero,
// a component is not finite, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return cosine(a, b, norm(a))
}

func cosine(a, b []float32, normA float64) float64 {
	normB := norm(b)
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (normA * normB)
	// NaN or Inf components score like a zero vector
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	// snap rounding error so parallel vectors score exactly 1
	if sim > 1-1e-12 {
		return 1
	}
	return math.Max(-1, sim)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
