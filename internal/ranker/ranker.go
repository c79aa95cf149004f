// Package ranker converts raw term statistics into relevance scores and
// renders highlighted snippets. It is pure computation: no I/O, no state
// beyond configured weights.
package ranker

import (
	"math"
	"sort"
)

// BM25 parameters. k1 controls term-frequency saturation, b controls
// document-length normalization.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// scoreNormalizer divides the weighted score sum before clamping to [0,1].
// It is matched to the default weights, not a principled bound; raise it if
// weights are raised.
const scoreNormalizer = 10.0

// Weights control the contribution of each scoring signal. The process-wide
// defaults are overridable per Ranker.
type Weights struct {
	TFIDF      float64
	FieldBoost float64
	Proximity  float64
}

// DefaultWeights returns the process-wide default weights.
func DefaultWeights() Weights {
	return Weights{TFIDF: 1.0, FieldBoost: 1.0, Proximity: 1.0}
}

// TermStats are the per-document statistics for one query term.
type TermStats struct {
	Frequency    int   // occurrences in the document, summed across fields
	DocFrequency int   // documents containing the term
	Positions    []int // token positions within the document's fields
	Fields       []string
}

// Candidate is a document under consideration, with stats for each query
// term it matched.
type Candidate struct {
	DocID     string
	DocLength int
	Terms     map[string]TermStats
}

// Corpus carries collection-level statistics and the configured field boosts.
type Corpus struct {
	TotalDocs    int
	AvgDocLength float64
	FieldBoosts  map[string]float64
}

// ScoredDoc is a ranked result.
type ScoredDoc struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// Ranker scores and orders candidates. The zero value is not usable; call
// New.
type Ranker struct {
	weights Weights
	k1      float64
	b       float64
	useBM25 bool
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithWeights overrides the default signal weights.
func WithWeights(w Weights) Option {
	return func(r *Ranker) { r.weights = w }
}

// WithBM25 switches the term scorer from TF-IDF to BM25.
func WithBM25(k1, b float64) Option {
	return func(r *Ranker) {
		r.useBM25 = true
		r.k1 = k1
		r.b = b
	}
}

// New creates a Ranker with default weights and the TF-IDF term scorer.
func New(opts ...Option) *Ranker {
	r := &Ranker{
		weights: DefaultWeights(),
		k1:      DefaultK1,
		b:       DefaultB,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TFIDF returns tf * ln((N+1)/(df+1)).
func TFIDF(tf int, df int, totalDocs int) float64 {
	if tf <= 0 || df <= 0 {
		return 0
	}
	idf := math.Log(float64(totalDocs+1) / float64(df+1))
	return float64(tf) * idf
}

// BM25 returns the Okapi BM25 term score with saturation and document-length
// normalization.
func BM25(tf int, df int, totalDocs int, docLen int, avgDocLen float64, k1, b float64) float64 {
	if tf <= 0 || df <= 0 {
		return 0
	}
	idf := math.Log((float64(totalDocs)-float64(df)+0.5)/(float64(df)+0.5) + 1)
	lengthRatio := 0.0
	if avgDocLen > 0 {
		lengthRatio = float64(docLen) / avgDocLen
	}
	tfNorm := float64(tf) * (k1 + 1) / (float64(tf) + k1*(1-b+b*lengthRatio))
	return idf * tfNorm
}

// proximityScore collapses a term span to a fixed-tier score. span is the
// length of the smallest window covering one occurrence of every query term;
// a negative span means not all terms were present.
func proximityScore(span int) float64 {
	switch {
	case span < 0:
		return 0
	case span == 0:
		return 1.0
	case span <= 2:
		return 0.9
	case span <= 5:
		return 0.7
	case span <= 10:
		return 0.5
	case span <= 20:
		return 0.3
	default:
		return 0.1
	}
}

// fieldBoost averages ALL configured boosts, whether or not the field
// matched. Averaging only matched fields changes ranking when boosts vary
// widely; this keeps the reference behavior.
func fieldBoost(boosts map[string]float64) float64 {
	if len(boosts) == 0 {
		return 1.0
	}
	sum := 0.0
	for _, boost := range boosts {
		sum += boost
	}
	return sum / float64(len(boosts))
}

// minSpan returns the length of the smallest position window containing one
// occurrence of every query term, or -1 when any term is absent.
func minSpan(queryTerms []string, candidate Candidate) int {
	type posTerm struct {
		pos  int
		term int
	}
	var all []posTerm
	for i, term := range queryTerms {
		stats, ok := candidate.Terms[term]
		if !ok || len(stats.Positions) == 0 {
			return -1
		}
		for _, p := range stats.Positions {
			all = append(all, posTerm{pos: p, term: i})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].pos < all[j].pos })

	need := len(queryTerms)
	counts := make([]int, need)
	have := 0
	best := -1
	left := 0
	for right := 0; right < len(all); right++ {
		if counts[all[right].term] == 0 {
			have++
		}
		counts[all[right].term]++
		for have == need {
			span := all[right].pos - all[left].pos
			if best < 0 || span < best {
				best = span
			}
			counts[all[left].term]--
			if counts[all[left].term] == 0 {
				have--
			}
			left++
		}
	}
	return best
}

// termScore computes the raw TF-IDF or BM25 score for one term.
func (r *Ranker) termScore(stats TermStats, candidate Candidate, corpus Corpus) float64 {
	if r.useBM25 {
		return BM25(stats.Frequency, stats.DocFrequency, corpus.TotalDocs,
			candidate.DocLength, corpus.AvgDocLength, r.k1, r.b)
	}
	return TFIDF(stats.Frequency, stats.DocFrequency, corpus.TotalDocs)
}

// Score combines the term, boost, and proximity signals for a single term
// occurrence into a normalized [0,1] score.
func (r *Ranker) Score(termScore, boost, proximity float64) float64 {
	combined := (termScore*r.weights.TFIDF + boost*r.weights.FieldBoost + proximity*r.weights.Proximity) / scoreNormalizer
	if combined < 0 {
		return 0
	}
	if combined > 1 {
		return 1
	}
	return combined
}

// Rank scores every candidate against the query terms and returns them in
// descending score order. A document's score is the mean of its matched
// terms' combined scores; terms it does not contain contribute nothing.
// The sort is stable so equal scores keep their input order.
func (r *Ranker) Rank(candidates []Candidate, queryTerms []string, corpus Corpus) []ScoredDoc {
	boost := fieldBoost(corpus.FieldBoosts)
	ranked := make([]ScoredDoc, 0, len(candidates))
	for _, candidate := range candidates {
		proximity := proximityScore(minSpan(queryTerms, candidate))
		sum := 0.0
		matched := make([]string, 0, len(queryTerms))
		for _, term := range queryTerms {
			stats, ok := candidate.Terms[term]
			if !ok {
				continue
			}
			sum += r.Score(r.termScore(stats, candidate, corpus), boost, proximity)
			matched = append(matched, term)
		}
		if len(matched) == 0 {
			continue
		}
		ranked = append(ranked, ScoredDoc{
			DocID:        candidate.DocID,
			Score:        sum / float64(len(matched)),
			MatchedTerms: matched,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
