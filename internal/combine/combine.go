// Package combine implements the combination techniques and the
// ScoreCombiner that reduces each document's per-sub-query scores into one
// composite score per shard.
package combine

import (
	"fmt"
	"math"

	"github.com/opensearch-project/neural-search-sub002/internal/scoredoc"
)

// NotMatched is the sentinel value meaning "this sub-query did not match
// this document"; it is treated as absent by every technique.
const NotMatched float32 = -1.0

// DefaultRankConstant is RRF's default smoothing constant k.
const DefaultRankConstant = 60

// Kind identifies one of the closed set of combination techniques.
type Kind string

const (
	ArithmeticMean Kind = "arithmetic_mean"
	GeometricMean  Kind = "geometric_mean"
	HarmonicMean   Kind = "harmonic_mean"
	RRF            Kind = "rrf"
)

// ValidTechniqueNames lists the names accepted at pipeline-configuration time.
func ValidTechniqueNames() []string {
	return []string{string(ArithmeticMean), string(GeometricMean), string(HarmonicMean), string(RRF)}
}

// Technique reduces a document's per-sub-query scores into one composite
// score (spec.md section 4.3).
type Technique interface {
	Name() string
	// Weights returns the configured per-sub-query weights, or nil to use
	// the all-1.0 default (resolved against the live sub-query count).
	Weights() []float32
	// IsRankBased reports whether the combiner should feed this technique
	// 1-based ranks instead of raw/normalized scores (true only for RRF).
	IsRankBased() bool
	// RankConstant is meaningful only when IsRankBased is true.
	RankConstant() int
	// Combine reduces one document's per-sub-query values. NotMatched
	// entries are treated as absent.
	Combine(scores []float32) float32
	// Explain returns the single combination detail for one document.
	Explain(docID int32, scores []float32) scoredoc.ExplanationDetails
}

// New builds a Technique for kind. weights may be nil to use the default
// of all 1.0s. rankConstant is only meaningful for RRF; 0 selects the
// default of 60.
func New(kind Kind, weights []float32, rankConstant int) (Technique, error) {
	switch kind {
	case ArithmeticMean:
		return &arithmeticMean{weights: weights}, nil
	case GeometricMean:
		if hasNegative(weights) {
			return nil, fmt.Errorf("geometric_mean: negative weights are invalid")
		}
		return &geometricMean{weights: weights}, nil
	case HarmonicMean:
		if hasNegative(weights) {
			return nil, fmt.Errorf("harmonic_mean: negative weights are invalid")
		}
		return &harmonicMean{weights: weights}, nil
	case RRF:
		if rankConstant == 0 {
			rankConstant = DefaultRankConstant
		}
		if rankConstant < 1 {
			return nil, fmt.Errorf("rrf: rank_constant must be >= 1, got %d", rankConstant)
		}
		return &rrf{weights: weights, rankConstant: rankConstant}, nil
	}
	return nil, fmt.Errorf("unknown combination technique %q", kind)
}

func hasNegative(weights []float32) bool {
	for _, w := range weights {
		if w < 0 {
			return true
		}
	}
	return false
}

// resolveWeights returns weights unchanged if non-empty, else n copies of 1.0.
func resolveWeights(weights []float32, n int) []float32 {
	if len(weights) > 0 {
		return weights
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = 1.0
	}
	return out
}

func explainDetails(name string, docID int32, scores []float32, composite float32) scoredoc.ExplanationDetails {
	return scoredoc.ExplanationDetails{
		DocID: docID,
		ScoreDetails: []scoredoc.ScoreDetail{{
			Score:       composite,
			Description: fmt.Sprintf("%s combination of %v", name, scores),
		}},
	}
}

// --- ARITHMETIC_MEAN ---

type arithmeticMean struct{ weights []float32 }

func (a *arithmeticMean) Name() string       { return string(ArithmeticMean) }
func (a *arithmeticMean) Weights() []float32 { return a.weights }
func (a *arithmeticMean) IsRankBased() bool  { return false }
func (a *arithmeticMean) RankConstant() int  { return 0 }

func (a *arithmeticMean) Combine(scores []float32) float32 {
	w := resolveWeights(a.weights, len(scores))
	var sumWS, sumW float64
	for i, s := range scores {
		if s == NotMatched {
			continue
		}
		sumWS += float64(w[i]) * float64(s)
		sumW += float64(w[i])
	}
	if sumW == 0 {
		return 0
	}
	return float32(sumWS / sumW)
}

func (a *arithmeticMean) Explain(docID int32, scores []float32) scoredoc.ExplanationDetails {
	return explainDetails(a.Name(), docID, scores, a.Combine(scores))
}

// --- GEOMETRIC_MEAN ---

type geometricMean struct{ weights []float32 }

func (g *geometricMean) Name() string       { return string(GeometricMean) }
func (g *geometricMean) Weights() []float32 { return g.weights }
func (g *geometricMean) IsRankBased() bool  { return false }
func (g *geometricMean) RankConstant() int  { return 0 }

func (g *geometricMean) Combine(scores []float32) float32 {
	w := resolveWeights(g.weights, len(scores))
	var sumWLn, sumW float64
	matched := false
	for i, s := range scores {
		if s == NotMatched {
			continue
		}
		matched = true
		if s <= 0 {
			return 0
		}
		sumWLn += float64(w[i]) * math.Log(float64(s))
		sumW += float64(w[i])
	}
	if !matched || sumW == 0 {
		return 0
	}
	return float32(math.Exp(sumWLn / sumW))
}

func (g *geometricMean) Explain(docID int32, scores []float32) scoredoc.ExplanationDetails {
	return explainDetails(g.Name(), docID, scores, g.Combine(scores))
}

// --- HARMONIC_MEAN ---

type harmonicMean struct{ weights []float32 }

func (h *harmonicMean) Name() string       { return string(HarmonicMean) }
func (h *harmonicMean) Weights() []float32 { return h.weights }
func (h *harmonicMean) IsRankBased() bool  { return false }
func (h *harmonicMean) RankConstant() int  { return 0 }

func (h *harmonicMean) Combine(scores []float32) float32 {
	w := resolveWeights(h.weights, len(scores))
	var sumWOverS, sumW float64
	matched := false
	for i, s := range scores {
		if s == NotMatched {
			continue
		}
		matched = true
		if s <= 0 {
			return 0
		}
		sumWOverS += float64(w[i]) / float64(s)
		sumW += float64(w[i])
	}
	if !matched || sumWOverS == 0 {
		return 0
	}
	return float32(sumW / sumWOverS)
}

func (h *harmonicMean) Explain(docID int32, scores []float32) scoredoc.ExplanationDetails {
	return explainDetails(h.Name(), docID, scores, h.Combine(scores))
}

// --- RRF ---

type rrf struct {
	weights      []float32
	rankConstant int
}

func (r *rrf) Name() string       { return string(RRF) }
func (r *rrf) Weights() []float32 { return r.weights }
func (r *rrf) IsRankBased() bool  { return true }
func (r *rrf) RankConstant() int  { return r.rankConstant }

// Combine expects scores to hold each sub-query's 1-based rank (as a
// float32), with NotMatched marking sub-queries that did not return this
// document.
func (r *rrf) Combine(scores []float32) float32 {
	w := resolveWeights(r.weights, len(scores))
	var sum float64
	for i, rank := range scores {
		if rank == NotMatched {
			continue
		}
		sum += float64(w[i]) / (float64(r.rankConstant) + float64(rank))
	}
	return float32(sum)
}

func (r *rrf) Explain(docID int32, scores []float32) scoredoc.ExplanationDetails {
	return explainDetails(r.Name(), docID, scores, r.Combine(scores))
}
