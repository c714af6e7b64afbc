// Package normalize implements the normalization techniques and the
// ScoreNormalizer that applies one of them across every shard of a hybrid
// query, rescaling each sub-query's raw scores onto a comparable range.
package normalize

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensearch-project/neural-search-sub002/internal/scoredoc"
)

// TechniqueName identifies one of the closed set of normalization techniques.
type TechniqueName string

const (
	MinMax TechniqueName = "min_max"
	L2     TechniqueName = "l2"
	ZScore TechniqueName = "z_score"
)

// ValidTechniqueNames lists the names accepted at pipeline-configuration time.
func ValidTechniqueNames() []string {
	return []string{string(MinMax), string(L2), string(ZScore)}
}

// Technique rescales raw sub-query scores onto a comparable range across
// shards (spec.md section 4.2).
type Technique interface {
	Name() string
	// Normalize mutates every matched hit's score in place, per sub-query,
	// across every shard in queryTopDocs.
	Normalize(queryTopDocs []scoredoc.CompoundTopDocs)
	// Explain computes, without mutating queryTopDocs, the normalization
	// explanation for every doc that appears in at least one sub-query.
	Explain(queryTopDocs []scoredoc.CompoundTopDocs) map[scoredoc.DocIdAtSearchShard]scoredoc.ExplanationDetails
}

// New returns the Technique for name, or false if name is not one of the
// closed set accepted by the pipeline.
func New(name TechniqueName) (Technique, bool) {
	switch name {
	case MinMax:
		return kernelTechnique{techName: string(MinMax), stats: minMaxStats, apply: minMaxApply}, true
	case L2:
		return kernelTechnique{techName: string(L2), stats: l2Stats, apply: l2Apply}, true
	case ZScore:
		return kernelTechnique{techName: string(ZScore), stats: zScoreStats, apply: zScoreApply}, true
	}
	return nil, false
}

// stat is an opaque, technique-specific per-sub-query reduction (min/max,
// L2 norm, or mean/stddev). Each technique's apply function knows how to
// read its own concrete type back out.
type stat any

// kernelTechnique factors the shared shard/sub-query enumeration that every
// normalization technique needs, parameterized by the technique-specific
// reduction (stats) and per-hit formula (apply).
type kernelTechnique struct {
	techName string
	stats    func(raw []float32) stat
	apply    func(s stat, raw float32) float32
}

func (k kernelTechnique) Name() string { return k.techName }

func (k kernelTechnique) Normalize(queryTopDocs []scoredoc.CompoundTopDocs) {
	numSubQueries := maxSubQueries(queryTopDocs)
	for i := 0; i < numSubQueries; i++ {
		refs := collectRefs(queryTopDocs, i)
		raw := make([]float32, len(refs))
		for idx, r := range refs {
			raw[idx] = r.Score
		}
		s := k.stats(raw)
		for idx, r := range refs {
			r.Score = k.apply(s, raw[idx])
		}
	}
}

func (k kernelTechnique) Explain(queryTopDocs []scoredoc.CompoundTopDocs) map[scoredoc.DocIdAtSearchShard]scoredoc.ExplanationDetails {
	numSubQueries := maxSubQueries(queryTopDocs)

	// Precompute stats and a docID->score lookup per sub-query so each
	// doc's explanation can be assembled in one pass over sub-queries.
	statsPerSubQuery := make([]stat, numSubQueries)
	lookupPerSubQuery := make([]map[int32]float32, numSubQueries)
	for i := 0; i < numSubQueries; i++ {
		refs := collectRefs(queryTopDocs, i)
		raw := make([]float32, len(refs))
		lookup := make(map[int32]float32, len(refs))
		for idx, r := range refs {
			raw[idx] = r.Score
			lookup[r.DocID] = r.Score
		}
		statsPerSubQuery[i] = k.stats(raw)
		lookupPerSubQuery[i] = lookup
	}

	result := make(map[scoredoc.DocIdAtSearchShard]scoredoc.ExplanationDetails)
	for _, shardDocs := range queryTopDocs {
		for _, docID := range docIDsInAnySubQuery(shardDocs) {
			details := scoredoc.ExplanationDetails{DocID: docID}
			for i := 0; i < numSubQueries; i++ {
				rawScore, matched := lookupPerSubQuery[i][docID]
				if !matched {
					details.ScoreDetails = append(details.ScoreDetails, scoredoc.ScoreDetail{
						Score:       0,
						Description: fmt.Sprintf("%s normalization of [not matched]", k.techName),
					})
					continue
				}
				normalized := k.apply(statsPerSubQuery[i], rawScore)
				details.ScoreDetails = append(details.ScoreDetails, scoredoc.ScoreDetail{
					Score:       normalized,
					Description: fmt.Sprintf("%s normalization of [%v]", k.techName, rawScore),
				})
			}
			result[scoredoc.DocIdAtSearchShard{DocID: docID, SearchShard: shardDocs.SearchShard}] = details
		}
	}
	return result
}

// maxSubQueries returns the widest sub-query count across all shards. Per
// spec.md invariant 1, a non-empty shard carries a slot for every sub-query.
func maxSubQueries(queryTopDocs []scoredoc.CompoundTopDocs) int {
	max := 0
	for _, c := range queryTopDocs {
		if len(c.TopDocsPerSubQuery) > max {
			max = len(c.TopDocsPerSubQuery)
		}
	}
	return max
}

// collectRefs returns pointers to every hit of sub-query i across all
// shards, so callers can mutate scores in place.
func collectRefs(queryTopDocs []scoredoc.CompoundTopDocs, subQuery int) []*scoredoc.ScoreDoc {
	var refs []*scoredoc.ScoreDoc
	for c := range queryTopDocs {
		if subQuery >= len(queryTopDocs[c].TopDocsPerSubQuery) {
			continue
		}
		docs := queryTopDocs[c].TopDocsPerSubQuery[subQuery].ScoreDocs
		for k := range docs {
			refs = append(refs, &queryTopDocs[c].TopDocsPerSubQuery[subQuery].ScoreDocs[k])
		}
	}
	return refs
}

// docIDsInAnySubQuery returns the sorted, de-duplicated doc IDs that appear
// in at least one sub-query of a shard's compound top docs.
func docIDsInAnySubQuery(c scoredoc.CompoundTopDocs) []int32 {
	seen := make(map[int32]struct{})
	for _, sub := range c.TopDocsPerSubQuery {
		for _, hit := range sub.ScoreDocs {
			seen[hit.DocID] = struct{}{}
		}
	}
	ids := make([]int32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --- MIN_MAX ---

type minMaxStat struct {
	min, max float32
	valid    bool
}

func minMaxStats(raw []float32) stat {
	s := minMaxStat{}
	for _, v := range raw {
		if isNaN32(v) {
			continue
		}
		if !s.valid {
			s.min, s.max, s.valid = v, v, true
			continue
		}
		if v < s.min {
			s.min = v
		}
		if v > s.max {
			s.max = v
		}
	}
	return s
}

func minMaxApply(s stat, raw float32) float32 {
	if isNaN32(raw) {
		return 0
	}
	mm := s.(minMaxStat)
	if !mm.valid {
		return 0
	}
	if mm.max == mm.min {
		return 1.0
	}
	return (raw - mm.min) / (mm.max - mm.min)
}

// --- L2 ---

type l2Stat struct {
	norm float32
}

func l2Stats(raw []float32) stat {
	var sumSq float64
	for _, v := range raw {
		if isNaN32(v) {
			continue
		}
		sumSq += float64(v) * float64(v)
	}
	return l2Stat{norm: float32(math.Sqrt(sumSq))}
}

func l2Apply(s stat, raw float32) float32 {
	if isNaN32(raw) {
		return 0
	}
	st := s.(l2Stat)
	if st.norm == 0 {
		return 0
	}
	return raw / st.norm
}

// --- Z_SCORE ---

type zScoreStat struct {
	mean, stddev float32
}

func zScoreStats(raw []float32) stat {
	var sum float64
	n := 0
	for _, v := range raw {
		if isNaN32(v) {
			continue
		}
		sum += float64(v)
		n++
	}
	if n == 0 {
		return zScoreStat{}
	}
	mean := sum / float64(n)

	var sumSq float64
	for _, v := range raw {
		if isNaN32(v) {
			continue
		}
		d := float64(v) - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(n))
	return zScoreStat{mean: float32(mean), stddev: float32(stddev)}
}

func zScoreApply(s stat, raw float32) float32 {
	if isNaN32(raw) {
		return 0
	}
	st := s.(zScoreStat)
	if st.stddev == 0 {
		return 0
	}
	return (raw - st.mean) / st.stddev
}

func isNaN32(v float32) bool {
	return v != v
}
