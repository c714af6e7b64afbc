package normalize

import (
	"github.com/opensearch-project/neural-search-sub002/internal/registry"
	"github.com/opensearch-project/neural-search-sub002/internal/scoredoc"
)

// NormalizeDto is C4's input: what to normalize, with which technique, and
// whether to record per-sub-query scores for the fetch phase.
type NormalizeDto struct {
	QueryTopDocs       []scoredoc.CompoundTopDocs
	Technique          Technique
	SubQueryScoresFlag bool
	PhaseContext       registry.PhaseContextKey
}

// Normalizer is the ScoreNormalizer (C4): it applies a Technique across
// every shard of a hybrid query and, when requested, records each
// document's per-sub-query normalized scores into the process-scoped
// registry for the fetch phase to read back.
type Normalizer struct {
	scores *registry.SubQueryScores
}

// NewNormalizer builds a Normalizer backed by the given sub-query score
// registry. scores may be nil if the pipeline never enables sub_query_scores.
func NewNormalizer(scores *registry.SubQueryScores) *Normalizer {
	return &Normalizer{scores: scores}
}

// NormalizeScores dispatches to dto.Technique.Normalize, then, when
// SubQueryScoresFlag is set, snapshots each matched document's
// per-sub-query normalized scores into the registry. A non-hybrid input
// (no sub-queries present on any shard) is a no-op.
func (n *Normalizer) NormalizeScores(dto NormalizeDto) {
	if maxSubQueries(dto.QueryTopDocs) == 0 {
		return
	}

	dto.Technique.Normalize(dto.QueryTopDocs)

	if !dto.SubQueryScoresFlag || n.scores == nil {
		return
	}
	n.recordSubQueryScores(dto.QueryTopDocs, dto.PhaseContext)
}

func (n *Normalizer) recordSubQueryScores(queryTopDocs []scoredoc.CompoundTopDocs, phaseContext registry.PhaseContextKey) {
	numSubQueries := maxSubQueries(queryTopDocs)
	for _, shardDocs := range queryTopDocs {
		lookups := make([]map[int32]float32, numSubQueries)
		for i := 0; i < numSubQueries; i++ {
			if i >= len(shardDocs.TopDocsPerSubQuery) {
				continue
			}
			lookup := make(map[int32]float32, len(shardDocs.TopDocsPerSubQuery[i].ScoreDocs))
			for _, hit := range shardDocs.TopDocsPerSubQuery[i].ScoreDocs {
				lookup[hit.DocID] = hit.Score
			}
			lookups[i] = lookup
		}

		for _, docID := range docIDsInAnySubQuery(shardDocs) {
			perSubQuery := make([]float32, numSubQueries)
			for i, lookup := range lookups {
				if lookup == nil {
					continue
				}
				if score, matched := lookup[docID]; matched {
					perSubQuery[i] = score
				}
			}
			key := registry.ShardDocKey{Shard: shardDocs.SearchShard, DocID: docID}
			n.scores.Put(phaseContext, key, perSubQuery)
		}
	}
}

// Explain delegates to technique.Explain over queryTopDocs, unmutated.
func (n *Normalizer) Explain(queryTopDocs []scoredoc.CompoundTopDocs, technique Technique) map[scoredoc.DocIdAtSearchShard]scoredoc.ExplanationDetails {
	return technique.Explain(queryTopDocs)
}
