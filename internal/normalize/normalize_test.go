package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensearch-project/neural-search-sub002/internal/registry"
	"github.com/opensearch-project/neural-search-sub002/internal/scoredoc"
)

func shard(id int32) scoredoc.SearchShard {
	return scoredoc.SearchShard{IndexName: "idx", ShardID: id}
}

// buildS1Compound builds the two-shard, two-sub-query fixture from
// spec.md scenario S1.
func buildS1Compound() []scoredoc.CompoundTopDocs {
	shardA := scoredoc.CompoundTopDocs{
		SearchShard: shard(0),
		TopDocsPerSubQuery: []scoredoc.TopDocs{
			{ScoreDocs: []scoredoc.ScoreDoc{{DocID: 1, Score: 10.0}, {DocID: 2, Score: 5.0}}},
			{ScoreDocs: []scoredoc.ScoreDoc{{DocID: 1, Score: 2.0}, {DocID: 3, Score: 1.0}}},
		},
	}
	shardB := scoredoc.CompoundTopDocs{
		SearchShard: shard(1),
		TopDocsPerSubQuery: []scoredoc.TopDocs{
			{ScoreDocs: []scoredoc.ScoreDoc{{DocID: 101, Score: 8.0}}},
			{ScoreDocs: []scoredoc.ScoreDoc{{DocID: 101, Score: 4.0}, {DocID: 102, Score: 3.0}}},
		},
	}
	return []scoredoc.CompoundTopDocs{shardA, shardB}
}

// --- TS01: MIN_MAX matches spec.md scenario S1 ---

func TestMinMax_Normalize_MatchesScenarioS1(t *testing.T) {
	// Given: S1's two shards, two sub-queries
	compound := buildS1Compound()
	technique, ok := New(MinMax)
	require.True(t, ok)

	// When: normalizing
	technique.Normalize(compound)

	// Then: sub-query 1 scores (min 5, max 10) are docA1=1.0, docA2=0.0, docB1=0.6
	sq1 := byDocID(compound[0].TopDocsPerSubQuery[0])
	assert.InDelta(t, 1.0, sq1[1], 1e-6)
	assert.InDelta(t, 0.0, sq1[2], 1e-6)
	sq1b := byDocID(compound[1].TopDocsPerSubQuery[0])
	assert.InDelta(t, 0.6, sq1b[101], 1e-6)

	// And: sub-query 2 scores are docA1=0.333, docA3=0.0, docB1=1.0, docB2=0.667
	sq2 := byDocID(compound[0].TopDocsPerSubQuery[1])
	assert.InDelta(t, 0.3333333, sq2[1], 1e-5)
	assert.InDelta(t, 0.0, sq2[3], 1e-6)
	sq2b := byDocID(compound[1].TopDocsPerSubQuery[1])
	assert.InDelta(t, 1.0, sq2b[101], 1e-6)
	assert.InDelta(t, 0.6666667, sq2b[102], 1e-5)
}

func byDocID(td scoredoc.TopDocs) map[int32]float32 {
	m := make(map[int32]float32, len(td.ScoreDocs))
	for _, d := range td.ScoreDocs {
		m[d.DocID] = d.Score
	}
	return m
}

// --- TS02: invariant 1 — min(score) >= 0, max(score) <= 1 ---

func TestMinMax_Normalize_StaysWithinUnitRange(t *testing.T) {
	compound := buildS1Compound()
	technique, _ := New(MinMax)

	technique.Normalize(compound)

	for _, shardDocs := range compound {
		for _, sub := range shardDocs.TopDocsPerSubQuery {
			for _, d := range sub.ScoreDocs {
				assert.GreaterOrEqual(t, d.Score, float32(-1e-6))
				assert.LessOrEqual(t, d.Score, float32(1.0+1e-6))
			}
		}
	}
}

// --- TS03: invariant 2 — L2 keeps sum(score^2) <= 1 ---

func TestL2_Normalize_SumOfSquaresWithinUnit(t *testing.T) {
	compound := buildS1Compound()
	technique, ok := New(L2)
	require.True(t, ok)

	technique.Normalize(compound)

	for i := 0; i < 2; i++ {
		var sumSq float64
		for _, shardDocs := range compound {
			if i >= len(shardDocs.TopDocsPerSubQuery) {
				continue
			}
			for _, d := range shardDocs.TopDocsPerSubQuery[i].ScoreDocs {
				sumSq += float64(d.Score) * float64(d.Score)
			}
		}
		assert.LessOrEqual(t, sumSq, 1.0+1e-6)
	}
}

// --- TS04: Z_SCORE degenerate case (spec.md scenario S5) ---

func TestZScore_Normalize_DegenerateEqualScores_YieldsZero(t *testing.T) {
	// Given: every doc in sub-query 0 has the same raw score
	compound := []scoredoc.CompoundTopDocs{
		{
			SearchShard: shard(0),
			TopDocsPerSubQuery: []scoredoc.TopDocs{
				{ScoreDocs: []scoredoc.ScoreDoc{{DocID: 1, Score: 5.0}, {DocID: 2, Score: 5.0}, {DocID: 3, Score: 5.0}}},
			},
		},
	}
	technique, ok := New(ZScore)
	require.True(t, ok)

	technique.Normalize(compound)

	for _, d := range compound[0].TopDocsPerSubQuery[0].ScoreDocs {
		assert.Equal(t, float32(0.0), d.Score)
	}
}

func TestZScore_Normalize_IsUnbounded(t *testing.T) {
	compound := []scoredoc.CompoundTopDocs{
		{
			SearchShard: shard(0),
			TopDocsPerSubQuery: []scoredoc.TopDocs{
				{ScoreDocs: []scoredoc.ScoreDoc{{DocID: 1, Score: 100.0}, {DocID: 2, Score: 1.0}, {DocID: 3, Score: 1.0}}},
			},
		},
	}
	technique, _ := New(ZScore)
	technique.Normalize(compound)

	scores := byDocID(compound[0].TopDocsPerSubQuery[0])
	assert.Greater(t, scores[1], float32(1.0))
}

// --- TS05: NaN handling (open question decision) ---

func TestMinMax_Normalize_NaNInputBecomesZero(t *testing.T) {
	nan := float32(0)
	nan = nan / nan // NaN
	compound := []scoredoc.CompoundTopDocs{
		{
			SearchShard: shard(0),
			TopDocsPerSubQuery: []scoredoc.TopDocs{
				{ScoreDocs: []scoredoc.ScoreDoc{{DocID: 1, Score: nan}, {DocID: 2, Score: 4.0}}},
			},
		},
	}
	technique, _ := New(MinMax)
	technique.Normalize(compound)

	scores := byDocID(compound[0].TopDocsPerSubQuery[0])
	assert.Equal(t, float32(0.0), scores[1])
	assert.Equal(t, float32(1.0), scores[2])
}

// --- TS06: Explain emits one entry per sub-query, matched or not ---

func TestMinMax_Explain_EmitsOneEntryPerSubQuery(t *testing.T) {
	compound := buildS1Compound()
	technique, _ := New(MinMax)

	explanations := technique.Explain(compound)

	key := scoredoc.DocIdAtSearchShard{DocID: 2, SearchShard: shard(0)}
	details, ok := explanations[key]
	require.True(t, ok)
	// doc 2 matched sub-query 0 only, so its entries are [matched, not-matched]
	require.Len(t, details.ScoreDetails, 2)
	assert.Contains(t, details.ScoreDetails[1].Description, "not matched")
}

func TestNew_UnknownTechnique_ReturnsFalse(t *testing.T) {
	_, ok := New(TechniqueName("bm25_only"))
	assert.False(t, ok)
}

// --- Normalizer (C4): registry wiring ---

func TestNormalizer_NormalizeScores_RecordsSubQueryScoresWhenFlagged(t *testing.T) {
	reg, err := registry.NewSubQueryScores(16)
	require.NoError(t, err)
	normalizer := NewNormalizer(reg)
	technique, _ := New(MinMax)
	compound := buildS1Compound()

	normalizer.NormalizeScores(NormalizeDto{
		QueryTopDocs:       compound,
		Technique:          technique,
		SubQueryScoresFlag: true,
		PhaseContext:       registry.PhaseContextKey("req-1"),
	})

	scores, ok := reg.Get(registry.PhaseContextKey("req-1"), registry.ShardDocKey{Shard: shard(0), DocID: 1})
	require.True(t, ok)
	require.Len(t, scores, 2)
	assert.InDelta(t, 1.0, scores[0], 1e-6)
}

func TestNormalizer_NormalizeScores_SkipsRegistryWhenFlagOff(t *testing.T) {
	reg, err := registry.NewSubQueryScores(16)
	require.NoError(t, err)
	normalizer := NewNormalizer(reg)
	technique, _ := New(MinMax)
	compound := buildS1Compound()

	normalizer.NormalizeScores(NormalizeDto{
		QueryTopDocs:       compound,
		Technique:          technique,
		SubQueryScoresFlag: false,
		PhaseContext:       registry.PhaseContextKey("req-2"),
	})

	_, ok := reg.Get(registry.PhaseContextKey("req-2"), registry.ShardDocKey{Shard: shard(0), DocID: 1})
	assert.False(t, ok)
}

func TestNormalizer_NormalizeScores_NonHybridInputIsNoOp(t *testing.T) {
	reg, err := registry.NewSubQueryScores(16)
	require.NoError(t, err)
	normalizer := NewNormalizer(reg)
	technique, _ := New(MinMax)
	compound := []scoredoc.CompoundTopDocs{{SearchShard: shard(0)}}

	normalizer.NormalizeScores(NormalizeDto{QueryTopDocs: compound, Technique: technique})

	assert.Empty(t, compound[0].TopDocsPerSubQuery)
}
