package mcpserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensearch-project/neural-search-sub002/internal/pipelineconfig"
)

func TestHandleHybridSearchExplain_ReturnsExplainedHitsForArithmeticMean(t *testing.T) {
	s := New(pipelineconfig.DefaultConfig(), nil)

	input := HybridSearchExplainInput{
		Query:       "vector search embeddings",
		QueryVector: []float64{1, 0, 0},
		Documents: []DocumentInput{
			{DocID: 1, Content: "vector search over embeddings", Vector: []float64{1, 0, 0}},
			{DocID: 2, Content: "totally unrelated gardening content", Vector: []float64{0, 1, 0}},
		},
		Limit: 10,
	}

	out, err := s.RunHybridSearchExplain(context.Background(), input)
	require.NoError(t, err)
	require.NotEmpty(t, out.Hits)
	assert.Equal(t, int32(1), out.Hits[0].DocID)
	assert.Contains(t, out.Hits[0].Explanation.Description, "arithmetic_mean combination of")
	assert.Len(t, out.Hits[0].Explanation.Details, 2)
}

func TestRunHybridSearchExplain_NoDocuments_IsRejected(t *testing.T) {
	s := New(pipelineconfig.DefaultConfig(), nil)

	_, err := s.RunHybridSearchExplain(context.Background(), HybridSearchExplainInput{Query: "x"})
	assert.Error(t, err)
}

func TestRunHybridSearchExplain_UnknownNormalizationOverride_IsRejected(t *testing.T) {
	s := New(pipelineconfig.DefaultConfig(), nil)

	input := HybridSearchExplainInput{
		Query:         "x",
		Normalization: "NOT_A_TECHNIQUE",
		Documents:     []DocumentInput{{DocID: 1, Content: "x"}},
	}

	_, err := s.RunHybridSearchExplain(context.Background(), input)
	assert.Error(t, err)
}
