// Package mcpserver exposes the hybrid-query score post-processing
// pipeline as an MCP tool, so an agent client can invoke it directly and
// read back per-hit normalization/combination explanations. This is the
// "search-plugin" surface the pipeline is built for, minus the ingest
// side (embedding, chunking) and the agent/LLM invocation itself.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opensearch-project/neural-search-sub002/internal/combine"
	"github.com/opensearch-project/neural-search-sub002/internal/explain"
	"github.com/opensearch-project/neural-search-sub002/internal/normalize"
	"github.com/opensearch-project/neural-search-sub002/internal/pipelineconfig"
	"github.com/opensearch-project/neural-search-sub002/internal/pipelinestore"
	"github.com/opensearch-project/neural-search-sub002/internal/scoredoc"
	"github.com/opensearch-project/neural-search-sub002/internal/shardindex"
	"github.com/opensearch-project/neural-search-sub002/internal/workflow"
	"github.com/opensearch-project/neural-search-sub002/pkg/version"
)

// DocumentInput is one document to stand up the lexical and vector shards
// with before the pipeline runs. In the real plugin these come from the
// cluster's existing indices; the tool takes them inline since this module
// owns no ingest path.
type DocumentInput struct {
	DocID   int32     `json:"doc_id" jsonschema:"shard-local document id"`
	Content string    `json:"content,omitempty" jsonschema:"text content for the lexical sub-query"`
	Vector  []float64 `json:"vector,omitempty" jsonschema:"embedding for the vector sub-query"`
}

// HybridSearchExplainInput is the input schema for the hybrid_search_explain tool.
type HybridSearchExplainInput struct {
	Query         string          `json:"query" jsonschema:"lexical query text"`
	QueryVector   []float64       `json:"query_vector,omitempty" jsonschema:"query embedding for the vector sub-query"`
	Documents     []DocumentInput `json:"documents" jsonschema:"documents to search, standing in for the cluster's shard contents"`
	Limit         int             `json:"limit,omitempty" jsonschema:"maximum number of combined hits, default 10"`
	Normalization string          `json:"normalization,omitempty" jsonschema:"override the configured normalization technique"`
	Combination   string          `json:"combination,omitempty" jsonschema:"override the configured combination technique"`
}

// ExplanationNode mirrors explain.Explanation as a JSON-friendly tree.
type ExplanationNode struct {
	Value       float64           `json:"value"`
	Description string            `json:"description"`
	Details     []ExplanationNode `json:"details,omitempty"`
}

// HitOutput is one combined, explained hit.
type HitOutput struct {
	DocID       int32           `json:"doc_id"`
	Score       float64         `json:"score"`
	Explanation ExplanationNode `json:"explanation"`
}

// HybridSearchExplainOutput is the output schema for the hybrid_search_explain tool.
type HybridSearchExplainOutput struct {
	Hits []HitOutput `json:"hits"`
}

// Server is the MCP server exposing the pipeline's hybrid_search_explain tool.
type Server struct {
	mcp    *mcp.Server
	config pipelineconfig.Config
	store  *pipelinestore.Store
	logger *slog.Logger
}

// New builds a Server using cfg's configured techniques. store is optional;
// when nil, runs aren't recorded to the audit log.
func New(cfg pipelineconfig.Config, store *pipelinestore.Store) *Server {
	s := &Server{
		config: cfg,
		store:  store,
		logger: slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "neuralsearchctl",
			Version: version.Version,
		},
		nil,
	)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "hybrid_search_explain",
		Description: "Runs the hybrid-query score normalization/combination pipeline over a small inline document set and returns each hit's composite score plus a per-sub-query explanation breakdown.",
	}, s.handleHybridSearchExplain)

	return s
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (s *Server) handleHybridSearchExplain(ctx context.Context, _ *mcp.CallToolRequest, input HybridSearchExplainInput) (
	*mcp.CallToolResult,
	HybridSearchExplainOutput,
	error,
) {
	out, err := s.RunHybridSearchExplain(ctx, input)
	return nil, out, err
}

// RunHybridSearchExplain is the pipeline core behind the hybrid_search_explain
// tool, factored out so `neuralsearchctl pipeline explain` can call it
// in-process without going through the MCP transport.
func (s *Server) RunHybridSearchExplain(ctx context.Context, input HybridSearchExplainInput) (HybridSearchExplainOutput, error) {
	if len(input.Documents) == 0 {
		return HybridSearchExplainOutput{}, fmt.Errorf("at least one document is required")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	start := time.Now()

	lexical, err := shardindex.NewLexicalShard()
	if err != nil {
		return HybridSearchExplainOutput{}, fmt.Errorf("failed to build lexical shard: %w", err)
	}
	defer lexical.Close()
	vector := shardindex.NewVectorShard()

	lexDocs := make(map[int32]string, len(input.Documents))
	for _, doc := range input.Documents {
		if doc.Content != "" {
			lexDocs[doc.DocID] = doc.Content
		}
		if len(doc.Vector) > 0 {
			vector.Add(doc.DocID, toFloat32(doc.Vector))
		}
	}
	if err := lexical.Index(lexDocs); err != nil {
		return HybridSearchExplainOutput{}, fmt.Errorf("failed to index documents: %w", err)
	}

	lexicalHits, err := lexical.Search(ctx, input.Query, limit)
	if err != nil {
		return HybridSearchExplainOutput{}, fmt.Errorf("lexical search failed: %w", err)
	}
	vectorHits := vector.Search(toFloat32(input.QueryVector), limit)

	shard := scoredoc.SearchShard{IndexName: "inline", ShardID: 0}
	raw := shardindex.AssembleRawTopDocs(shard.ShardID, lexicalHits, vectorHits)
	compound := scoredoc.Decode(raw, shard)

	normTechnique, err := s.resolveNormalization(input.Normalization)
	if err != nil {
		return HybridSearchExplainOutput{}, err
	}
	combTechnique, err := s.resolveCombination(input.Combination, 2)
	if err != nil {
		return HybridSearchExplainOutput{}, err
	}

	rawScores := buildRawScoreLookup(compound)

	normalizer := normalize.NewNormalizer(nil)
	combiner := combine.NewCombiner()
	wf := workflow.New(normalizer, combiner, nil)

	result, err := wf.Execute(workflow.Request{
		QuerySearchResults:     []workflow.ShardResult{{Shard: shard, Raw: &raw}},
		NormalizationTechnique: normTechnique,
		CombinationTechnique:   combTechnique,
		Explain:                true,
		From:                   -1,
	})
	if err != nil {
		return HybridSearchExplainOutput{}, fmt.Errorf("pipeline execution failed: %w", err)
	}
	if result.Skipped || len(result.Shards) == 0 {
		return HybridSearchExplainOutput{}, fmt.Errorf("pipeline produced no shard output")
	}

	aggregator := explain.NewAggregator(*result.Explanation)
	out := HybridSearchExplainOutput{Hits: make([]HitOutput, 0, len(result.Shards[0].ScoreDocs))}
	for _, doc := range result.Shards[0].ScoreDocs {
		queryLevel := buildQueryLevelExplanation(doc.DocID, rawScores)
		explained, err := aggregator.Aggregate(shard, doc.Score, queryLevel)
		if err != nil {
			return HybridSearchExplainOutput{}, fmt.Errorf("failed to aggregate explanation for doc %d: %w", doc.DocID, err)
		}
		out.Hits = append(out.Hits, HitOutput{
			DocID:       doc.DocID,
			Score:       float64(doc.Score),
			Explanation: toExplanationNode(explained),
		})
	}

	if s.store != nil {
		_ = s.store.RecordRun(ctx, pipelinestore.Run{
			RanAt:            start,
			Normalization:    normTechnique.Name(),
			Combination:      combTechnique.Name(),
			ShardCount:       1,
			HitCount:         len(out.Hits),
			DurationMS:       time.Since(start).Milliseconds(),
			ExplainRequested: true,
		})
	}

	return out, nil
}

func (s *Server) resolveNormalization(override string) (normalize.Technique, error) {
	cfg := s.config
	if override != "" {
		cfg.Normalization.Technique = override
	}
	return cfg.BuildNormalizationTechnique()
}

func (s *Server) resolveCombination(override string, numSubQueries int) (combine.Technique, error) {
	cfg := s.config
	if override != "" {
		cfg.Combination.Technique = override
	}
	return cfg.BuildCombinationTechnique(numSubQueries)
}

// subQueryRawScore pairs a sub-query index with its raw (pre-normalization) score.
type subQueryRawScore struct {
	score   float32
	matched bool
}

func buildRawScoreLookup(compound scoredoc.CompoundTopDocs) map[int32][]subQueryRawScore {
	lookup := make(map[int32][]subQueryRawScore)
	for i, sub := range compound.TopDocsPerSubQuery {
		for _, hit := range sub.ScoreDocs {
			entries, ok := lookup[hit.DocID]
			if !ok {
				entries = make([]subQueryRawScore, len(compound.TopDocsPerSubQuery))
			}
			entries[i] = subQueryRawScore{score: hit.Score, matched: true}
			lookup[hit.DocID] = entries
		}
	}
	return lookup
}

var subQueryDescriptions = []string{"lexical bm25 match", "vector cosine similarity"}

func buildQueryLevelExplanation(docID int32, rawScores map[int32][]subQueryRawScore) explain.Explanation {
	entries := rawScores[docID]
	children := make([]explain.Explanation, len(subQueryDescriptions))
	for i, desc := range subQueryDescriptions {
		var value float32
		if i < len(entries) && entries[i].matched {
			value = entries[i].score
		}
		children[i] = explain.Match(value, desc)
	}
	return explain.Match(0, "hybrid query", children...)
}

func toExplanationNode(e explain.Explanation) ExplanationNode {
	node := ExplanationNode{Value: float64(e.Value), Description: e.Description}
	for _, d := range e.Details {
		node.Details = append(node.Details, toExplanationNode(d))
	}
	return node
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
