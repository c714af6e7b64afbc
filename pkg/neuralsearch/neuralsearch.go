// Package neuralsearch is the public, embeddable Go API over the
// hybrid-query score post-processing pipeline. It gives an in-process Go
// caller (a test harness, a benchmark, another service) a way to run the
// same normalization/combination pipeline that cmd/neuralsearchctl and the
// hybrid_search_explain MCP tool expose, without depending on the MCP SDK
// or shelling out to the CLI.
package neuralsearch

import (
	"context"
	"fmt"

	"github.com/opensearch-project/neural-search-sub002/internal/mcpserver"
	"github.com/opensearch-project/neural-search-sub002/internal/pipelineconfig"
	"github.com/opensearch-project/neural-search-sub002/internal/pipelinestore"
)

// Document is one document to stand up the lexical and vector sub-query
// shards with before the pipeline runs.
type Document struct {
	DocID   int32
	Content string
	Vector  []float64
}

// Request describes one pipeline run: a query against an inline document
// set, with optional per-run technique overrides.
type Request struct {
	Query         string
	QueryVector   []float64
	Documents     []Document
	Limit         int
	Normalization string
	Combination   string
}

// Explanation mirrors explain.Explanation as a plain value type.
type Explanation struct {
	Value       float64
	Description string
	Details     []Explanation
}

// Hit is one combined, explained result.
type Hit struct {
	DocID       int32
	Score       float64
	Explanation Explanation
}

// Response is the result of a pipeline run, ordered by combined score.
type Response struct {
	Hits []Hit
}

// Pipeline runs the hybrid-query score post-processing pipeline in-process.
// It's a thin wrapper over the same core mcpserver.Server uses to serve the
// hybrid_search_explain tool, so direct callers and MCP clients see
// identical pipeline behavior.
type Pipeline struct {
	srv *mcpserver.Server
}

// New builds a Pipeline using cfg's configured normalization/combination
// techniques. store is optional; when nil, runs aren't recorded to the
// audit log.
func New(cfg pipelineconfig.Config, store *pipelinestore.Store) *Pipeline {
	return &Pipeline{srv: mcpserver.New(cfg, store)}
}

// NewDefault builds a Pipeline with pipelineconfig.DefaultConfig() and no
// audit log, for callers that don't need a custom configuration or run
// history.
func NewDefault() *Pipeline {
	return New(pipelineconfig.DefaultConfig(), nil)
}

// Explain runs req through the pipeline and returns each hit's combined
// score and per-sub-query normalization/combination explanation.
func (p *Pipeline) Explain(ctx context.Context, req Request) (Response, error) {
	if len(req.Documents) == 0 {
		return Response{}, fmt.Errorf("at least one document is required")
	}

	docs := make([]mcpserver.DocumentInput, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = mcpserver.DocumentInput{DocID: d.DocID, Content: d.Content, Vector: d.Vector}
	}

	out, err := p.srv.RunHybridSearchExplain(ctx, mcpserver.HybridSearchExplainInput{
		Query:         req.Query,
		QueryVector:   req.QueryVector,
		Documents:     docs,
		Limit:         req.Limit,
		Normalization: req.Normalization,
		Combination:   req.Combination,
	})
	if err != nil {
		return Response{}, err
	}

	hits := make([]Hit, len(out.Hits))
	for i, h := range out.Hits {
		hits[i] = Hit{
			DocID:       h.DocID,
			Score:       h.Score,
			Explanation: toExplanation(h.Explanation),
		}
	}
	return Response{Hits: hits}, nil
}

func toExplanation(n mcpserver.ExplanationNode) Explanation {
	details := make([]Explanation, len(n.Details))
	for i, d := range n.Details {
		details[i] = toExplanation(d)
	}
	return Explanation{Value: n.Value, Description: n.Description, Details: details}
}
