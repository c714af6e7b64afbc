// Package explain implements the ExplanationAggregator (C7): it merges the
// normalization/combination explanations the workflow produced with the
// engine's own per-hit, per-sub-query query-level explanation tree.
package explain

import (
	"fmt"

	pipelineerrors "github.com/opensearch-project/neural-search-sub002/internal/errors"
	"github.com/opensearch-project/neural-search-sub002/internal/scoredoc"
)

// Explanation is a Lucene-style explanation node: a contributing value, a
// human-readable description, and zero or more children.
type Explanation struct {
	Value       float32
	Description string
	Details     []Explanation
}

// Match builds an Explanation node, mirroring the engine's
// Explanation.match(value, description, children...) constructor.
func Match(value float32, description string, details ...Explanation) Explanation {
	return Explanation{Value: value, Description: description, Details: details}
}

// Aggregator walks the final response hit-by-hit, pairing each hit's
// engine-supplied query-level explanation with the normalization/
// combination details recorded for its shard. It is stateful: per-shard
// indices advance by one on every call, so hits must be aggregated in
// response order.
type Aggregator struct {
	payload scoredoc.ExplanationPayload
	indices map[scoredoc.SearchShard]int
}

// NewAggregator builds an Aggregator over a workflow-produced payload.
func NewAggregator(payload scoredoc.ExplanationPayload) *Aggregator {
	return &Aggregator{
		payload: payload,
		indices: make(map[scoredoc.SearchShard]int),
	}
}

// Aggregate builds the final explanation for one hit. hitScore is the
// hit's final (combined) score; NaN is treated as 0.0. queryLevel is the
// explanation the engine already attached to the hit, with one child per
// sub-query.
func (a *Aggregator) Aggregate(shard scoredoc.SearchShard, hitScore float32, queryLevel Explanation) (Explanation, error) {
	if isNaN32(hitScore) {
		hitScore = 0
	}

	list := a.payload.Data[shard]
	idx := a.indices[shard]
	if idx >= len(list) {
		return Explanation{}, fmt.Errorf("no combined explanation details for shard %+v at hit index %d", shard, idx)
	}
	details := list[idx]
	a.indices[shard] = idx + 1

	if len(details.Normalization.ScoreDetails) != len(queryLevel.Details) {
		return Explanation{}, pipelineerrors.ExplanationLengthMismatch(len(queryLevel.Details), len(details.Normalization.ScoreDetails))
	}

	var normalizedChildren []Explanation
	for i, child := range queryLevel.Details {
		if child.Value <= 0 {
			continue
		}
		sd := details.Normalization.ScoreDetails[i]
		normalizedChildren = append(normalizedChildren, Match(sd.Score, sd.Description, child))
	}

	var combinationDescription string
	if len(details.Combination.ScoreDetails) > 0 {
		combinationDescription = details.Combination.ScoreDetails[0].Description
	}

	return Match(hitScore, combinationDescription, normalizedChildren...), nil
}

// Reset clears per-shard indices, allowing the same Aggregator to be
// reused for a second response (e.g. in tests).
func (a *Aggregator) Reset() {
	a.indices = make(map[scoredoc.SearchShard]int)
}

func isNaN32(v float32) bool {
	return v != v
}
