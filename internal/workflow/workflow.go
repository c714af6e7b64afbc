// Package workflow implements the NormalizationProcessorWorkflow (C6): the
// orchestrator that decodes every shard's score stream, drives C4/C5, and
// rewrites shard and fetch results in place between the engine's QUERY and
// FETCH phases.
package workflow

import (
	"sort"

	"github.com/opensearch-project/neural-search-sub002/internal/combine"
	pipelineerrors "github.com/opensearch-project/neural-search-sub002/internal/errors"
	"github.com/opensearch-project/neural-search-sub002/internal/normalize"
	"github.com/opensearch-project/neural-search-sub002/internal/registry"
	"github.com/opensearch-project/neural-search-sub002/internal/scoredoc"
)

// ShardResult is one shard's entry in the phase snapshot. Raw is nil when
// the shard did not respond.
type ShardResult struct {
	Shard scoredoc.SearchShard
	Raw   *scoredoc.RawTopDocs
}

// SearchHit is one fetch-phase hit, as handed to the workflow and rewritten
// in place.
type SearchHit struct {
	DocID          int32
	Score          float32
	HasInnerHits   bool
	SubQueryScores []float32
}

// FetchResult is the single-shard, post-fetch result the workflow rewrites.
// RequestCached marks a response-cache hit, where Hits may be shorter than
// the query phase's doc_ids.
type FetchResult struct {
	Hits          []SearchHit
	RequestCached bool
}

// Request is C6's entry contract (spec.md section 4.6).
type Request struct {
	QuerySearchResults           []ShardResult
	FetchSearchResult            *FetchResult
	NormalizationTechnique       normalize.Technique
	CombinationTechnique         combine.Technique
	SubQueryScoresFlag           bool
	ClusterSupportsSubQueryScores bool
	Explain                      bool
	PhaseContext                 registry.PhaseContextKey
	// From is the request's pagination offset, or -1 if unspecified.
	From int
}

// ShardOutput is one shard's rewritten query-phase result.
type ShardOutput struct {
	Shard      scoredoc.SearchShard
	TotalHits  scoredoc.TotalHits
	ScoreDocs  []scoredoc.ScoreDoc
	MaxScore   float32
	SortFields []scoredoc.SortField
	// From is set to from_value_for_single_shard when fetch already ran
	// against this shard; otherwise it is -1.
	From int
}

// Result is C6's output.
type Result struct {
	// Skipped is true when the first shard's stream wasn't hybrid; in that
	// case every other field is zero and the caller must leave the phase
	// snapshot untouched.
	Skipped      bool
	Shards       []ShardOutput
	FetchHits    []SearchHit
	Explanation  *scoredoc.ExplanationPayload
}

// Workflow is the NormalizationProcessorWorkflow (C6).
type Workflow struct {
	normalizer *normalize.Normalizer
	combiner   *combine.Combiner
	scores     *registry.SubQueryScores
}

// New builds a Workflow. scores may be nil if no request ever sets
// SubQueryScoresFlag.
func New(normalizer *normalize.Normalizer, combiner *combine.Combiner, scores *registry.SubQueryScores) *Workflow {
	return &Workflow{normalizer: normalizer, combiner: combiner, scores: scores}
}

// Execute runs the full C6 procedure over req, mutating nothing outside its
// return value — callers are responsible for installing Result back onto
// the engine's phase snapshot.
func (w *Workflow) Execute(req Request) (Result, error) {
	if len(req.QuerySearchResults) == 0 || req.QuerySearchResults[0].Raw == nil || !scoredoc.IsHybrid(*req.QuerySearchResults[0].Raw) {
		return Result{Skipped: true}, nil
	}

	unprocessedDocIDs := docIDsInStreamOrder(*req.QuerySearchResults[0].Raw)

	shards := make([]scoredoc.SearchShard, 0, len(req.QuerySearchResults))
	compound := make([]scoredoc.CompoundTopDocs, 0, len(req.QuerySearchResults))
	for _, sr := range req.QuerySearchResults {
		if sr.Raw == nil {
			continue
		}
		shards = append(shards, sr.Shard)
		compound = append(compound, scoredoc.Decode(*sr.Raw, sr.Shard))
	}
	if len(compound) != len(shards) {
		return Result{}, pipelineerrors.ShardCountMismatch(len(shards), len(compound))
	}

	normTechnique := req.NormalizationTechnique
	if req.CombinationTechnique.IsRankBased() {
		normTechnique = noOpNormalization{}
	}

	var normExplain, combExplain map[scoredoc.DocIdAtSearchShard]scoredoc.ExplanationDetails
	if req.Explain {
		normExplain = w.normalizer.Explain(compound, normTechnique)
		combExplain = w.combiner.Explain(compound, req.CombinationTechnique)
	}

	w.normalizer.NormalizeScores(normalize.NormalizeDto{
		QueryTopDocs:       compound,
		Technique:          normTechnique,
		SubQueryScoresFlag: req.SubQueryScoresFlag,
		PhaseContext:       req.PhaseContext,
	})

	sortSpec := evaluateSort(compound)
	w.combiner.CombineScores(combine.CombineDto{
		QueryTopDocs: compound,
		Technique:    req.CombinationTechnique,
		Sort:         buildSortComparator(sortSpec),
	})

	fromValue := fromValueForSingleShard(req)

	outputs := make([]ShardOutput, len(compound))
	var singleShardIdx = -1
	for i, shardDocs := range compound {
		maxScore := maxScoreOf(shardDocs.ScoreDocs, sortSpec)
		out := ShardOutput{
			Shard:      shardDocs.SearchShard,
			TotalHits:  shardDocs.TotalHits,
			ScoreDocs:  shardDocs.ScoreDocs,
			MaxScore:   maxScore,
			SortFields: sortSpec,
			From:       -1,
		}
		if req.FetchSearchResult != nil {
			out.From = fromValue
			singleShardIdx = i
		}
		outputs[i] = out
	}

	result := Result{Shards: outputs}

	if req.Explain {
		result.Explanation = buildExplanationPayload(compound, normExplain, combExplain)
	}

	if req.FetchSearchResult != nil {
		if singleShardIdx < 0 {
			return Result{}, pipelineerrors.InternalError("fetch result present but no shard decoded", nil)
		}
		combinedScoreDocs := compound[singleShardIdx].ScoreDocs
		if fromValue > len(combinedScoreDocs) {
			return Result{}, pipelineerrors.PaginationDepthExceeded(fromValue, len(combinedScoreDocs))
		}

		hits, err := w.rewriteFetchHits(req, unprocessedDocIDs, combinedScoreDocs, fromValue, shards[singleShardIdx])
		if err != nil {
			return Result{}, err
		}
		result.FetchHits = hits

		if req.SubQueryScoresFlag && w.scores != nil {
			w.scores.Remove(req.PhaseContext)
		}
	}

	return result, nil
}

func (w *Workflow) rewriteFetchHits(req Request, unprocessedDocIDs []int32, combinedScoreDocs []scoredoc.ScoreDoc, fromValue int, shard scoredoc.SearchShard) ([]SearchHit, error) {
	fetch := req.FetchSearchResult
	if !fetch.RequestCached && len(fetch.Hits) != len(unprocessedDocIDs) {
		return nil, pipelineerrors.FetchQueryMismatch(len(unprocessedDocIDs), len(fetch.Hits))
	}

	hitsByDocID := make(map[int32]SearchHit, len(fetch.Hits))
	for i, hit := range fetch.Hits {
		if i >= len(unprocessedDocIDs) {
			break
		}
		hitsByDocID[unprocessedDocIDs[i]] = hit
	}

	trimmedLength := len(combinedScoreDocs) - fromValue
	if trimmedLength < 0 {
		trimmedLength = 0
	}

	newHits := make([]SearchHit, 0, trimmedLength)
	for i := 0; i < trimmedLength; i++ {
		doc := combinedScoreDocs[i+fromValue]
		hit, ok := hitsByDocID[doc.DocID]
		if !ok {
			continue
		}
		hit.Score = doc.Score
		if req.SubQueryScoresFlag && req.ClusterSupportsSubQueryScores && !hit.HasInnerHits && w.scores != nil {
			if scores, ok := w.scores.Get(req.PhaseContext, registry.ShardDocKey{Shard: shard, DocID: doc.DocID}); ok {
				hit.SubQueryScores = scores
			}
		}
		newHits = append(newHits, hit)
	}
	return newHits, nil
}

// fromValueForSingleShard implements spec.md section 4.6's derivation rule.
func fromValueForSingleShard(req Request) int {
	if len(req.QuerySearchResults) == 1 || req.FetchSearchResult != nil {
		if req.From == -1 {
			return 0
		}
		return req.From
	}
	return -1
}

func docIDsInStreamOrder(raw scoredoc.RawTopDocs) []int32 {
	var ids []int32
	for _, d := range raw.ScoreDocs {
		if d.IsSentinel() {
			continue
		}
		ids = append(ids, d.DocID)
	}
	return ids
}

func maxScoreOf(docs []scoredoc.ScoreDoc, sortSpec []scoredoc.SortField) float32 {
	if len(docs) == 0 {
		return 0
	}
	if len(sortSpec) == 0 {
		return docs[0].Score
	}
	max := docs[0].Score
	for _, d := range docs[1:] {
		if d.Score > max {
			max = d.Score
		}
	}
	return max
}

// evaluateSort implements spec.md section 4.6.1: the first shard carrying
// an active sort spec wins; its reverse flags are preserved verbatim.
func evaluateSort(compound []scoredoc.CompoundTopDocs) []scoredoc.SortField {
	for _, c := range compound {
		if len(c.SortFields) > 0 {
			return c.SortFields
		}
	}
	return nil
}

// buildSortComparator turns a sort spec into a combine.SortComparator,
// widening mixed numeric sort-field types across shards by comparing them
// as float64 (spec.md section 9's "smallest type that losslessly contains
// both" resolved pragmatically for Go's untyped sort values).
func buildSortComparator(spec []scoredoc.SortField) combine.SortComparator {
	if len(spec) == 0 {
		return nil
	}
	return func(a, b scoredoc.ScoreDoc) bool {
		for i, f := range spec {
			if i >= len(a.SortFields) || i >= len(b.SortFields) {
				break
			}
			c := compareSortValues(a.SortFields[i], b.SortFields[i])
			if c == 0 {
				continue
			}
			less := c < 0
			if f.Reverse {
				less = !less
			}
			return less
		}
		return a.DocID < b.DocID
	}
}

func compareSortValues(a, b any) int {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			switch {
			case as < bs:
				return -1
			case as > bs:
				return 1
			default:
				return 0
			}
		}
	}
	return 0
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// buildExplanationPayload assembles the per-shard ordered explanation list
// in final (post-combine) hit order, per spec.md section 4.6 step 3/6.
func buildExplanationPayload(compound []scoredoc.CompoundTopDocs, normExplain, combExplain map[scoredoc.DocIdAtSearchShard]scoredoc.ExplanationDetails) *scoredoc.ExplanationPayload {
	data := make(map[scoredoc.SearchShard][]scoredoc.CombinedExplanationDetails, len(compound))
	for _, shardDocs := range compound {
		list := make([]scoredoc.CombinedExplanationDetails, 0, len(shardDocs.ScoreDocs))
		for _, doc := range shardDocs.ScoreDocs {
			key := scoredoc.DocIdAtSearchShard{DocID: doc.DocID, SearchShard: shardDocs.SearchShard}
			list = append(list, scoredoc.CombinedExplanationDetails{
				Normalization: normExplain[key],
				Combination:   combExplain[key],
			})
		}
		data[shardDocs.SearchShard] = list
	}
	return &scoredoc.ExplanationPayload{
		PayloadType: scoredoc.PayloadTypeNormalizationProcessor,
		Data:        data,
	}
}

// noOpNormalization is installed in place of the configured normalization
// technique when the combination technique is rank-based (RRF): it leaves
// scores untouched and still emits one explanation entry per sub-query so
// C7's length invariant holds.
type noOpNormalization struct{}

func (noOpNormalization) Name() string { return "no_op" }

func (noOpNormalization) Normalize(_ []scoredoc.CompoundTopDocs) {}

func (noOpNormalization) Explain(queryTopDocs []scoredoc.CompoundTopDocs) map[scoredoc.DocIdAtSearchShard]scoredoc.ExplanationDetails {
	numSubQueries := 0
	for _, c := range queryTopDocs {
		if len(c.TopDocsPerSubQuery) > numSubQueries {
			numSubQueries = len(c.TopDocsPerSubQuery)
		}
	}

	lookups := make([]map[int32]float32, numSubQueries)
	for i := 0; i < numSubQueries; i++ {
		lookups[i] = make(map[int32]float32)
	}
	for _, c := range queryTopDocs {
		for i, sub := range c.TopDocsPerSubQuery {
			for _, hit := range sub.ScoreDocs {
				lookups[i][hit.DocID] = hit.Score
			}
		}
	}

	result := make(map[scoredoc.DocIdAtSearchShard]scoredoc.ExplanationDetails)
	for _, c := range queryTopDocs {
		ids := docIDsAcrossSubQueries(c)
		for _, docID := range ids {
			details := scoredoc.ExplanationDetails{DocID: docID}
			for i := 0; i < numSubQueries; i++ {
				score, matched := lookups[i][docID]
				if !matched {
					details.ScoreDetails = append(details.ScoreDetails, scoredoc.ScoreDetail{Score: 0, Description: "no_op normalization of [not matched]"})
					continue
				}
				details.ScoreDetails = append(details.ScoreDetails, scoredoc.ScoreDetail{Score: score, Description: "no_op normalization of [rank-based]"})
			}
			result[scoredoc.DocIdAtSearchShard{DocID: docID, SearchShard: c.SearchShard}] = details
		}
	}
	return result
}

func docIDsAcrossSubQueries(c scoredoc.CompoundTopDocs) []int32 {
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
