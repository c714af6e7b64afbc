package combine

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/opensearch-project/neural-search-sub002/internal/scoredoc"
)

// SortComparator reports whether a should sort before b. A nil comparator
// means "sort descending by composite score, ties broken by ascending
// doc ID" (spec.md section 4.5 step 5).
type SortComparator func(a, b scoredoc.ScoreDoc) bool

// CollapseKeyFunc returns the collapse group key for a doc ID, and whether
// the doc participates in collapse at all.
type CollapseKeyFunc func(docID int32) (key string, ok bool)

// CombineDto is C5's input: the per-shard compounds to combine in place,
// plus the technique and optional sort/collapse behavior.
type CombineDto struct {
	QueryTopDocs []scoredoc.CompoundTopDocs
	Technique    Technique
	Sort         SortComparator
	CollapseKey  CollapseKeyFunc
}

// Combiner is the ScoreCombiner (C5): it reduces every shard's
// per-sub-query scores into one composite per document, re-sorts, and
// handles collapse.
type Combiner struct{}

// NewCombiner returns a ready-to-use Combiner. It has no state of its own.
func NewCombiner() *Combiner { return &Combiner{} }

// CombineScores runs the per-shard procedure from spec.md section 4.5 over
// every shard in dto.QueryTopDocs, mutating each shard's ScoreDocs and
// TotalHits.Relation in place. Shards are independent of one another, so
// the fan-out runs through an errgroup.Group; combineShard never returns
// an error, so g.Wait() only ever surfaces a panic recovered elsewhere.
func (c *Combiner) CombineScores(dto CombineDto) {
	var g errgroup.Group
	for i := range dto.QueryTopDocs {
		i := i
		g.Go(func() error {
			c.combineShard(&dto.QueryTopDocs[i], dto)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Combiner) combineShard(shardDocs *scoredoc.CompoundTopDocs, dto CombineDto) {
	if shardDocs.TotalHits.Value == 0 {
		shardDocs.SetScoreDocs([]scoredoc.ScoreDoc{})
		return
	}

	perDoc, order, maxHits := buildPerDocScores(*shardDocs, dto.Technique)
	composite := make(map[int32]float32, len(perDoc))
	for _, docID := range order {
		composite[docID] = dto.Technique.Combine(perDoc[docID])
	}

	docs := make([]scoredoc.ScoreDoc, 0, len(order))
	for _, docID := range order {
		docs = append(docs, scoredoc.ScoreDoc{
			DocID:      docID,
			Score:      composite[docID],
			ShardIndex: shardDocs.SearchShard.ShardID,
			SortFields: sortFieldsForDoc(*shardDocs, docID),
		})
	}

	sortDocs(docs, dto.Sort)

	if dto.CollapseKey != nil {
		docs = applyCollapse(docs, composite, dto.CollapseKey)
	}

	if len(docs) > maxHits {
		docs = docs[:maxHits]
	}

	shardDocs.SetScoreDocs(docs)
	if anySubQueryGreaterOrEqual(*shardDocs) {
		shardDocs.SetTotalHits(scoredoc.TotalHits{
			Value:    shardDocs.TotalHits.Value,
			Relation: scoredoc.RelationGreaterOrEqual,
		})
	}
}

// buildPerDocScores assembles, for one shard, a per-doc vector of
// per-sub-query values (raw score, or 1-based rank when the technique is
// rank-based), with combine.NotMatched as the absence sentinel. It also
// returns doc IDs in first-seen order and the widest per-sub-query hit
// count (the truncation length from spec.md section 4.5 step 5).
func buildPerDocScores(shardDocs scoredoc.CompoundTopDocs, technique Technique) (map[int32][]float32, []int32, int) {
	numSubQueries := len(shardDocs.TopDocsPerSubQuery)
	perDoc := make(map[int32][]float32)
	var order []int32
	hitsPerSubQuery := make([]int, numSubQueries)

	for i, sub := range shardDocs.TopDocsPerSubQuery {
		hitsPerSubQuery[i] = len(sub.ScoreDocs)
		for k, hit := range sub.ScoreDocs {
			if _, ok := perDoc[hit.DocID]; !ok {
				slot := make([]float32, numSubQueries)
				for j := range slot {
					slot[j] = NotMatched
				}
				perDoc[hit.DocID] = slot
				order = append(order, hit.DocID)
			}
			value := hit.Score
			if technique.IsRankBased() {
				value = float32(k + 1)
			}
			perDoc[hit.DocID][i] = value
		}
	}

	maxHits := 0
	for _, h := range hitsPerSubQuery {
		if h > maxHits {
			maxHits = h
		}
	}
	return perDoc, order, maxHits
}

func sortFieldsForDoc(shardDocs scoredoc.CompoundTopDocs, docID int32) []any {
	for _, sub := range shardDocs.TopDocsPerSubQuery {
		for _, hit := range sub.ScoreDocs {
			if hit.DocID == docID && hit.SortFields != nil {
				return hit.SortFields
			}
		}
	}
	return nil
}

func sortDocs(docs []scoredoc.ScoreDoc, cmp SortComparator) {
	if cmp != nil {
		sort.SliceStable(docs, func(i, j int) bool { return cmp(docs[i], docs[j]) })
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].DocID < docs[j].DocID
	})
}

func anySubQueryGreaterOrEqual(shardDocs scoredoc.CompoundTopDocs) bool {
	for _, sub := range shardDocs.TopDocsPerSubQuery {
		if sub.TotalHits.Relation == scoredoc.RelationGreaterOrEqual {
			return true
		}
	}
	return false
}

// applyCollapse keeps only the best-scoring doc per collapse group,
// preserving the incoming sort order (spec.md section 4.5, Collapse handling).
func applyCollapse(sorted []scoredoc.ScoreDoc, composite map[int32]float32, collapseKey CollapseKeyFunc) []scoredoc.ScoreDoc {
	bestScore := make(map[string]float32)
	bestDoc := make(map[string]int32)
	for _, doc := range sorted {
		key, ok := collapseKey(doc.DocID)
		if !ok {
			key = fmt.Sprintf("__uncollapsed_%d", doc.DocID)
		}
		score := composite[doc.DocID]
		if cur, seen := bestScore[key]; !seen || score > cur {
			bestScore[key] = score
			bestDoc[key] = doc.DocID
		}
	}

	winners := make(map[int32]bool, len(bestDoc))
	for _, docID := range bestDoc {
		winners[docID] = true
	}

	out := make([]scoredoc.ScoreDoc, 0, len(winners))
	for _, doc := range sorted {
		if winners[doc.DocID] {
			out = append(out, doc)
			delete(winners, doc.DocID)
		}
	}
	return out
}

// Explain returns, for every doc retained across all shards, a single
// combination ExplanationDetails (spec.md section 4.5, Explain). Combining
// with the normalizer's output into a CombinedExplanationDetails is the
// caller's job.
func (c *Combiner) Explain(queryTopDocs []scoredoc.CompoundTopDocs, technique Technique) map[scoredoc.DocIdAtSearchShard]scoredoc.ExplanationDetails {
	result := make(map[scoredoc.DocIdAtSearchShard]scoredoc.ExplanationDetails)
	for _, shardDocs := range queryTopDocs {
		perDoc, order, _ := buildPerDocScores(shardDocs, technique)
		for _, docID := range order {
			key := scoredoc.DocIdAtSearchShard{DocID: docID, SearchShard: shardDocs.SearchShard}
			result[key] = technique.Explain(docID, perDoc[docID])
		}
	}
	return result
}
