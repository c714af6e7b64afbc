// Package scoredoc implements the per-shard document and score types that
// flow through the hybrid-query post-processing pipeline, along with the
// decoder that turns a shard's flattened, delimited score stream back into
// one TopDocs list per sub-query.
package scoredoc

import "math"

// Sentinel score values marking sub-query boundaries in a shard's
// flattened score stream. A sentinel hit always carries DocID -1.
const (
	MagicStartStopScore float32 = -math.MaxFloat32
	MagicDelimScore     float32 = -math.MaxFloat32 / 2
	sentinelDocID        int32  = -1
)

// Relation describes how TotalHits.Value relates to the real hit count.
type Relation int

const (
	RelationEqual Relation = iota
	RelationGreaterOrEqual
)

// TotalHits reports the number of matching documents for a query or
// sub-query, and whether that count is exact.
type TotalHits struct {
	Value    uint64
	Relation Relation
}

// ScoreDoc is one scored hit. SortFields is nil unless the owning TopDocs
// has sort active, in which case it carries one value per sort field
// (collapsing spec.md's separate FieldDoc type into this one).
type ScoreDoc struct {
	DocID      int32
	Score      float32
	ShardIndex int32
	SortFields []any
}

// IsSentinel reports whether d is a START_STOP or DELIM marker rather than
// a real hit.
func (d ScoreDoc) IsSentinel() bool {
	return d.DocID == sentinelDocID && (d.Score == MagicStartStopScore || d.Score == MagicDelimScore)
}

func (d ScoreDoc) isStartStop() bool {
	return d.DocID == sentinelDocID && d.Score == MagicStartStopScore
}

func (d ScoreDoc) isDelim() bool {
	return d.DocID == sentinelDocID && d.Score == MagicDelimScore
}

// StartStop builds a START_STOP sentinel hit for shardIndex.
func StartStop(shardIndex int32) ScoreDoc {
	return ScoreDoc{DocID: sentinelDocID, Score: MagicStartStopScore, ShardIndex: shardIndex}
}

// Delim builds a DELIM sentinel hit for shardIndex.
func Delim(shardIndex int32) ScoreDoc {
	return ScoreDoc{DocID: sentinelDocID, Score: MagicDelimScore, ShardIndex: shardIndex}
}

// SortField names one field in a sort specification.
type SortField struct {
	Field   string
	Reverse bool
}

// TopDocs is one query's (or sub-query's) ranked hit list.
type TopDocs struct {
	TotalHits TotalHits
	ScoreDocs []ScoreDoc
}

// RawTopDocs is what a shard hands the decoder: a flattened score stream
// plus the sort specification, if any (nil SortSpec means sort is off).
type RawTopDocs struct {
	TopDocs
	SortSpec []SortField
}

// SearchShard identifies the shard that produced a CompoundTopDocs.
type SearchShard struct {
	IndexName string
	ShardID   int32
	NodeID    string
}

// CompoundTopDocs is one shard's decoded hybrid-query result: one TopDocs
// per sub-query, plus a flat projection (ScoreDocs) used for fast
// iteration and later overwritten in place by combination.
type CompoundTopDocs struct {
	TotalHits          TotalHits
	TopDocsPerSubQuery []TopDocs
	ScoreDocs          []ScoreDoc
	SearchShard        SearchShard
	SortFields         []SortField
}

// SetScoreDocs installs a new flat score-doc list, e.g. after combination.
func (c *CompoundTopDocs) SetScoreDocs(docs []ScoreDoc) {
	c.ScoreDocs = docs
}

// SetTotalHits updates total-hits bookkeeping, e.g. to widen the relation
// to GREATER_OR_EQUAL after combination.
func (c *CompoundTopDocs) SetTotalHits(th TotalHits) {
	c.TotalHits = th
}

// IsHybrid reports whether a shard's raw stream carries the leading
// START_STOP sentinel that marks it as a hybrid-query result. The workflow
// checks this only on the first shard (spec.md's NotHybridQuery kind).
func IsHybrid(raw RawTopDocs) bool {
	return len(raw.ScoreDocs) >= 1 && raw.ScoreDocs[0].isStartStop()
}

// Decode parses a shard's flattened, delimited score stream into a
// CompoundTopDocs: one TopDocs per sub-query, plus the flat ScoreDocs
// projection (a deep copy of the longest sub-query list; ties go to the
// earliest sub-query).
func Decode(raw RawTopDocs, shard SearchShard) CompoundTopDocs {
	compound := CompoundTopDocs{
		TotalHits:   raw.TotalHits,
		SearchShard: shard,
		SortFields:  raw.SortSpec,
	}

	docs := raw.ScoreDocs
	if len(docs) < 2 {
		return compound
	}

	var buf []ScoreDoc
	for i := 2; i < len(docs); i++ {
		d := docs[i]
		if d.IsSentinel() {
			compound.TopDocsPerSubQuery = append(compound.TopDocsPerSubQuery, flushSubQuery(buf))
			buf = buf[:0]
			continue
		}
		buf = append(buf, d)
	}

	compound.ScoreDocs = longestCopy(compound.TopDocsPerSubQuery)
	return compound
}

func flushSubQuery(buf []ScoreDoc) TopDocs {
	cp := make([]ScoreDoc, len(buf))
	copy(cp, buf)
	return TopDocs{
		TotalHits: TotalHits{Value: uint64(len(cp)), Relation: RelationEqual},
		ScoreDocs: cp,
	}
}

// longestCopy returns a deep copy of the longest sub-query score-doc list,
// preferring the earliest sub-query on a length tie.
func longestCopy(subs []TopDocs) []ScoreDoc {
	if len(subs) == 0 {
		return nil
	}
	longest := 0
	for i := 1; i < len(subs); i++ {
		if len(subs[i].ScoreDocs) > len(subs[longest].ScoreDocs) {
			longest = i
		}
	}
	src := subs[longest].ScoreDocs
	cp := make([]ScoreDoc, len(src))
	copy(cp, src)
	return cp
}

// DocIdAtSearchShard is the global identity of a hit, used as a map key
// when aggregating explanations across shards.
type DocIdAtSearchShard struct {
	DocID       int32
	SearchShard SearchShard
}

// ScoreDetail is one line of an explanation: a contributing score and its
// human-readable description.
type ScoreDetail struct {
	Score       float32
	Description string
}

// ExplanationDetails carries the score breakdown for one document.
type ExplanationDetails struct {
	DocID        int32
	ScoreDetails []ScoreDetail
}

// CombinedExplanationDetails pairs a document's normalization explanation
// with its combination explanation.
type CombinedExplanationDetails struct {
	Normalization ExplanationDetails
	Combination   ExplanationDetails
}

// PayloadTypeNormalizationProcessor is the only payload type this pipeline
// produces; named for parity with the pipeline-context key it is stored
// under.
const PayloadTypeNormalizationProcessor = "NORMALIZATION_PROCESSOR"

// ExplanationPayload is the immutable value the workflow hands to the
// response aggregator: per-shard, per-hit normalization/combination
// explanations.
type ExplanationPayload struct {
	PayloadType string
	Data        map[SearchShard][]CombinedExplanationDetails
}
