// Package shardindex provides minimal per-shard search executors — a bleve
// lexical index and an hnsw vector graph — that stand in for the real
// cluster's per-shard query execution, producing the flattened RawTopDocs
// stream the post-processing pipeline (scoredoc.Decode) consumes.
package shardindex

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/coder/hnsw"

	"github.com/opensearch-project/neural-search-sub002/internal/scoredoc"
)

// textDocument is the document shape indexed into the lexical shard.
type textDocument struct {
	Content string `json:"content"`
}

// LexicalShard is an in-memory bleve index standing in for one sub-query's
// lexical shard executor.
type LexicalShard struct {
	mu    sync.RWMutex
	index bleve.Index
}

// NewLexicalShard builds an empty in-memory lexical shard.
func NewLexicalShard() (*LexicalShard, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create lexical shard: %w", err)
	}
	return &LexicalShard{index: idx}, nil
}

// Index adds documents keyed by a shard-local int32 doc ID.
func (s *LexicalShard) Index(docs map[int32]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.index.NewBatch()
	for docID, content := range docs {
		if err := batch.Index(strconv.Itoa(int(docID)), textDocument{Content: content}); err != nil {
			return fmt.Errorf("failed to index doc %d: %w", docID, err)
		}
	}
	return s.index.Batch(batch)
}

// Search runs a BM25 match query and returns a sub-query TopDocs, capped at k.
func (s *LexicalShard) Search(ctx context.Context, query string, k int) (scoredoc.TopDocs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = k

	result, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return scoredoc.TopDocs{}, fmt.Errorf("lexical shard search failed: %w", err)
	}

	docs := make([]scoredoc.ScoreDoc, 0, len(result.Hits))
	for _, hit := range result.Hits {
		docID, err := strconv.Atoi(hit.ID)
		if err != nil {
			continue
		}
		docs = append(docs, scoredoc.ScoreDoc{DocID: int32(docID), Score: float32(hit.Score)})
	}

	return scoredoc.TopDocs{
		TotalHits: scoredoc.TotalHits{Value: uint64(len(docs)), Relation: scoredoc.RelationEqual},
		ScoreDocs: docs,
	}, nil
}

// Close releases the underlying bleve index.
func (s *LexicalShard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// VectorShard is a pure-Go HNSW graph standing in for the neural sub-query's
// per-shard executor. coder/hnsw's Graph is only ever exercised with a
// uint64 key type, so doc IDs are mapped through keyMap/idMap the same way
// the teacher's HNSWStore does, rather than instantiating Graph[int32].
type VectorShard struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	nextKey uint64
	idMap   map[int32]uint64
	keyMap  map[uint64]int32
}

// NewVectorShard builds an empty vector shard using cosine distance.
func NewVectorShard() *VectorShard {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	return &VectorShard{
		graph:  graph,
		idMap:  make(map[int32]uint64),
		keyMap: make(map[uint64]int32),
	}
}

// Add inserts a document's embedding under its shard-local doc ID.
func (s *VectorShard) Add(docID int32, vector []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.nextKey
	s.nextKey++

	s.graph.Add(hnsw.MakeNode(key, vector))
	s.idMap[docID] = key
	s.keyMap[key] = docID
}

// Search returns the k nearest neighbors to query as a sub-query TopDocs,
// with cosine distance converted to a similarity score in [0, 1].
func (s *VectorShard) Search(query []float32, k int) scoredoc.TopDocs {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph.Len() == 0 {
		return scoredoc.TopDocs{}
	}

	nodes := s.graph.Search(query, k)
	docs := make([]scoredoc.ScoreDoc, 0, len(nodes))
	for _, node := range nodes {
		docID, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := s.graph.Distance(query, node.Value)
		score := 1.0 - distance/2.0 // cosine distance in [0,2] -> similarity in [0,1]
		docs = append(docs, scoredoc.ScoreDoc{DocID: docID, Score: score})
	}

	return scoredoc.TopDocs{
		TotalHits: scoredoc.TotalHits{Value: uint64(len(docs)), Relation: scoredoc.RelationEqual},
		ScoreDocs: docs,
	}
}

// Len reports how many vectors are in the shard.
func (s *VectorShard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Len()
}

// AssembleRawTopDocs flattens one shard's per-sub-query TopDocs into the
// START_STOP/DELIM-delimited stream a real node hands the coordinator, in
// the exact layout scoredoc.Decode expects: a leading START_STOP, then one
// DELIM before each sub-query's hits, and a trailing START_STOP to flush the
// last sub-query.
func AssembleRawTopDocs(shardIdx int32, subQueries ...scoredoc.TopDocs) scoredoc.RawTopDocs {
	docs := []scoredoc.ScoreDoc{scoredoc.StartStop(shardIdx)}
	for _, sq := range subQueries {
		docs = append(docs, scoredoc.Delim(shardIdx))
		docs = append(docs, sq.ScoreDocs...)
	}
	docs = append(docs, scoredoc.StartStop(shardIdx))

	return scoredoc.RawTopDocs{
		TopDocs: scoredoc.TopDocs{
			TotalHits: scoredoc.TotalHits{Value: uint64(len(docs)), Relation: scoredoc.RelationEqual},
			ScoreDocs: docs,
		},
	}
}
