// Package registry holds the two pieces of process-scoped shared state the
// hybrid-query pipeline needs outside of a single workflow invocation: the
// sub-query score side-table consumed by the fetch phase, and a byte-budget
// counter guarding how much of it can be held at once.
package registry

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opensearch-project/neural-search-sub002/internal/scoredoc"
)

// PhaseContextKey identifies one request's phase context. The workflow
// derives it from the engine's phase-context handoff; this package treats
// it as an opaque comparable value.
type PhaseContextKey string

// ShardDocKey is a document's identity within the registry: shard plus
// shard-local doc ID.
type ShardDocKey struct {
	Shard scoredoc.SearchShard
	DocID int32
}

// SubQueryScores is the process-scoped sub-query score registry from
// spec.md section 5: written once by the normalizer before any fetch-phase
// reader can observe it (happens-before via the phase-context handoff),
// read by the single-shard fetch rewrite, and removed explicitly once
// fetch completes so it doesn't grow unbounded across requests. The LRU
// cap is a second line of defense for requests whose Remove never runs
// (e.g. a cancelled fetch phase).
type SubQueryScores struct {
	mu    sync.Mutex
	cache *lru.Cache[PhaseContextKey, map[ShardDocKey][]float32]
}

// NewSubQueryScores builds a registry capped at capacity concurrent
// in-flight requests.
func NewSubQueryScores(capacity int) (*SubQueryScores, error) {
	cache, err := lru.New[PhaseContextKey, map[ShardDocKey][]float32](capacity)
	if err != nil {
		return nil, err
	}
	return &SubQueryScores{cache: cache}, nil
}

// Put records one document's per-sub-query normalized scores under key.
func (r *SubQueryScores) Put(key PhaseContextKey, doc ShardDocKey, scores []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, ok := r.cache.Get(key)
	if !ok {
		docs = make(map[ShardDocKey][]float32)
	}
	docs[doc] = scores
	r.cache.Add(key, docs)
}

// Get reads back a document's per-sub-query scores. Readers must tolerate
// a missing key: the attribute is simply absent on the hit.
func (r *SubQueryScores) Get(key PhaseContextKey, doc ShardDocKey) ([]float32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, ok := r.cache.Get(key)
	if !ok {
		return nil, false
	}
	scores, ok := docs[doc]
	return scores, ok
}

// Remove drops every entry for key. Called once the fetch sub-phase has
// consumed the registry for a request, to bound memory.
func (r *SubQueryScores) Remove(key PhaseContextKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(key)
}

// ByteBudget is a monotonic byte counter with an additive
// add-and-maybe-break operation, adapted from the circuit breaker's
// mutex-guarded counter pattern (spec.md section 5).
type ByteBudget struct {
	mu    sync.Mutex
	used  int64
	limit int64
}

// NewByteBudget builds a budget that rejects reservations once the running
// total would exceed limit.
func NewByteBudget(limit int64) *ByteBudget {
	return &ByteBudget{limit: limit}
}

// AddBytes reserves n bytes under label, returning false without reserving
// anything if doing so would exceed the budget.
func (b *ByteBudget) AddBytes(n int64, label string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.used+n > b.limit {
		return false
	}
	b.used += n
	return true
}

// Release gives back n previously reserved bytes.
func (b *ByteBudget) Release(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.used -= n
	if b.used < 0 {
		b.used = 0
	}
}

// Used returns the currently reserved byte count.
func (b *ByteBudget) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
