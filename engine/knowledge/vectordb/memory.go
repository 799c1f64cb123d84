package vectordb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/compozy/ragchain/engine/core"
	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/chunk"
)

const (
	opAdd    = "add"
	opSearch = "search"
	opRemove = "remove"
)

// Index is an exact in-memory vector index. Writers take the exclusive lock and
// searches share the read lock, so a search never observes a partial insert or removal.
type Index struct {
	name   string
	metric Metric

	mu        sync.RWMutex
	dimension int
	seq       uint64
	entries   []*entry
	byID      map[string]*entry
}

type entry struct {
	seq    uint64
	chunk  chunk.Chunk
	vector []float32
}

type Option func(*Index)

// WithMetric replaces the default cosine similarity.
func WithMetric(m Metric) Option {
	return func(idx *Index) {
		if m != nil {
			idx.metric = m
		}
	}
}

// WithName labels the index in metrics and logs.
func WithName(name string) Option {
	return func(idx *Index) {
		if name != "" {
			idx.name = name
		}
	}
}

func NewIndex(opts ...Option) *Index {
	idx := &Index{
		name:   "default",
		metric: Cosine,
		byID:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(idx)
	}
	trackIndex(idx)
	return idx
}

// Add inserts one chunk. The first successful insert fixes the dimension; a
// rejected insert leaves the index unchanged.
func (idx *Index) Add(ctx context.Context, c chunk.Chunk, emb Embedding) error {
	return idx.AddBatch(ctx, []Entry{{Chunk: c, Embedding: emb}})
}

// AddBatch inserts all entries in order or none of them.
func (idx *Index) AddBatch(ctx context.Context, batch []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	dimension, err := validateBatch(batch, idx.dimension, idx.byID)
	if err != nil {
		recordIndexError(ctx, opAdd, knowledge.KindOf(err))
		return err
	}
	idx.dimension = dimension
	idx.append(batch)
	return nil
}

// ReplaceAll swaps the whole content for batch and reports how many entries
// were dropped. The batch is validated as if the index were empty; on error
// the previous content stays in place.
func (idx *Index) ReplaceAll(ctx context.Context, batch []Entry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	dimension, err := validateBatch(batch, 0, nil)
	if err != nil {
		recordIndexError(ctx, opAdd, knowledge.KindOf(err))
		return 0, err
	}
	removed := len(idx.entries)
	idx.entries = nil
	idx.byID = make(map[string]*entry, len(batch))
	idx.dimension = dimension
	idx.append(batch)
	return removed, nil
}

// ReplaceDocuments drops every chunk of documentIDs and inserts batch under a
// single write lock. It reports how many chunks were dropped. On error the
// index is unchanged.
func (idx *Index) ReplaceDocuments(ctx context.Context, documentIDs []string, batch []Entry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	replaced := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		replaced[id] = struct{}{}
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	kept := make(map[string]*entry, len(idx.byID))
	for _, e := range idx.entries {
		if _, drop := replaced[e.chunk.DocumentID]; !drop {
			kept[e.chunk.ID] = e
		}
	}
	dimension := idx.dimension
	if len(kept) == 0 {
		dimension = 0
	}
	dimension, err := validateBatch(batch, dimension, kept)
	if err != nil {
		recordIndexError(ctx, opAdd, knowledge.KindOf(err))
		return 0, err
	}
	removed := idx.removeWhere(func(e *entry) bool {
		_, drop := replaced[e.chunk.DocumentID]
		return drop
	})
	idx.dimension = dimension
	idx.append(batch)
	return removed, nil
}

func (idx *Index) append(batch []Entry) {
	for i := range batch {
		idx.seq++
		e := &entry{
			seq:    idx.seq,
			chunk:  batch[i].Chunk,
			vector: slices.Clone(batch[i].Embedding.Vector),
		}
		idx.entries = append(idx.entries, e)
		idx.byID[e.chunk.ID] = e
	}
}

// validateBatch checks batch against an index of the given dimension holding
// the existing ids. It returns the dimension the index has after the insert.
func validateBatch(batch []Entry, dimension int, existing map[string]*entry) (int, error) {
	pending := make(map[string]struct{}, len(batch))
	for i := range batch {
		c := batch[i].Chunk
		vec := batch[i].Embedding.Vector
		if c.ID == "" {
			return 0, knowledge.NewError(knowledge.KindInvalidConfig, opAdd, errors.New("chunk id is required"))
		}
		if id := batch[i].Embedding.ChunkID; id != "" && id != c.ID {
			return 0, knowledge.Errorf(knowledge.KindInvalidConfig, opAdd, "embedding for %q attached to chunk %q", id, c.ID)
		}
		if len(vec) == 0 {
			return 0, knowledge.Errorf(knowledge.KindDimensionMismatch, opAdd, "chunk %q has an empty vector", c.ID)
		}
		if dimension == 0 {
			dimension = len(vec)
		}
		if len(vec) != dimension {
			return 0, knowledge.Errorf(
				knowledge.KindDimensionMismatch,
				opAdd,
				"chunk %q dimension mismatch (got %d want %d)",
				c.ID,
				len(vec),
				dimension,
			)
		}
		if !finite(vec) {
			return 0, knowledge.Errorf(knowledge.KindInvalidConfig, opAdd, "chunk %q vector has non-finite values", c.ID)
		}
		if _, exists := existing[c.ID]; exists {
			return 0, fmt.Errorf("vectordb: %w: %q", ErrDuplicateChunk, c.ID)
		}
		if _, exists := pending[c.ID]; exists {
			return 0, fmt.Errorf("vectordb: %w: %q", ErrDuplicateChunk, c.ID)
		}
		pending[c.ID] = struct{}{}
	}
	return dimension, nil
}

// Search returns up to k entries by descending similarity. Equal scores keep
// insertion order. An empty index yields an empty result.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, knowledge.Errorf(knowledge.KindInvalidConfig, opSearch, "k must be positive, got %d", k)
	}
	start := time.Now()
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.entries) == 0 {
		return []Result{}, nil
	}
	if len(query) != idx.dimension {
		err := knowledge.Errorf(
			knowledge.KindDimensionMismatch,
			opSearch,
			"query dimension %d does not match index dimension %d",
			len(query),
			idx.dimension,
		)
		recordIndexError(ctx, opSearch, knowledge.KindDimensionMismatch)
		return nil, err
	}
	if !finite(query) {
		recordIndexError(ctx, opSearch, knowledge.KindInvalidConfig)
		return nil, knowledge.Errorf(knowledge.KindInvalidConfig, opSearch, "query vector has non-finite values")
	}
	type scored struct {
		e     *entry
		score float64
	}
	candidates := make([]scored, len(idx.entries))
	for i, e := range idx.entries {
		candidates[i] = scored{e: e, score: idx.metric.Similarity(query, e.vector)}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].e.seq < candidates[j].e.seq
		}
		return candidates[i].score > candidates[j].score
	})
	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		c := candidates[i].e.chunk
		c.Metadata = core.CloneMap(c.Metadata)
		results[i] = Result{Chunk: c, Score: candidates[i].score}
	}
	recordSearch(ctx, idx.name, idx.metric.Name(), k, time.Since(start))
	return results, nil
}

// Remove deletes one chunk.
func (idx *Index) Remove(ctx context.Context, chunkID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.byID[chunkID]; !ok {
		recordIndexError(ctx, opRemove, knowledge.KindNotFound)
		return fmt.Errorf("vectordb: %w: %q", ErrChunkNotFound, chunkID)
	}
	idx.removeWhere(func(e *entry) bool { return e.chunk.ID == chunkID })
	return nil
}

// RemoveDocument deletes every chunk of a document and reports how many were removed.
func (idx *Index) RemoveDocument(ctx context.Context, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeWhere(func(e *entry) bool { return e.chunk.DocumentID == documentID }), nil
}

func (idx *Index) removeWhere(match func(*entry) bool) int {
	kept := idx.entries[:0]
	removed := 0
	for _, e := range idx.entries {
		if match(e) {
			delete(idx.byID, e.chunk.ID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(idx.entries[len(kept):])
	idx.entries = kept
	return removed
}

// Reset empties the index and releases its dimension.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = nil
	idx.byID = make(map[string]*entry)
	idx.dimension = 0
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

// Contains reports whether a chunk is stored.
func (idx *Index) Contains(chunkID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.byID[chunkID]
	return ok
}

func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	docs := make(map[string]struct{})
	for _, e := range idx.entries {
		docs[e.chunk.DocumentID] = struct{}{}
	}
	return Stats{
		Name:      idx.name,
		Metric:    idx.metric.Name(),
		Entries:   len(idx.entries),
		Documents: len(docs),
		Dimension: idx.dimension,
	}
}

// Close stops reporting the index in metrics.
func (idx *Index) Close() {
	untrackIndex(idx)
}
