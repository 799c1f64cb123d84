package vectordb

import (
	"context"
	"errors"

	"github.com/compozy/ragchain/engine/knowledge/chunk"
)

var (
	ErrDuplicateChunk = errors.New("duplicate chunk id")
	ErrChunkNotFound  = errors.New("chunk not found")
)

// Embedding is the vector produced for one chunk.
type Embedding struct {
	ChunkID string
	Vector  []float32
}

// Entry pairs a chunk with its embedding for batch insertion.
type Entry struct {
	Chunk     chunk.Chunk
	Embedding Embedding
}

// Result is one ranked retrieval hit.
type Result struct {
	Chunk chunk.Chunk
	Score float64
}

// Searcher is the read side of an index.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
}

// Stats summarizes index contents.
type Stats struct {
	Name      string
	Metric    string
	Entries   int
	Documents int
	Dimension int
}

// SearchFunc adapts a function into a Searcher.
type SearchFunc func(ctx context.Context, query []float32, k int) ([]Result, error)

func (f SearchFunc) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	return f(ctx, query, k)
}
