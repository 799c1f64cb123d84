package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/chunk"
	"github.com/compozy/ragchain/engine/knowledge/embedder"
	"github.com/compozy/ragchain/engine/knowledge/ingest"
	"github.com/compozy/ragchain/engine/knowledge/vectordb"
)

type staticSource []chunk.Document

func (s staticSource) LoadDocuments(context.Context) ([]chunk.Document, error) {
	return s, nil
}

type failingSource struct{ err error }

func (s failingSource) LoadDocuments(context.Context) ([]chunk.Document, error) {
	return nil, s.err
}

// skewedEmbedder finishes early batches last so that completion order differs
// from submission order.
type skewedEmbedder struct {
	local    *embedder.LocalClient
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     error
}

func newSkewedEmbedder(t *testing.T) *skewedEmbedder {
	t.Helper()
	local, err := embedder.NewLocalClient(16)
	require.NoError(t, err)
	return &skewedEmbedder{local: local}
}

func (e *skewedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	n := e.calls.Add(1)
	cur := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		peak := e.peak.Load()
		if cur <= peak || e.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	if e.fail != nil && n == 2 {
		return nil, e.fail
	}
	delay := time.Duration(10-min(int(n), 9)) * 5 * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.local.CreateEmbedding(ctx, texts)
}

func (e *skewedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.local.Vector(text), nil
}

func newProcessor(t *testing.T, size, overlap int) *chunk.Processor {
	t.Helper()
	p, err := chunk.NewProcessor(chunk.Settings{
		Strategy:          chunk.StrategySlidingWindow,
		Size:              size,
		Overlap:           overlap,
		NormalizeNewlines: true,
	})
	require.NoError(t, err)
	return p
}

func corpusOf(n int) staticSource {
	docs := make(staticSource, n)
	for i := range docs {
		docs[i] = chunk.NewDocument(
			fmt.Sprintf("data/doc-%02d.txt", i),
			strings.Repeat(fmt.Sprintf("document %d sentence. ", i), 6),
		)
	}
	return docs
}

// nanEmbedder returns vectors the index must refuse.
type nanEmbedder struct{ dimension int }

func (e nanEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := onesVector(e.dimension)
		vec[0] = float32(math.NaN())
		out[i] = vec
	}
	return out, nil
}

func (e nanEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return onesVector(e.dimension), nil
}

func TestNewPipeline(t *testing.T) {
	t.Run("Should require collaborators", func(t *testing.T) {
		p := newProcessor(t, 50, 5)
		_, err := ingest.NewPipeline(nil, p, newSkewedEmbedder(t), vectordb.NewIndex(), ingest.Options{})
		assert.Error(t, err)
		_, err = ingest.NewPipeline(staticSource{}, nil, newSkewedEmbedder(t), vectordb.NewIndex(), ingest.Options{})
		assert.Error(t, err)
		_, err = ingest.NewPipeline(staticSource{}, p, nil, vectordb.NewIndex(), ingest.Options{})
		assert.Error(t, err)
		_, err = ingest.NewPipeline(staticSource{}, p, newSkewedEmbedder(t), nil, ingest.Options{})
		assert.Error(t, err)
	})
	t.Run("Should reject unknown strategies", func(t *testing.T) {
		_, err := ingest.NewPipeline(
			staticSource{},
			newProcessor(t, 50, 5),
			newSkewedEmbedder(t),
			vectordb.NewIndex(),
			ingest.Options{Strategy: "merge"},
		)
		assert.ErrorIs(t, err, knowledge.ErrInvalidConfig)
	})
}

func TestPipeline_Run(t *testing.T) {
	t.Run("Should keep chunk order while embedding batches in parallel", func(t *testing.T) {
		docs := corpusOf(4)
		proc := newProcessor(t, 40, 10)
		expected, err := proc.Process(docs)
		require.NoError(t, err)
		emb := newSkewedEmbedder(t)
		idx := vectordb.NewIndex()
		p, err := ingest.NewPipeline(docs, proc, emb, idx, ingest.Options{BatchSize: 3, Workers: 4})
		require.NoError(t, err)

		res, err := p.Run(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 4, res.Documents)
		assert.Equal(t, len(expected), res.Chunks)
		assert.Equal(t, len(expected), res.Indexed)
		assert.Equal(t, 16, res.Dimension)
		assert.Greater(t, emb.peak.Load(), int32(1))
		assert.LessOrEqual(t, emb.peak.Load(), int32(4))

		hits, err := idx.Search(t.Context(), onesVector(16), len(expected))
		require.NoError(t, err)
		require.Len(t, hits, len(expected))
		for i := range expected {
			require.True(t, idx.Contains(expected[i].ID))
		}
		stats := idx.Stats()
		assert.Equal(t, 4, stats.Documents)
	})
	t.Run("Should insert chunks in chunk order", func(t *testing.T) {
		// Identical vectors tie on every query, so search order is insertion order.
		docs := corpusOf(3)
		proc := newProcessor(t, 40, 10)
		expected, err := proc.Process(docs)
		require.NoError(t, err)
		flat := &constantEmbedder{}
		idx := vectordb.NewIndex()
		p, err := ingest.NewPipeline(docs, proc, flat, idx, ingest.Options{BatchSize: 2, Workers: 3})
		require.NoError(t, err)
		_, err = p.Run(t.Context())
		require.NoError(t, err)

		hits, err := idx.Search(t.Context(), []float32{1, 0}, len(expected))
		require.NoError(t, err)
		ids := make([]string, len(hits))
		for i := range hits {
			ids[i] = hits[i].Chunk.ID
		}
		want := make([]string, len(expected))
		for i := range expected {
			want[i] = expected[i].ID
		}
		assert.Equal(t, want, ids)
	})
	t.Run("Should accept an empty corpus", func(t *testing.T) {
		idx := vectordb.NewIndex()
		p, err := ingest.NewPipeline(staticSource{}, newProcessor(t, 50, 5), newSkewedEmbedder(t), idx, ingest.Options{})
		require.NoError(t, err)
		res, err := p.Run(t.Context())
		require.NoError(t, err)
		assert.Zero(t, res.Chunks)
		assert.Zero(t, idx.Len())
	})
	t.Run("Should propagate source failures", func(t *testing.T) {
		notFound := knowledge.Errorf(knowledge.KindNotFound, "corpus", "directory %q does not exist", "data")
		p, err := ingest.NewPipeline(
			failingSource{err: notFound},
			newProcessor(t, 50, 5),
			newSkewedEmbedder(t),
			vectordb.NewIndex(),
			ingest.Options{},
		)
		require.NoError(t, err)
		_, err = p.Run(t.Context())
		assert.ErrorIs(t, err, knowledge.ErrNotFound)
	})
	t.Run("Should leave the index untouched when a batch fails", func(t *testing.T) {
		docs := corpusOf(3)
		emb := newSkewedEmbedder(t)
		emb.fail = errors.New("provider unavailable")
		idx := vectordb.NewIndex()
		p, err := ingest.NewPipeline(docs, newProcessor(t, 40, 10), emb, idx, ingest.Options{BatchSize: 2, Workers: 2})
		require.NoError(t, err)
		_, err = p.Run(t.Context())
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrEmbeddingFailure)
		assert.Equal(t, "ingest", knowledge.StageOf(err))
		assert.Zero(t, idx.Len())
	})
	t.Run("Should rebuild from scratch with the replace strategy", func(t *testing.T) {
		idx := vectordb.NewIndex()
		stale := chunk.Chunk{ID: "stale", DocumentID: "gone", Text: "old"}
		require.NoError(t, idx.Add(t.Context(), stale, vectordb.Embedding{ChunkID: "stale", Vector: onesVector(16)}))
		p, err := ingest.NewPipeline(
			corpusOf(1),
			newProcessor(t, 40, 10),
			newSkewedEmbedder(t),
			idx,
			ingest.Options{Strategy: ingest.StrategyReplace},
		)
		require.NoError(t, err)
		res, err := p.Run(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Removed)
		assert.False(t, idx.Contains("stale"))
		assert.Equal(t, res.Indexed, idx.Len())
	})
	t.Run("Should keep a populated index when a replace rebuild is rejected", func(t *testing.T) {
		docs := corpusOf(3)
		idx := vectordb.NewIndex()
		first, err := ingest.NewPipeline(docs, newProcessor(t, 40, 10), newSkewedEmbedder(t), idx, ingest.Options{})
		require.NoError(t, err)
		built, err := first.Run(t.Context())
		require.NoError(t, err)
		require.Positive(t, built.Indexed)

		rebuild, err := ingest.NewPipeline(
			docs,
			newProcessor(t, 40, 10),
			nanEmbedder{dimension: 16},
			idx,
			ingest.Options{Strategy: ingest.StrategyReplace},
		)
		require.NoError(t, err)
		_, err = rebuild.Run(t.Context())
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrInvalidConfig)
		assert.Equal(t, built.Indexed, idx.Len())
		hits, err := idx.Search(t.Context(), onesVector(16), 1)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})
}

func TestPipeline_IndexDocuments(t *testing.T) {
	t.Run("Should keep a document's chunks when its re-ingest is rejected", func(t *testing.T) {
		docs := corpusOf(2)
		idx := vectordb.NewIndex()
		p, err := ingest.NewPipeline(docs, newProcessor(t, 40, 10), newSkewedEmbedder(t), idx, ingest.Options{})
		require.NoError(t, err)
		built, err := p.Run(t.Context())
		require.NoError(t, err)

		broken, err := ingest.NewPipeline(docs, newProcessor(t, 40, 10), nanEmbedder{dimension: 16}, idx, ingest.Options{})
		require.NoError(t, err)
		changed := chunk.NewDocument(docs[0].SourcePath, "short replacement")
		_, err = broken.IndexDocuments(t.Context(), []chunk.Document{changed})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrInvalidConfig)
		assert.Equal(t, built.Indexed, idx.Len())
		assert.Equal(t, 2, idx.Stats().Documents)
	})
	t.Run("Should replace the chunks of a re-ingested document", func(t *testing.T) {
		docs := corpusOf(2)
		idx := vectordb.NewIndex()
		p, err := ingest.NewPipeline(docs, newProcessor(t, 40, 10), newSkewedEmbedder(t), idx, ingest.Options{})
		require.NoError(t, err)
		first, err := p.Run(t.Context())
		require.NoError(t, err)

		changed := chunk.NewDocument(docs[0].SourcePath, "short replacement")
		res, err := p.IndexDocuments(t.Context(), []chunk.Document{changed})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Indexed)
		assert.Positive(t, res.Removed)
		assert.Equal(t, first.Indexed-res.Removed+1, idx.Len())
	})
	t.Run("Should run concurrently with searches", func(t *testing.T) {
		docs := corpusOf(6)
		idx := vectordb.NewIndex()
		p, err := ingest.NewPipeline(docs, newProcessor(t, 40, 10), newSkewedEmbedder(t), idx, ingest.Options{Workers: 3})
		require.NoError(t, err)
		_, err = p.Run(t.Context())
		require.NoError(t, err)
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, serr := idx.Search(t.Context(), onesVector(16), 3)
				assert.NoError(t, serr)
			}()
		}
		_, err = p.IndexDocuments(t.Context(), docs[:2])
		require.NoError(t, err)
		wg.Wait()
	})
}

type constantEmbedder struct{}

func (constantEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (constantEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func onesVector(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = 1
	}
	return v
}
