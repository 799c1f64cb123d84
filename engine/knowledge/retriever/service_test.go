package retriever_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/chunk"
	"github.com/compozy/ragchain/engine/knowledge/retriever"
	"github.com/compozy/ragchain/engine/knowledge/vectordb"
)

type stubEmbedder struct {
	err    error
	vector []float32
}

func (s *stubEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func (s *stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.vector != nil {
		return s.vector, nil
	}
	return []float32{1, 0, 0}, nil
}

type fixedEstimator struct {
	values map[string]int
}

func (f *fixedEstimator) EstimateTokens(_ context.Context, text string) int {
	return f.values[text]
}

func seededIndex(t *testing.T) *vectordb.Index {
	t.Helper()
	idx := vectordb.NewIndex()
	t.Cleanup(idx.Close)
	rows := []struct {
		id  string
		vec []float32
	}{
		{"alpha", []float32{1, 0, 0}},
		{"beta", []float32{1, 1, 0}},
		{"gamma", []float32{0, 1, 0}},
		{"delta", []float32{0, 0, 1}},
	}
	for _, r := range rows {
		c := chunk.Chunk{ID: r.id, DocumentID: "doc", Text: r.id}
		require.NoError(t, idx.Add(t.Context(), c, vectordb.Embedding{ChunkID: r.id, Vector: r.vec}))
	}
	return idx
}

func TestRetrieve(t *testing.T) {
	t.Run("Should embed the query and delegate to the index", func(t *testing.T) {
		idx := seededIndex(t)
		emb := &stubEmbedder{}
		results, err := retriever.Retrieve(t.Context(), idx, emb.EmbedQuery, retriever.Query{Text: "q"}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "alpha", results[0].Chunk.ID)
		assert.Equal(t, "beta", results[1].Chunk.ID)
	})

	t.Run("Should wrap embedding errors and keep the cause", func(t *testing.T) {
		cause := errors.New("provider unreachable")
		emb := &stubEmbedder{err: cause}
		_, err := retriever.Retrieve(t.Context(), seededIndex(t), emb.EmbedQuery, retriever.Query{Text: "q"}, 2)
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrEmbeddingFailure)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "retrieve", knowledge.StageOf(err))
	})

	t.Run("Should call the embedder exactly once", func(t *testing.T) {
		calls := 0
		embed := func(context.Context, string) ([]float32, error) {
			calls++
			return nil, errors.New("flaky")
		}
		_, err := retriever.Retrieve(t.Context(), seededIndex(t), embed, retriever.Query{Text: "q"}, 1)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("Should surface index dimension errors unchanged", func(t *testing.T) {
		emb := &stubEmbedder{vector: []float32{1, 0}}
		_, err := retriever.Retrieve(t.Context(), seededIndex(t), emb.EmbedQuery, retriever.Query{Text: "q"}, 1)
		assert.ErrorIs(t, err, knowledge.ErrDimensionMismatch)
	})
}

func TestService_Retrieve(t *testing.T) {
	t.Run("Should respect top k, min score and ordering", func(t *testing.T) {
		service, err := retriever.NewService(&stubEmbedder{}, seededIndex(t), retriever.Settings{TopK: 3, MinScore: 0.5}, nil)
		require.NoError(t, err)
		results, err := service.Retrieve(t.Context(), "query", 0)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "alpha", results[0].Chunk.ID)
		assert.Equal(t, "beta", results[1].Chunk.ID)
		assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	})

	t.Run("Should trim trailing results to the token budget", func(t *testing.T) {
		estimator := &fixedEstimator{values: map[string]int{"alpha": 120, "beta": 80, "gamma": 60}}
		service, err := retriever.NewService(
			&stubEmbedder{},
			seededIndex(t),
			retriever.Settings{TopK: 3, MaxTokens: 220},
			estimator,
		)
		require.NoError(t, err)
		results, err := service.Retrieve(t.Context(), "query", 0)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "alpha", results[0].Chunk.ID)
		assert.Equal(t, "beta", results[1].Chunk.ID)
	})

	t.Run("Should reject a blank query", func(t *testing.T) {
		service, err := retriever.NewService(&stubEmbedder{}, seededIndex(t), retriever.Settings{TopK: 1}, nil)
		require.NoError(t, err)
		_, err = service.Retrieve(t.Context(), "   ", 1)
		assert.ErrorIs(t, err, knowledge.ErrInvalidConfig)
	})

	t.Run("Should reject a non-positive top k", func(t *testing.T) {
		_, err := retriever.NewService(&stubEmbedder{}, seededIndex(t), retriever.Settings{}, nil)
		assert.ErrorIs(t, err, knowledge.ErrInvalidConfig)
	})
}

func TestTokenEstimator(t *testing.T) {
	t.Run("Should always return a usable estimator", func(t *testing.T) {
		est := retriever.NewTokenEstimator(t.Context(), "gpt-3.5-turbo")
		assert.Positive(t, est.EstimateTokens(t.Context(), "Bonjour tout le monde"))
	})
}
