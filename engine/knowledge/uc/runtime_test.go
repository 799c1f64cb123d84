package uc_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/chunk"
	"github.com/compozy/ragchain/engine/knowledge/query"
	"github.com/compozy/ragchain/engine/knowledge/uc"
	llmadapter "github.com/compozy/ragchain/engine/llm/adapter"
	"github.com/compozy/ragchain/pkg/config"
)

const frenchDocument = "Document 1 : Ceci est un exemple de texte concernant le sujet A."

func offlineConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Corpus.Dir = dir
	cfg.Embedder.Provider = "local"
	cfg.Embedder.Model = "hashing-bow"
	cfg.LLM.Provider = "mock"
	cfg.LLM.Model = "mock-model"
	cfg.LLM.BaseURL = ""
	cfg.Runtime.QueryTimeout = 5 * time.Second
	return cfg
}

func writeCorpusFile(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	return path
}

func newRuntime(t *testing.T, cfg *config.Config, opts ...uc.Option) *uc.Runtime {
	t.Helper()
	rt, err := uc.NewRuntime(t.Context(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func TestRuntime_EndToEnd(t *testing.T) {
	t.Run("Should retrieve the single French chunk and answer from it", func(t *testing.T) {
		dir := t.TempDir()
		writeCorpusFile(t, dir, "doc1.txt", frenchDocument)
		rt := newRuntime(t, offlineConfig(t, dir))

		res, err := rt.Build(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Documents)
		assert.Equal(t, 1, res.Chunks)
		assert.Equal(t, 1, res.Indexed)

		hits, err := rt.Search(t.Context(), "Ceci est un exemple de texte concernant le sujet A", 2)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, frenchDocument, hits[0].Chunk.Text)
		assert.Greater(t, hits[0].Score, 0.5)

		answer, err := rt.Ask(t.Context(), "De quoi parle le document ?")
		require.NoError(t, err)
		assert.Equal(t, query.StateDone, answer.State)
		require.Len(t, answer.Sources, 1)
		assert.Contains(t, answer.Prompt, frenchDocument)
		assert.Contains(t, answer.Prompt, "Question: De quoi parle le document ?")
		assert.Equal(t, "[mock-model] Helpful Answer:", answer.Text)
	})
	t.Run("Should render the expert template for the fine_data variant", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "fine_data")
		writeCorpusFile(t, dir, "extra.txt", "Le sujet A est traité en détail dans ce document.")
		cfg := offlineConfig(t, dir)
		cfg.Prompt.Template = config.TemplateExpert
		rt := newRuntime(t, cfg)
		_, err := rt.Build(t.Context())
		require.NoError(t, err)

		answer, err := rt.Ask(t.Context(), "Explique le sujet A.")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(answer.Prompt, "Tu es un assistant expert"))
		assert.Equal(t, "[mock-model] Explique le sujet A.", answer.Text)
	})
}

func TestRuntime_Build(t *testing.T) {
	t.Run("Should fail with NotFound when the corpus folder is missing", func(t *testing.T) {
		rt := newRuntime(t, offlineConfig(t, filepath.Join(t.TempDir(), "data")))
		_, err := rt.Build(t.Context())
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrNotFound)
	})
	t.Run("Should replace the index on every build", func(t *testing.T) {
		dir := t.TempDir()
		first := writeCorpusFile(t, dir, "a.txt", "alpha beta gamma")
		rt := newRuntime(t, offlineConfig(t, dir))
		_, err := rt.Build(t.Context())
		require.NoError(t, err)
		require.NoError(t, os.Remove(first))
		writeCorpusFile(t, dir, "b.txt", "delta epsilon")
		res, err := rt.Build(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Removed)
		assert.Equal(t, 1, rt.Index().Len())
		assert.Equal(t, 1, rt.Index().Stats().Documents)
	})
	t.Run("Should reject an invalid chunking configuration", func(t *testing.T) {
		cfg := offlineConfig(t, t.TempDir())
		cfg.Chunking.Overlap = cfg.Chunking.Size
		_, err := uc.NewRuntime(t.Context(), cfg)
		assert.ErrorIs(t, err, knowledge.ErrInvalidConfig)
	})
}

func TestRuntime_Reindex(t *testing.T) {
	t.Run("Should re-embed changed files and drop deleted ones", func(t *testing.T) {
		dir := t.TempDir()
		a := writeCorpusFile(t, dir, "a.txt", "le sujet A")
		b := writeCorpusFile(t, dir, "b.txt", "le sujet B")
		rt := newRuntime(t, offlineConfig(t, dir))
		_, err := rt.Build(t.Context())
		require.NoError(t, err)
		require.Equal(t, 2, rt.Index().Len())

		writeCorpusFile(t, dir, "a.txt", "le sujet A a changé")
		require.NoError(t, os.Remove(b))
		res, err := rt.Reindex(t.Context(), []string{a, b, filepath.Join(dir, "notes.md")})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Documents)
		assert.Equal(t, 2, res.Removed)
		assert.Equal(t, 1, rt.Index().Len())

		hits, err := rt.Search(t.Context(), "le sujet A a changé", 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, chunk.DocumentID(a), hits[0].Chunk.DocumentID)
		assert.Equal(t, "le sujet A a changé", hits[0].Chunk.Text)
	})
	t.Run("Should add files created after the build", func(t *testing.T) {
		dir := t.TempDir()
		rt := newRuntime(t, offlineConfig(t, dir))
		_, err := rt.Build(t.Context())
		require.NoError(t, err)
		c := writeCorpusFile(t, dir, "new/c.txt", "nouveau document")
		res, err := rt.Reindex(t.Context(), []string{c})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Indexed)
		assert.True(t, rt.Index().Len() == 1)
	})
}

func TestRuntime_Watch(t *testing.T) {
	t.Run("Should reindex when a corpus file is written", func(t *testing.T) {
		dir := t.TempDir()
		writeCorpusFile(t, dir, "a.txt", "premier document")
		cfg := offlineConfig(t, dir)
		cfg.Corpus.Debounce = 30 * time.Millisecond
		rt := newRuntime(t, cfg)
		_, err := rt.Build(t.Context())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() { done <- rt.Watch(ctx) }()
		t.Cleanup(func() {
			cancel()
			require.NoError(t, <-done)
		})
		time.Sleep(100 * time.Millisecond)

		writeCorpusFile(t, dir, "b.txt", "second document")
		require.Eventually(t, func() bool { return rt.Index().Len() == 2 }, 3*time.Second, 20*time.Millisecond)
	})
}

func TestRuntime_Ask(t *testing.T) {
	t.Run("Should surface generation failures with the failed state", func(t *testing.T) {
		dir := t.TempDir()
		writeCorpusFile(t, dir, "doc.txt", frenchDocument)
		failing := llmadapter.GeneratorFunc(func(context.Context, string, llmadapter.Options) (string, error) {
			return "", errors.New("upstream 503")
		})
		rt := newRuntime(t, offlineConfig(t, dir), uc.WithGenerator(failing))
		_, err := rt.Build(t.Context())
		require.NoError(t, err)

		answer, err := rt.Ask(t.Context(), "sujet A ?")
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrGenerationFailure)
		require.NotNil(t, answer)
		assert.Equal(t, query.StateFailed, answer.State)
		assert.NotEmpty(t, answer.FailureReason)
	})
	t.Run("Should answer from an empty index", func(t *testing.T) {
		rt := newRuntime(t, offlineConfig(t, t.TempDir()))
		_, err := rt.Build(t.Context())
		require.NoError(t, err)
		answer, err := rt.Ask(t.Context(), "Rien ?")
		require.NoError(t, err)
		assert.Empty(t, answer.Sources)
		assert.Equal(t, query.StateDone, answer.State)
	})
	t.Run("Should report an unusable generation provider", func(t *testing.T) {
		cfg := offlineConfig(t, t.TempDir())
		cfg.LLM.Provider = "unknown"
		rt := newRuntime(t, cfg)
		_, err := rt.Ask(t.Context(), "question")
		assert.ErrorIs(t, err, knowledge.ErrInvalidConfig)
	})
}

func TestConfigConversion(t *testing.T) {
	t.Run("Should map configuration sections onto component configs", func(t *testing.T) {
		cfg := config.Default()
		cfg.LLM.APIKey = "sk-test"
		cfg.LLM.Concurrency = 3
		llm := uc.ToLLMConfig(&cfg.LLM)
		assert.Equal(t, llmadapter.ProviderOpenAI, llm.Provider)
		assert.Equal(t, "sk-test", llm.APIKey)
		assert.Equal(t, 3, llm.Concurrency)
		assert.Equal(t, llmadapter.DefaultOpenAIBaseURL, llm.BaseURL)

		emb := uc.ToEmbedderConfig(&cfg.Embedder)
		assert.Equal(t, 384, emb.Dimension)
		assert.Equal(t, "local:hashing-bow", emb.ID)

		settings := uc.ToChunkSettings(&cfg.Chunking)
		assert.Equal(t, 500, settings.Size)
		assert.Equal(t, 50, settings.Overlap)
		assert.True(t, settings.NormalizeNewlines)

		assert.Equal(t, 4, uc.ToRetrieverSettings(&cfg.Retrieval).TopK)
	})
}
