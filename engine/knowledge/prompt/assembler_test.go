package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/chunk"
	"github.com/compozy/ragchain/engine/knowledge/vectordb"
)

func results(texts ...string) []vectordb.Result {
	out := make([]vectordb.Result, len(texts))
	for i, text := range texts {
		out[i] = vectordb.Result{Chunk: chunk.Chunk{ID: text, Text: text}, Score: 1 - float64(i)/10}
	}
	return out
}

func TestNewAssembler(t *testing.T) {
	t.Run("Should reject a template without context", func(t *testing.T) {
		_, err := NewAssembler("Question: {question}")
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrTemplate)
		assert.ErrorContains(t, err, "{context}")
	})
	t.Run("Should reject a template without question", func(t *testing.T) {
		_, err := NewAssembler("Context: {context}")
		assert.ErrorIs(t, err, knowledge.ErrTemplate)
	})
	t.Run("Should accept both presets", func(t *testing.T) {
		for _, name := range []string{NameDefault, NameExpert} {
			_, err := NewAssembler(ResolveTemplate(name))
			assert.NoError(t, err, name)
		}
	})
}

func TestAssembler_Assemble(t *testing.T) {
	t.Run("Should render context and question exactly", func(t *testing.T) {
		a, err := NewAssembler("Context: {context}\nQuestion: {question}")
		require.NoError(t, err)
		req := a.Assemble(results("A", "B"), "Q?")
		assert.Equal(t, "Context: A\nB\nQuestion: Q?", req.Prompt)
		assert.Equal(t, "A\nB", req.Context)
		assert.Equal(t, "Q?", req.Question)
	})

	t.Run("Should use a custom delimiter", func(t *testing.T) {
		a, err := NewAssembler("{context}|{question}", WithDelimiter("\n---\n"))
		require.NoError(t, err)
		assert.Equal(t, "A\n---\nB|Q", a.Assemble(results("A", "B"), "Q").Prompt)
	})

	t.Run("Should replace every placeholder occurrence", func(t *testing.T) {
		a, err := NewAssembler("{question} {context} {question}")
		require.NoError(t, err)
		assert.Equal(t, "Q A Q", a.Assemble(results("A"), "Q").Prompt)
	})

	t.Run("Should leave placeholders inside values untouched", func(t *testing.T) {
		a, err := NewAssembler("C={context} Q={question}")
		require.NoError(t, err)
		req := a.Assemble(results("see {question}"), "what is {context}?")
		assert.Equal(t, "C=see {question} Q=what is {context}?", req.Prompt)
	})

	t.Run("Should render an empty context when nothing was retrieved", func(t *testing.T) {
		a, err := NewAssembler("[{context}] {question}")
		require.NoError(t, err)
		assert.Equal(t, "[] Q", a.Assemble(nil, "Q").Prompt)
	})

	t.Run("Should be deterministic", func(t *testing.T) {
		a, err := NewAssembler(ExpertTemplate)
		require.NoError(t, err)
		in := results("La Révolution française", "a influencé l'Europe")
		assert.Equal(t, a.Assemble(in, "Pourquoi ?"), a.Assemble(in, "Pourquoi ?"))
	})
}

func TestResolveTemplate(t *testing.T) {
	t.Run("Should return literal templates unchanged", func(t *testing.T) {
		assert.Equal(t, "X {context} {question}", ResolveTemplate("X {context} {question}"))
		assert.Equal(t, DefaultTemplate, ResolveTemplate(""))
		assert.Equal(t, ExpertTemplate, ResolveTemplate("Expert"))
	})
}
