package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/chunk"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestNew(t *testing.T) {
	t.Run("Should require a directory", func(t *testing.T) {
		_, err := New(Config{})
		require.Error(t, err)
		assert.Equal(t, knowledge.KindInvalidConfig, knowledge.KindOf(err))
	})
	t.Run("Should default to txt files", func(t *testing.T) {
		c, err := New(Config{Dir: t.TempDir()})
		require.NoError(t, err)
		assert.Equal(t, []string{DefaultPattern}, c.Patterns())
	})
	t.Run("Should reject malformed patterns", func(t *testing.T) {
		_, err := New(Config{Dir: t.TempDir(), Patterns: []string{"[a-"}})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrInvalidConfig)
	})
}

func TestFileCorpus_ListTextFiles(t *testing.T) {
	t.Run("Should fail with NotFound for a missing directory", func(t *testing.T) {
		c, err := New(Config{Dir: filepath.Join(t.TempDir(), "data")})
		require.NoError(t, err)
		_, err = c.ListTextFiles(t.Context())
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrNotFound)
		assert.Equal(t, "corpus", knowledge.StageOf(err))
	})
	t.Run("Should fail with NotFound when the root is a file", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "data", []byte("x"))
		c, err := New(Config{Dir: path})
		require.NoError(t, err)
		_, err = c.ListTextFiles(t.Context())
		assert.ErrorIs(t, err, knowledge.ErrNotFound)
	})
	t.Run("Should return matching text files sorted", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "b.txt", []byte("beta"))
		writeFile(t, dir, "a.txt", []byte("alpha"))
		writeFile(t, dir, "nested/c.txt", []byte("gamma"))
		writeFile(t, dir, "notes.md", []byte("# ignored"))
		c, err := New(Config{Dir: dir})
		require.NoError(t, err)
		files, err := c.ListTextFiles(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(dir, "a.txt"),
			filepath.Join(dir, "b.txt"),
			filepath.Join(dir, "nested", "c.txt"),
		}, files)
	})
	t.Run("Should skip binary content behind a text extension", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "ok.txt", []byte("plain words"))
		writeFile(t, dir, "image.txt", []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d})
		c, err := New(Config{Dir: dir})
		require.NoError(t, err)
		files, err := c.ListTextFiles(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "ok.txt")}, files)
	})
	t.Run("Should honor several patterns without duplicates", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.txt", []byte("alpha"))
		writeFile(t, dir, "b.md", []byte("beta"))
		c, err := New(Config{Dir: dir, Patterns: []string{"*.txt", "**/*.md", "a.*"}})
		require.NoError(t, err)
		files, err := c.ListTextFiles(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.md")}, files)
	})
	t.Run("Should return an empty list for an empty directory", func(t *testing.T) {
		c, err := New(Config{Dir: t.TempDir()})
		require.NoError(t, err)
		files, err := c.ListTextFiles(t.Context())
		require.NoError(t, err)
		assert.Empty(t, files)
	})
}

func TestFileCorpus_Read(t *testing.T) {
	t.Run("Should return file text", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "doc.txt", []byte("Ceci est un exemple."))
		c, err := New(Config{Dir: dir})
		require.NoError(t, err)
		text, err := c.Read(t.Context(), path)
		require.NoError(t, err)
		assert.Equal(t, "Ceci est un exemple.", text)
	})
	t.Run("Should fail with NotFound for a missing file", func(t *testing.T) {
		dir := t.TempDir()
		c, err := New(Config{Dir: dir})
		require.NoError(t, err)
		_, err = c.Read(t.Context(), filepath.Join(dir, "missing.txt"))
		assert.ErrorIs(t, err, knowledge.ErrNotFound)
	})
	t.Run("Should refuse files outside the root", func(t *testing.T) {
		outside := writeFile(t, t.TempDir(), "secret.txt", []byte("nope"))
		c, err := New(Config{Dir: t.TempDir()})
		require.NoError(t, err)
		_, err = c.Read(t.Context(), outside)
		assert.ErrorIs(t, err, knowledge.ErrInvalidConfig)
	})
	t.Run("Should enforce the size limit", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "big.txt", []byte("0123456789"))
		c, err := New(Config{Dir: dir, MaxFileBytes: 4})
		require.NoError(t, err)
		_, err = c.Read(t.Context(), path)
		assert.ErrorIs(t, err, knowledge.ErrInvalidConfig)
	})
}

func TestFileCorpus_LoadDocuments(t *testing.T) {
	t.Run("Should build documents with stable ids", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "doc.txt", []byte("Document 1"))
		c, err := New(Config{Dir: dir})
		require.NoError(t, err)
		docs, err := c.LoadDocuments(t.Context())
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, chunk.DocumentID(path), docs[0].ID)
		assert.Equal(t, path, docs[0].SourcePath)
		assert.Equal(t, "Document 1", docs[0].Text)
		assert.Equal(t, path, docs[0].Metadata["source"])
	})
	t.Run("Should propagate a missing directory", func(t *testing.T) {
		c, err := New(Config{Dir: filepath.Join(t.TempDir(), "fine_data")})
		require.NoError(t, err)
		_, err = c.LoadDocuments(t.Context())
		assert.ErrorIs(t, err, knowledge.ErrNotFound)
	})
}

func TestFileCorpus_Matches(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{Dir: dir})
	require.NoError(t, err)
	t.Run("Should match nested files by pattern", func(t *testing.T) {
		assert.True(t, c.Matches(filepath.Join(dir, "a", "b.txt")))
		assert.True(t, c.Matches(filepath.Join(dir, "gone.txt")))
	})
	t.Run("Should not match other extensions or outside paths", func(t *testing.T) {
		assert.False(t, c.Matches(filepath.Join(dir, "b.md")))
		assert.False(t, c.Matches(filepath.Join(filepath.Dir(dir), "x.txt")))
	})
}
