package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragchain/pkg/config"
)

const offlineYAML = `corpus:
  dir: %s
embedder:
  provider: local
  model: hashing-bow
llm:
  provider: mock
  model: mock-model
  base_url: ""
`

func writeOfflineConfig(t *testing.T, corpusDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragchain.yaml")
	content := strings.Replace(offlineYAML, "%s", corpusDir, 1)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "doc1.txt"),
		[]byte("Document 1 : Ceci est un exemple de texte concernant le sujet A."),
		0o600,
	))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--env-file", "", "--log-level", "disabled"}, args...))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSetupGlobalConfig(t *testing.T) {
	t.Run("Should inject the YAML corpus directory into the context", func(t *testing.T) {
		cfgPath := writeOfflineConfig(t, "fine_data")
		cmd := RootCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--env-file", "", "--config", cfgPath}))

		require.NoError(t, SetupGlobalConfig(cmd))

		injected := config.FromContext(cmd.Context())
		assert.Equal(t, "fine_data", injected.Corpus.Dir)
		assert.Equal(t, "mock", injected.LLM.Provider)
	})
	t.Run("Should let --data override the YAML file", func(t *testing.T) {
		cfgPath := writeOfflineConfig(t, "fine_data")
		cmd := RootCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--env-file", "", "--config", cfgPath, "--data", "other"}))

		require.NoError(t, SetupGlobalConfig(cmd))

		assert.Equal(t, "other", config.FromContext(cmd.Context()).Corpus.Dir)
	})
}

func TestExtractCLIFlags(t *testing.T) {
	t.Run("Should only collect flags set by the user", func(t *testing.T) {
		cmd := &cobra.Command{Use: "test"}
		addCorpusFlags(cmd)
		addGenerationFlags(cmd)
		require.NoError(t, cmd.ParseFlags([]string{"--chunk-size", "200", "--pattern", "*.txt,*.text", "--timeout", "5s"}))

		flags := extractCLIFlags(cmd)

		assert.Len(t, flags, 3)
		assert.Equal(t, 200, flags["chunk-size"])
		assert.Equal(t, []string{"*.txt", "*.text"}, flags["pattern"])
		assert.NotContains(t, flags, "model")
	})
}

func TestResolveEnvFile(t *testing.T) {
	newCmd := func(value string) *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().String("env-file", "", "")
		require.NoError(t, cmd.Flags().Set("env-file", value))
		return cmd
	}
	t.Run("Should ignore a missing env file", func(t *testing.T) {
		path, err := resolveEnvFile(newCmd("does-not-exist.env"))
		require.NoError(t, err)
		assert.Empty(t, path)
	})
	t.Run("Should reject paths outside the working directory", func(t *testing.T) {
		_, err := resolveEnvFile(newCmd(filepath.Join("..", "..", "outside.env")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outside the project directory")
	})
}

func TestCommands(t *testing.T) {
	t.Run("Should index the corpus and print statistics", func(t *testing.T) {
		cfgPath := writeOfflineConfig(t, writeCorpus(t))
		out, err := execute(t, "--config", cfgPath, "index")
		require.NoError(t, err)
		assert.Contains(t, out, "Index built")
		assert.Contains(t, out, "documents: 1")
		assert.Contains(t, out, "cosine")
	})
	t.Run("Should print ranked chunks for a search", func(t *testing.T) {
		cfgPath := writeOfflineConfig(t, writeCorpus(t))
		out, err := execute(t, "--config", cfgPath, "search", "sujet A")
		require.NoError(t, err)
		assert.Contains(t, out, `Results for "sujet A"`)
		assert.Contains(t, out, "1. [")
		assert.Contains(t, out, "doc1.txt #0")
	})
	t.Run("Should answer a question with its sources", func(t *testing.T) {
		cfgPath := writeOfflineConfig(t, writeCorpus(t))
		out, err := execute(t, "--config", cfgPath, "ask", "De", "quoi", "parle", "le", "document", "?")
		require.NoError(t, err)
		assert.Contains(t, out, "[mock-model]")
		assert.Contains(t, out, "Sources")
		assert.Contains(t, out, "Ceci est un exemple")
	})
	t.Run("Should render a literal template given with --template", func(t *testing.T) {
		cfgPath := writeOfflineConfig(t, writeCorpus(t))
		out, err := execute(t, "--config", cfgPath, "ask", "--template", "Contexte: {context}\nQ: {question}", "Sujet ?")
		require.NoError(t, err)
		assert.Contains(t, out, "[mock-model] Q: Sujet ?")
		assert.NotContains(t, out, "Helpful Answer")
	})
	t.Run("Should fail when the corpus folder is missing", func(t *testing.T) {
		cfgPath := writeOfflineConfig(t, filepath.Join(t.TempDir(), "data"))
		_, err := execute(t, "--config", cfgPath, "index")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
	t.Run("Should dump Prometheus metrics after the command", func(t *testing.T) {
		cfgPath := writeOfflineConfig(t, writeCorpus(t))
		out, err := execute(t, "--config", cfgPath, "--metrics", "index")
		require.NoError(t, err)
		assert.Contains(t, out, "# TYPE ragchain_ingest_documents")
	})
	t.Run("Should answer each chat line until exit", func(t *testing.T) {
		cfgPath := writeOfflineConfig(t, writeCorpus(t))
		root := RootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetIn(strings.NewReader("Premier ?\n\nexit\nignored\n"))
		root.SetArgs([]string{"--env-file", "", "--log-level", "disabled", "--config", cfgPath, "chat"})
		require.NoError(t, root.ExecuteContext(t.Context()))
		assert.Equal(t, 1, strings.Count(out.String(), "Sources"))
		assert.Contains(t, out.String(), "[mock-model] Helpful Answer:")
	})
}

func TestConfigShow(t *testing.T) {
	t.Run("Should print the effective configuration with secrets redacted", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-very-secret")
		cfgPath := writeOfflineConfig(t, "fine_data")
		out, err := execute(t, "--config", cfgPath, "config", "show")
		require.NoError(t, err)
		assert.Contains(t, out, "dir: fine_data")
		assert.Contains(t, out, "[REDACTED]")
		assert.NotContains(t, out, "sk-very-secret")
	})
	t.Run("Should report value sources in table form", func(t *testing.T) {
		cfgPath := writeOfflineConfig(t, "fine_data")
		out, err := execute(t, "--config", cfgPath, "config", "show", "--format", "table", "--sources", "--k", "7")
		require.NoError(t, err)
		assert.Regexp(t, `corpus\.dir\s+fine_data\s+yaml`, out)
		assert.Regexp(t, `retrieval\.top_k\s+7\s+cli`, out)
		assert.Regexp(t, `chunking\.size\s+500\s+default`, out)
	})
	t.Run("Should reject unknown formats", func(t *testing.T) {
		_, err := execute(t, "config", "show", "--format", "xml")
		assert.ErrorContains(t, err, "unsupported format")
	})
}
