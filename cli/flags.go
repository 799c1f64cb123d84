package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// Flag defaults are informational. Only flags the user sets override the
// loaded configuration.

func addCorpusFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringSlice("pattern", nil, "Glob pattern selecting corpus files (repeatable, default **/*.txt)")
	flags.Int("chunk-size", 0, "Chunk size in characters (default 500)")
	flags.Int("chunk-overlap", 0, "Overlap between consecutive chunks (default 50)")
	flags.String("strategy", "", "Chunking strategy (sliding_window, recursive_text_splitter)")
	flags.String("embedder", "", "Embedding provider (openai, ollama, local)")
}

func addRetrievalFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("k", 0, "Number of chunks to retrieve (default 4)")
	flags.Float64("min-score", 0, "Drop chunks scoring below this similarity")
}

func addGenerationFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("template", "", "Prompt template (default, expert or a literal template with {context} and {question})")
	flags.String("provider", "", "Chat provider (openai, ollama, mock)")
	flags.String("model", "", "Chat model name")
	flags.Float64("temperature", 0, "Sampling temperature")
	flags.Int("max-tokens", 0, "Maximum tokens in the generated answer")
	flags.Duration("timeout", 2*time.Minute, "Per-question timeout")
}
