package config

import (
	"time"
)

const (
	TemplateDefault = "default"
	TemplateExpert  = "expert"
)

// Config represents the complete configuration for the ragchain pipeline.
// Every component receives its section explicitly; nothing reads process state after Load.
type Config struct {
	Corpus    CorpusConfig    `koanf:"corpus"    validate:"required"`
	Chunking  ChunkingConfig  `koanf:"chunking"  validate:"required"`
	Embedder  EmbedderConfig  `koanf:"embedder"  validate:"required"`
	Retrieval RetrievalConfig `koanf:"retrieval" validate:"required"`
	Prompt    PromptConfig    `koanf:"prompt"`
	LLM       LLMConfig       `koanf:"llm"       validate:"required"`
	Runtime   RuntimeConfig   `koanf:"runtime"   validate:"required"`
}

// CorpusConfig locates the text files that feed the index.
type CorpusConfig struct {
	Dir          string        `koanf:"dir"            validate:"required"  env:"RAGCHAIN_CORPUS_DIR"`
	Patterns     []string      `koanf:"patterns"       validate:"min=1"     env:"RAGCHAIN_CORPUS_PATTERNS"`
	MaxFileBytes int64         `koanf:"max_file_bytes" validate:"min=0"     env:"RAGCHAIN_CORPUS_MAX_FILE_BYTES"`
	Watch        bool          `koanf:"watch"                               env:"RAGCHAIN_CORPUS_WATCH"`
	Debounce     time.Duration `koanf:"debounce"                            env:"RAGCHAIN_CORPUS_DEBOUNCE"`
}

// ChunkingConfig controls how documents are split before embedding.
type ChunkingConfig struct {
	Strategy    string `koanf:"strategy"    validate:"oneof=sliding_window recursive_text_splitter" env:"RAGCHAIN_CHUNK_STRATEGY"`
	Size        int    `koanf:"size"        validate:"min=1"                                        env:"RAGCHAIN_CHUNK_SIZE"`
	Overlap     int    `koanf:"overlap"     validate:"min=0"                                        env:"RAGCHAIN_CHUNK_OVERLAP"`
	RemoveHTML  bool   `koanf:"remove_html"                                                         env:"RAGCHAIN_CHUNK_REMOVE_HTML"`
	Deduplicate bool   `koanf:"deduplicate"                                                         env:"RAGCHAIN_CHUNK_DEDUPLICATE"`
}

// RetryConfig bounds collaborator-side retries. Zero attempts disables retrying.
type RetryConfig struct {
	Attempts   int           `koanf:"attempts"    validate:"min=0,max=10"`
	Backoff    time.Duration `koanf:"backoff"`
	MaxBackoff time.Duration `koanf:"max_backoff"`
}

// EmbedderConfig selects and tunes the embedding provider.
type EmbedderConfig struct {
	Provider      string          `koanf:"provider"        validate:"oneof=openai ollama local" env:"RAGCHAIN_EMBEDDER_PROVIDER"`
	Model         string          `koanf:"model"           validate:"required"                  env:"RAGCHAIN_EMBEDDER_MODEL"`
	BaseURL       string          `koanf:"base_url"                                             env:"RAGCHAIN_EMBEDDER_BASE_URL"`
	APIKey        SensitiveString `koanf:"api_key"                                              env:"RAGCHAIN_EMBEDDER_API_KEY" sensitive:"true"`
	Dimension     int             `koanf:"dimension"       validate:"min=1"                     env:"RAGCHAIN_EMBEDDER_DIMENSION"`
	BatchSize     int             `koanf:"batch_size"      validate:"min=1"                     env:"RAGCHAIN_EMBEDDER_BATCH_SIZE"`
	Workers       int             `koanf:"workers"         validate:"min=1,max=64"              env:"RAGCHAIN_EMBEDDER_WORKERS"`
	CacheSize     int             `koanf:"cache_size"      validate:"min=0"                     env:"RAGCHAIN_EMBEDDER_CACHE_SIZE"`
	StripNewLines bool            `koanf:"strip_new_lines"`
	Retry         RetryConfig     `koanf:"retry"`
}

// RetrievalConfig is the query-time similarity policy.
type RetrievalConfig struct {
	TopK      int     `koanf:"top_k"      validate:"min=1"                         env:"RAGCHAIN_RETRIEVAL_TOP_K"`
	MinScore  float64 `koanf:"min_score"  validate:"min=-1,max=1"                  env:"RAGCHAIN_RETRIEVAL_MIN_SCORE"`
	MaxTokens int     `koanf:"max_tokens" validate:"min=0"                         env:"RAGCHAIN_RETRIEVAL_MAX_TOKENS"`
	Metric    string  `koanf:"metric"     validate:"oneof=cosine dot euclidean"    env:"RAGCHAIN_RETRIEVAL_METRIC"`
}

// PromptConfig holds either a preset name (default, expert) or a literal template.
type PromptConfig struct {
	Template  string `koanf:"template"  validate:"template_ref" env:"RAGCHAIN_PROMPT_TEMPLATE"`
	Delimiter string `koanf:"delimiter" env:"RAGCHAIN_PROMPT_DELIMITER"`
}

// LLMConfig selects the generation service.
type LLMConfig struct {
	Provider          string          `koanf:"provider"            validate:"oneof=openai ollama mock" env:"RAGCHAIN_LLM_PROVIDER"`
	Model             string          `koanf:"model"               validate:"required"                 env:"RAGCHAIN_LLM_MODEL"`
	BaseURL           string          `koanf:"base_url"                                                env:"OPENAI_API_BASE"`
	APIKey            SensitiveString `koanf:"api_key"                                                 env:"OPENAI_API_KEY"  sensitive:"true"`
	Temperature       float64         `koanf:"temperature"         validate:"min=0,max=1"              env:"RAGCHAIN_LLM_TEMPERATURE"`
	MaxTokens         int             `koanf:"max_tokens"          validate:"min=0"                    env:"RAGCHAIN_LLM_MAX_TOKENS"`
	RequestsPerMinute float64         `koanf:"requests_per_minute" validate:"min=0"                    env:"RAGCHAIN_LLM_REQUESTS_PER_MINUTE"`
	Concurrency       int             `koanf:"concurrency"         validate:"min=0,max=64"             env:"RAGCHAIN_LLM_CONCURRENCY"`
	Retry             RetryConfig     `koanf:"retry"`
}

// RuntimeConfig covers process-level behavior of the CLI.
type RuntimeConfig struct {
	QueryTimeout time.Duration `koanf:"query_timeout" validate:"min=0"                             env:"RAGCHAIN_QUERY_TIMEOUT"`
	LogLevel     string        `koanf:"log_level"     validate:"oneof=debug info warn error disabled" env:"RAGCHAIN_LOG_LEVEL"`
	LogJSON      bool          `koanf:"log_json"                                                   env:"RAGCHAIN_LOG_JSON"`
	Metrics      bool          `koanf:"metrics"                                                    env:"RAGCHAIN_METRICS"`
}

// Default returns the built-in configuration: an OpenRouter-backed chat model over ./data,
// chunked 500/50 and retrieved four at a time.
func Default() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Dir:          "data",
			Patterns:     []string{"**/*.txt"},
			MaxFileBytes: 8 << 20,
			Debounce:     500 * time.Millisecond,
		},
		Chunking: ChunkingConfig{
			Strategy: "sliding_window",
			Size:     500,
			Overlap:  50,
		},
		Embedder: EmbedderConfig{
			Provider:  "local",
			Model:     "hashing-bow",
			Dimension: 384,
			BatchSize: 32,
			Workers:   4,
			CacheSize: 1024,
			Retry: RetryConfig{
				Attempts:   0,
				Backoff:    200 * time.Millisecond,
				MaxBackoff: 2 * time.Second,
			},
		},
		Retrieval: RetrievalConfig{
			TopK:   4,
			Metric: "cosine",
		},
		Prompt: PromptConfig{
			Template:  TemplateDefault,
			Delimiter: "\n",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "openai/gpt-3.5-turbo",
			BaseURL:     "https://openrouter.ai/api/v1",
			Temperature: 0,
			Retry: RetryConfig{
				Attempts:   0,
				Backoff:    500 * time.Millisecond,
				MaxBackoff: 5 * time.Second,
			},
		},
		Runtime: RuntimeConfig{
			QueryTimeout: 60 * time.Second,
			LogLevel:     "info",
		},
	}
}
