package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SourceType identifies a configuration layer.
type SourceType string

const (
	SourceDefault SourceType = "default"
	SourceYAML    SourceType = "yaml"
	SourceEnvFile SourceType = "envfile"
	SourceEnv     SourceType = "env"
	SourceCLI     SourceType = "cli"
)

// Source supplies a nested map of configuration values.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
}

type yamlProvider struct {
	path string
}

// NewYAMLProvider reads a YAML file. A missing file yields no values.
func NewYAMLProvider(path string) Source {
	return &yamlProvider{path: path}
}

func (y *yamlProvider) Load() (map[string]any, error) {
	if strings.TrimSpace(y.path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(y.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read YAML file: %w", err)
	}
	var cfg map[string]any
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}
	return filterNilValues(cfg), nil
}

func (y *yamlProvider) Type() SourceType {
	return SourceYAML
}

func filterNilValues(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = filterNilValues(nested)
			continue
		}
		out[k] = v
	}
	return out
}

type envFileProvider struct {
	path string
}

// NewEnvFileProvider reads a dotenv file without touching the process environment.
// Only variables declared through `env` struct tags are mapped.
func NewEnvFileProvider(path string) Source {
	return &envFileProvider{path: path}
}

func (e *envFileProvider) Load() (map[string]any, error) {
	if strings.TrimSpace(e.path) == "" {
		return nil, nil
	}
	values, err := godotenv.Read(e.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	envToPath := GenerateEnvToConfigMap()
	out := make(map[string]any)
	for key, value := range values {
		path, ok := envToPath[key]
		if !ok || value == "" {
			continue
		}
		if err := setNested(out, path, value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *envFileProvider) Type() SourceType {
	return SourceEnvFile
}

type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider maps changed CLI flags onto configuration paths.
func NewCLIProvider(flags map[string]any) Source {
	return &cliProvider{flags: flags}
}

func (c *cliProvider) Load() (map[string]any, error) {
	out := make(map[string]any)
	for key, value := range c.flags {
		path, ok := cliFlagPaths[key]
		if !ok {
			continue
		}
		if err := setNested(out, path, value); err != nil {
			return nil, fmt.Errorf("failed to set CLI flag %s: %w", key, err)
		}
	}
	return out, nil
}

func (c *cliProvider) Type() SourceType {
	return SourceCLI
}

// cliFlagPaths lists the flags that override configuration keys.
var cliFlagPaths = map[string]string{
	"data":          "corpus.dir",
	"pattern":       "corpus.patterns",
	"watch":         "corpus.watch",
	"chunk-size":    "chunking.size",
	"chunk-overlap": "chunking.overlap",
	"strategy":      "chunking.strategy",
	"embedder":      "embedder.provider",
	"k":             "retrieval.top_k",
	"min-score":     "retrieval.min_score",
	"template":      "prompt.template",
	"provider":      "llm.provider",
	"model":         "llm.model",
	"temperature":   "llm.temperature",
	"max-tokens":    "llm.max_tokens",
	"timeout":       "runtime.query_timeout",
	"log-level":     "runtime.log_level",
	"log-json":      "runtime.log_json",
	"metrics":       "runtime.metrics",
}

// CLIFlagPath returns the configuration path a flag overrides.
func CLIFlagPath(flag string) (string, bool) {
	path, ok := cliFlagPaths[flag]
	return path, ok
}

func setNested(m map[string]any, path string, value any) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if _, exists := current[part]; !exists {
			current[part] = make(map[string]any)
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return fmt.Errorf("configuration conflict: key %q is not a map", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}
