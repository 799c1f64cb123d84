package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compozy/ragchain/pkg/config"
)

// extractCLIFlags collects flags the user set explicitly, keyed by flag name.
// Only flags known to the configuration loader are kept.
func extractCLIFlags(cmd *cobra.Command) map[string]any {
	flags := make(map[string]any)
	getString := func(name string) (any, error) { return cmd.Flags().GetString(name) }
	getStrings := func(name string) (any, error) { return cmd.Flags().GetStringSlice(name) }
	getInt := func(name string) (any, error) { return cmd.Flags().GetInt(name) }
	getFloat := func(name string) (any, error) { return cmd.Flags().GetFloat64(name) }
	getBool := func(name string) (any, error) { return cmd.Flags().GetBool(name) }
	getDuration := func(name string) (any, error) { return cmd.Flags().GetDuration(name) }

	flagDefs := []struct {
		name   string
		getter func(string) (any, error)
	}{
		{"data", getString},
		{"pattern", getStrings},
		{"watch", getBool},
		{"chunk-size", getInt},
		{"chunk-overlap", getInt},
		{"strategy", getString},
		{"embedder", getString},
		{"k", getInt},
		{"min-score", getFloat},
		{"template", getString},
		{"provider", getString},
		{"model", getString},
		{"temperature", getFloat},
		{"max-tokens", getInt},
		{"timeout", getDuration},
		{"log-level", getString},
		{"log-json", getBool},
		{"metrics", getBool},
	}
	for _, def := range flagDefs {
		if _, known := config.CLIFlagPath(def.name); !known {
			continue
		}
		flag := cmd.Flags().Lookup(def.name)
		if flag == nil || !flag.Changed {
			continue
		}
		if value, err := def.getter(def.name); err == nil {
			flags[def.name] = value
		}
	}
	return flags
}

// resolveEnvFile validates the --env-file path. A missing file is not an error.
// The file is read by the config loader; the process environment is left untouched.
func resolveEnvFile(cmd *cobra.Command) (string, error) {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return "", fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if strings.TrimSpace(envFile) == "" {
		return "", nil
	}
	pwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	if !filepath.IsAbs(envFile) {
		envFile = filepath.Join(pwd, envFile)
	}
	absPath, err := filepath.Abs(filepath.Clean(envFile))
	if err != nil {
		return "", fmt.Errorf("failed to resolve env file path: %w", err)
	}
	if !isPathWithinDirectory(absPath, pwd) {
		return "", fmt.Errorf("env file path '%s' is outside the project directory", envFile)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat env file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("env file path '%s' is not a regular file", envFile)
	}
	return absPath, nil
}

// isPathWithinDirectory checks if a given path is within the specified directory
func isPathWithinDirectory(path, dir string) bool {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return false
	}
	if !strings.HasSuffix(absDir, string(filepath.Separator)) {
		absDir += string(filepath.Separator)
	}
	return strings.HasPrefix(absPath, absDir) || absPath == strings.TrimSuffix(absDir, string(filepath.Separator))
}
