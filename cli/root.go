package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/ragchain/pkg/config"
	"github.com/compozy/ragchain/pkg/logger"
)

const defaultConfigFile = "ragchain.yaml"

func RootCmd() *cobra.Command {
	var metrics *metricsExporter
	root := &cobra.Command{
		Use:   "ragchain",
		Short: "Retrieval-augmented question answering over a folder of text files",
		Long: `ragchain indexes the text files of a corpus folder, retrieves the chunks most
similar to a question and asks a chat model to answer from them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := SetupGlobalConfig(cmd); err != nil {
				return err
			}
			cfg := config.FromContext(cmd.Context())
			if !cfg.Runtime.Metrics {
				return nil
			}
			var err error
			metrics, err = setupMetrics(cmd.Context())
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if metrics == nil {
				return nil
			}
			return metrics.dump(cmd.Context(), cmd.ErrOrStderr())
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", defaultConfigFile, "Path to the YAML configuration file")
	flags.String("env-file", ".env", "Path to a dotenv file read into the configuration")
	flags.String("data", "", "Corpus directory (overrides corpus.dir)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.Bool("log-source", false, "Include source locations in logs")
	flags.Bool("metrics", false, "Dump Prometheus metrics to stderr on exit")

	root.AddCommand(
		IndexCmd(),
		SearchCmd(),
		AskCmd(),
		ChatCmd(),
		ConfigCmd(),
	)
	return root
}

// SetupGlobalConfig loads the layered configuration, installs the logger and
// attaches both to the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, service, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	_, _, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.SetupLogger(cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, logSource)
	log.Debug(
		"Configuration loaded",
		"corpus", cfg.Corpus.Dir,
		"corpus_source", service.GetSource("corpus.dir"),
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
	)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithConfig(ctx, cfg)
	cmd.SetContext(ctx)
	return nil
}

func loadConfig(ctx context.Context, cmd *cobra.Command) (*config.Config, config.Service, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	envFile, err := resolveEnvFile(cmd)
	if err != nil {
		return nil, nil, err
	}
	sources := []config.Source{
		config.NewYAMLProvider(configFile),
		config.NewEnvFileProvider(envFile),
	}
	if flags := extractCLIFlags(cmd); len(flags) > 0 {
		sources = append(sources, config.NewCLIProvider(flags))
	}
	service := config.NewService()
	cfg, err := service.Load(ctx, sources...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, service, nil
}
