package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compozy/ragchain/pkg/config"
)

var (
	durationType  = reflect.TypeOf(time.Duration(0))
	sensitiveType = reflect.TypeOf(config.SensitiveString(""))
)

// ConfigCmd returns the config command
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration inspection",
	}
	cmd.AddCommand(configShowCmd())
	return cmd
}

// configShowCmd shows the effective configuration with optional source information
func configShowCmd() *cobra.Command {
	var (
		format      string
		showSources bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Display the configuration after defaults, the YAML file, the env file,
the environment and CLI flags are merged. Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, service, err := loadConfig(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			values := configValues(cfg)
			var sources map[string]config.SourceType
			if showSources {
				sources = collectSources(service, values)
			}
			return formatConfigOutput(cmd.OutOrStdout(), values, sources, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (yaml, json, table)")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Show which source provided each value")
	addCorpusFlags(cmd)
	addRetrievalFlags(cmd)
	addGenerationFlags(cmd)
	return cmd
}

func formatConfigOutput(w io.Writer, values map[string]any, sources map[string]config.SourceType, format string) error {
	switch format {
	case "yaml":
		return outputYAML(w, values, sources)
	case "json":
		return outputJSON(w, values, sources)
	case "table":
		return outputTable(w, values, sources)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// configValues converts the configuration into nested maps keyed by koanf tags.
// Sensitive values are redacted and durations rendered as strings.
func configValues(cfg *config.Config) map[string]any {
	return structValues(reflect.ValueOf(cfg).Elem())
}

func structValues(val reflect.Value) map[string]any {
	out := make(map[string]any)
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("koanf")
		if tag == "" || tag == "-" {
			continue
		}
		out[tag] = fieldValue(val.Field(i))
	}
	return out
}

func fieldValue(v reflect.Value) any {
	switch {
	case v.Type() == sensitiveType:
		return v.Interface().(config.SensitiveString).String()
	case v.Type() == durationType:
		return time.Duration(v.Int()).String()
	case v.Kind() == reflect.Struct:
		return structValues(v)
	default:
		return v.Interface()
	}
}

// collectSources maps every leaf key to the source that provided it.
func collectSources(service config.Service, values map[string]any) map[string]config.SourceType {
	sources := make(map[string]config.SourceType)
	for key := range flattenValues("", values) {
		sources[key] = service.GetSource(key)
	}
	return sources
}

func flattenValues(prefix string, values map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range values {
		full := buildFieldKey(prefix, key)
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flattenValues(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}

// buildFieldKey builds the full key path for a field
func buildFieldKey(prefix, tag string) string {
	if prefix != "" {
		return prefix + "." + tag
	}
	return tag
}

func outputYAML(w io.Writer, values map[string]any, sources map[string]config.SourceType) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(wrapOutput(values, sources)); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return encoder.Close()
}

func outputJSON(w io.Writer, values map[string]any, sources map[string]config.SourceType) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(wrapOutput(values, sources))
}

func wrapOutput(values map[string]any, sources map[string]config.SourceType) any {
	if len(sources) == 0 {
		return values
	}
	return map[string]any{"config": values, "sources": sources}
}

func outputTable(w io.Writer, values map[string]any, sources map[string]config.SourceType) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	flat := flattenValues("", values)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if sources != nil {
		fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
	} else {
		fmt.Fprintln(tw, "KEY\tVALUE")
	}
	for _, key := range keys {
		if sources != nil {
			fmt.Fprintf(tw, "%s\t%v\t%s\n", key, flat[key], sources[key])
			continue
		}
		fmt.Fprintf(tw, "%s\t%v\n", key, flat[key])
	}
	return tw.Flush()
}
