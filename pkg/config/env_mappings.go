package config

import (
	"reflect"
	"sort"
	"sync"
)

// EnvMapping ties an environment variable to the configuration path it overrides.
type EnvMapping struct {
	EnvVar     string
	ConfigPath string
	Sensitive  bool
}

var (
	cachedMappings []EnvMapping
	mappingsOnce   sync.Once
)

// GenerateEnvMappings derives mappings from `koanf` and `env` struct tags, sorted by variable name.
func GenerateEnvMappings() []EnvMapping {
	mappingsOnce.Do(func() {
		cachedMappings = extractMappings(reflect.TypeOf(Config{}), "")
		sort.Slice(cachedMappings, func(i, j int) bool {
			return cachedMappings[i].EnvVar < cachedMappings[j].EnvVar
		})
	})
	return cachedMappings
}

func extractMappings(t reflect.Type, prefix string) []EnvMapping {
	var mappings []EnvMapping
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key := field.Tag.Get("koanf")
		if key == "" || key == "-" {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if envVar := field.Tag.Get("env"); envVar != "" && envVar != "-" {
			mappings = append(mappings, EnvMapping{
				EnvVar:     envVar,
				ConfigPath: path,
				Sensitive:  field.Type == reflect.TypeOf(SensitiveString("")) || field.Tag.Get("sensitive") == "true",
			})
		}
		if field.Type.Kind() == reflect.Struct {
			mappings = append(mappings, extractMappings(field.Type, path)...)
		}
	}
	return mappings
}

// GenerateEnvToConfigMap returns env var → config path.
func GenerateEnvToConfigMap() map[string]string {
	mappings := GenerateEnvMappings()
	result := make(map[string]string, len(mappings))
	for _, m := range mappings {
		result[m.EnvVar] = m.ConfigPath
	}
	return result
}

func GetEnvVarForConfigPath(configPath string) string {
	for _, m := range GenerateEnvMappings() {
		if m.ConfigPath == configPath {
			return m.EnvVar
		}
	}
	return ""
}
