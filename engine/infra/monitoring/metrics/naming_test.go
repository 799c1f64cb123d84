package metrics

import "testing"

func TestMetricName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "adds prefix", input: "queries_total", expected: "ragchain_queries_total"},
		{name: "keeps prefixed", input: "ragchain_custom_metric", expected: "ragchain_custom_metric"},
		{name: "blank returns prefix", input: "", expected: "ragchain_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MetricName(tt.input); got != tt.expected {
				t.Fatalf("MetricName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMetricNameWithSubsystem(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		subsystem  string
		metricName string
		expected   string
	}{
		{
			name:       "subsystem and name",
			subsystem:  "vectordb",
			metricName: "search_duration_seconds",
			expected:   "ragchain_vectordb_search_duration_seconds",
		},
		{
			name:       "subsystem trims underscore",
			subsystem:  "_query_",
			metricName: "failures_total",
			expected:   "ragchain_query_failures_total",
		},
		{name: "empty name", subsystem: "ingest", metricName: "", expected: "ragchain_ingest"},
		{
			name:       "already prefixed",
			subsystem:  "",
			metricName: "ragchain_existing_metric",
			expected:   "ragchain_existing_metric",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MetricNameWithSubsystem(tt.subsystem, tt.metricName); got != tt.expected {
				t.Fatalf("MetricNameWithSubsystem(%q, %q) = %q, want %q", tt.subsystem, tt.metricName, got, tt.expected)
			}
		})
	}
}
