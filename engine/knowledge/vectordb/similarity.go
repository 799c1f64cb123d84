package vectordb

import (
	"fmt"
	"math"
	"strings"
)

// Metric scores a stored vector against a query. Higher is more similar.
type Metric interface {
	Name() string
	Similarity(query, stored []float32) float64
}

// MetricFunc adapts a plain function into a Metric.
type MetricFunc struct {
	name string
	fn   func(query, stored []float32) float64
}

func NewMetricFunc(name string, fn func(query, stored []float32) float64) MetricFunc {
	return MetricFunc{name: name, fn: fn}
}

func (m MetricFunc) Name() string {
	return m.name
}

func (m MetricFunc) Similarity(query, stored []float32) float64 {
	return m.fn(query, stored)
}

var (
	// Cosine is the default metric. A zero-length vector scores 0.
	Cosine Metric = NewMetricFunc("cosine", CosineSimilarity)
	// DotProduct equals cosine for L2-normalized vectors.
	DotProduct Metric = NewMetricFunc("dot", Dot)
	// NegativeEuclidean ranks nearer vectors higher.
	NegativeEuclidean Metric = NewMetricFunc("euclidean", func(a, b []float32) float64 {
		return -EuclideanDistance(a, b)
	})
)

// ParseMetric resolves a configured metric name.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cosine":
		return Cosine, nil
	case "dot", "dot_product":
		return DotProduct, nil
	case "euclidean", "l2":
		return NegativeEuclidean, nil
	default:
		return nil, fmt.Errorf("vectordb: unknown metric %q", name)
	}
}

func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func EuclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func finite(vec []float32) bool {
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
