package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalClient is an offline embeddings.EmbedderClient that hashes word features into a
// fixed number of buckets. Vectors are L2-normalized, so cosine and dot product agree.
type LocalClient struct {
	dimension int
}

func NewLocalClient(dimension int) (*LocalClient, error) {
	if dimension <= 0 {
		return nil, errInvalidDimension
	}
	return &LocalClient{dimension: dimension}, nil
}

// CreateEmbedding implements embeddings.EmbedderClient.
func (c *LocalClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = c.Vector(text)
	}
	return out, nil
}

// Vector embeds one text. Empty or symbol-only text maps to the zero vector.
func (c *LocalClient) Vector(text string) []float32 {
	vec := make([]float64, c.dimension)
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		counts[tok]++
	}
	for tok, n := range counts {
		bucket, sign := c.bucket(tok)
		vec[bucket] += sign * (1 + math.Log(float64(n)))
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, c.dimension)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (c *LocalClient) bucket(token string) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum64()
	sign := 1.0
	if sum&(1<<63) != 0 {
		sign = -1
	}
	return int(sum % uint64(c.dimension)), sign // #nosec G115 -- dimension is positive
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
