package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// mockProvider produces deterministic pseudo-random unit vectors derived
// from a hash of the input text (§4.7: "Built-in mock-model yields
// deterministic pseudo-random unit vectors derived from text hash (used
// for tests)"). Same text always yields the same vector.
type mockProvider struct {
	name string
	dim  int
}

// NewMock constructs the built-in deterministic embedding provider.
func NewMock(name string, dimension int) Provider {
	return &mockProvider{name: name, dim: dimension}
}

func (m *mockProvider) Name() string    { return m.name }
func (m *mockProvider) Dimension() int  { return m.dim }

func (m *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.dim)
	h := fnv.New64a()
	for i := 0; i < m.dim; i++ {
		h.Reset()
		_, _ = h.Write([]byte(text))
		_, _ = h.Write([]byte{byte(i), byte(i >> 8)})
		sum := h.Sum64()
		// Map the hash into [-1, 1) deterministically.
		vec[i] = float32(int64(sum%2000001))/1000000.0 - 1.0
	}
	normalize(vec)
	return vec, nil
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}
