package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// LocalProvider is a deterministic, dependency-free embedding provider. It
// hashes word n-grams into a fixed-width vector and L2-normalizes it. The
// vectors are crude but stable, which keeps vector search available when no
// remote provider is configured and gives tests a provider that never fails.
type LocalProvider struct {
	model string
	dims  int
}

// NewLocalProvider creates a local hashing provider.
func NewLocalProvider(model string, dims int) *LocalProvider {
	if model == "" {
		model = "hash-v1"
	}
	if dims <= 0 {
		dims = 256
	}
	return &LocalProvider{model: model, dims: dims}
}

func (p *LocalProvider) ID() string      { return "local" }
func (p *LocalProvider) Model() string   { return p.model }
func (p *LocalProvider) Dimensions() int { return p.dims }

// EmbedQuery embeds text by hashing its unigrams and bigrams into buckets.
func (p *LocalProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)
	words := strings.Fields(strings.ToLower(text))

	add := func(token string, weight float32) {
		sum := sha256.Sum256([]byte(token))
		bucket := binary.LittleEndian.Uint32(sum[:4]) % uint32(p.dims)
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign * weight
	}

	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}

	return vec, nil
}
