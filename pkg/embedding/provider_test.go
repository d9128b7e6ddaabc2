package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider_Deterministic(t *testing.T) {
	p := NewLocalProvider("hash-v1", 128)

	a, err := p.EmbedQuery(context.Background(), "favorite color is blue")
	require.NoError(t, err)
	b, err := p.EmbedQuery(context.Background(), "favorite color is blue")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
}

func TestLocalProvider_Normalized(t *testing.T) {
	p := NewLocalProvider("", 0)
	assert.Equal(t, "hash-v1", p.Model())
	assert.Equal(t, 256, p.Dimensions())

	vec, err := p.EmbedQuery(context.Background(), "some words to embed")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestLocalProvider_SimilarTextsCloser(t *testing.T) {
	p := NewLocalProvider("hash-v1", 256)
	ctx := context.Background()

	a, _ := p.EmbedQuery(ctx, "the user's favorite color is blue")
	b, _ := p.EmbedQuery(ctx, "favorite color blue")
	c, _ := p.EmbedQuery(ctx, "quarterly revenue projections spreadsheet")

	dot := func(x, y []float32) float64 {
		var s float64
		for i := range x {
			s += float64(x[i]) * float64(y[i])
		}
		return s
	}

	assert.Greater(t, dot(a, b), dot(a, c))
}

// seqProvider embeds one at a time and counts calls; it does not implement
// BatchProvider.
type seqProvider struct {
	calls int
	fail  bool
}

func (s *seqProvider) ID() string      { return "seq" }
func (s *seqProvider) Model() string   { return "seq-1" }
func (s *seqProvider) Dimensions() int { return 2 }
func (s *seqProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("provider down")
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestEmbedAll_FallsBackToSequential(t *testing.T) {
	p := &seqProvider{}
	vectors, err := EmbedAll(context.Background(), p, []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	assert.Equal(t, 3, p.calls)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(2), vectors[1][0])
}

func TestEmbedAll_PropagatesError(t *testing.T) {
	p := &seqProvider{fail: true}
	_, err := EmbedAll(context.Background(), p, []string{"a"})
	assert.Error(t, err)
}

func TestEmbedAll_UsesBatchWhenAvailable(t *testing.T) {
	p := NewLocalProvider("hash-v1", 64)
	// LocalProvider has no EmbedBatch; wrap it to verify batch dispatch.
	bp := &batchSpy{Provider: p}

	_, err := EmbedAll(context.Background(), bp, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, 1, bp.batchCalls)
}

type batchSpy struct {
	Provider
	batchCalls int
}

func (b *batchSpy) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.batchCalls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := b.Provider.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
