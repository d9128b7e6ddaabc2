// Package embedding defines the embedding provider contract the memory
// engine consumes, plus the bundled adapters. Providers are pluggable: the
// engine degrades to keyword-only retrieval when none is available.
package embedding

import "context"

// Provider turns text into a fixed-dimension float vector.
type Provider interface {
	// ID identifies the provider implementation (e.g. "openai", "local").
	ID() string
	// Model identifies the embedding model.
	Model() string
	// Dimensions is the vector width every embedding from this provider has.
	Dimensions() int
	// EmbedQuery embeds a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// BatchProvider is optionally implemented by providers that support batched
// embedding. Callers must tolerate its absence by embedding one at a time.
type BatchProvider interface {
	Provider
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedAll embeds texts through a provider, batching when supported.
func EmbedAll(ctx context.Context, p Provider, texts []string) ([][]float32, error) {
	if bp, ok := p.(BatchProvider); ok {
		return bp.EmbedBatch(ctx, texts)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}
