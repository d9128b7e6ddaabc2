package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for values the engine cannot work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Memory.ChunkTokens <= 0 {
		errs = append(errs, fmt.Errorf("memory.chunk_tokens must be positive, got %d", c.Memory.ChunkTokens))
	}
	if c.Memory.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("memory.chunk_overlap must not be negative, got %d", c.Memory.ChunkOverlap))
	}
	if c.Memory.ChunkOverlap >= c.Memory.ChunkTokens {
		errs = append(errs, fmt.Errorf("memory.chunk_overlap (%d) must be smaller than memory.chunk_tokens (%d)",
			c.Memory.ChunkOverlap, c.Memory.ChunkTokens))
	}
	if c.Memory.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("memory.max_results must be positive, got %d", c.Memory.MaxResults))
	}
	if c.Memory.MinScore < 0 || c.Memory.MinScore > 1 {
		errs = append(errs, fmt.Errorf("memory.min_score must be in [0, 1], got %f", c.Memory.MinScore))
	}
	if c.Memory.VectorWeight < 0 || c.Memory.TextWeight < 0 {
		errs = append(errs, errors.New("memory weights must not be negative"))
	}
	if c.Memory.CandidateMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("memory.candidate_multiplier must be positive, got %d", c.Memory.CandidateMultiplier))
	}
	if c.Memory.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("memory.embed_batch_size must be positive, got %d", c.Memory.EmbedBatchSize))
	}
	if c.Memory.EmbedConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("memory.embed_concurrency must be positive, got %d", c.Memory.EmbedConcurrency))
	}

	switch c.Embedding.Provider {
	case "openai", "local", "none", "":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be openai, local, or none, got %q", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		errs = append(errs, errors.New("embedding.api_key is required for the openai provider"))
	}

	return errors.Join(errs...)
}
