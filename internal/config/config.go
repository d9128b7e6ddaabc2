package config

import "time"

// Config is the top-level mnemo configuration.
type Config struct {
	// Data directory holding the memory files and the index database.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	Session   SessionConfig   `json:"session" mapstructure:"session"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// MemoryConfig holds indexing and retrieval knobs.
type MemoryConfig struct {
	// Chunking
	ChunkTokens  int `json:"chunk_tokens" mapstructure:"chunk_tokens"`
	ChunkOverlap int `json:"chunk_overlap" mapstructure:"chunk_overlap"`

	// Retrieval
	MaxResults          int     `json:"max_results" mapstructure:"max_results"`
	MinScore            float64 `json:"min_score" mapstructure:"min_score"`
	VectorWeight        float64 `json:"vector_weight" mapstructure:"vector_weight"`
	TextWeight          float64 `json:"text_weight" mapstructure:"text_weight"`
	CandidateMultiplier int     `json:"candidate_multiplier" mapstructure:"candidate_multiplier"`

	// Retention
	NotesTTL  time.Duration `json:"notes_ttl" mapstructure:"notes_ttl"`
	StableTTL time.Duration `json:"stable_ttl" mapstructure:"stable_ttl"`

	// Sync
	SyncDebounce     time.Duration `json:"sync_debounce" mapstructure:"sync_debounce"`
	EmbedBatchSize   int           `json:"embed_batch_size" mapstructure:"embed_batch_size"`
	EmbedConcurrency int           `json:"embed_concurrency" mapstructure:"embed_concurrency"`

	// Additional read-only roots indexed alongside the memory directory.
	ExtraRoots []string `json:"extra_roots" mapstructure:"extra_roots"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider string        `json:"provider" mapstructure:"provider"` // openai, local, none
	Model    string        `json:"model" mapstructure:"model"`
	APIKey   string        `json:"api_key" mapstructure:"api_key"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
}

// SessionConfig controls inactivity-based session flushing.
type SessionConfig struct {
	InactivityFlush time.Duration `json:"inactivity_flush" mapstructure:"inactivity_flush"`
	CheckInterval   time.Duration `json:"check_interval" mapstructure:"check_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			ChunkTokens:         400,
			ChunkOverlap:        80,
			MaxResults:          5,
			MinScore:            0.3,
			VectorWeight:        0.7,
			TextWeight:          0.3,
			CandidateMultiplier: 3,
			NotesTTL:            24 * time.Hour,
			StableTTL:           7 * 24 * time.Hour,
			SyncDebounce:        1500 * time.Millisecond,
			EmbedBatchSize:      32,
			EmbedConcurrency:    4,
		},
		Embedding: EmbeddingConfig{
			Provider: "local",
			Model:    "hash-v1",
			Timeout:  30 * time.Second,
		},
		Session: SessionConfig{
			InactivityFlush: 5 * time.Minute,
			CheckInterval:   60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}
