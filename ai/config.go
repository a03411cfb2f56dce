package ai

import (
	"errors"

	"github.com/hrygo/siyuan-companion/internal/profile"
)

// Config represents the retrieval pipeline configuration.
type Config struct {
	Embedding EmbeddingConfig

	// MaxSegmentTokens bounds the token length of context segments.
	MaxSegmentTokens int

	// TokenizerModel selects the default token counter.
	TokenizerModel string
}

// EmbeddingConfig represents vector embedding configuration for any
// OpenAI-compatible provider.
type EmbeddingConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int

	// RPS throttles embedding calls; zero disables throttling.
	RPS int
}

// NewConfigFromProfile creates the pipeline config from a profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Model:      p.EmbeddingModel,
			APIKey:     p.EmbeddingAPIKey,
			BaseURL:    p.EmbeddingBaseURL,
			Dimensions: p.EmbeddingDimensions,
			RPS:        p.EmbeddingRPS,
		},
		MaxSegmentTokens: p.MaxSegmentTokens,
		TokenizerModel:   p.TokenizerModel,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Embedding.Model == "" {
		return errors.New("embedding model is required")
	}

	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}

	if c.MaxSegmentTokens <= 0 {
		return errors.New("max segment tokens must be positive")
	}

	return nil
}
