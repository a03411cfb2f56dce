package ai

import (
	"testing"

	"github.com/hrygo/siyuan-companion/internal/profile"
)

func TestNewConfigFromProfile(t *testing.T) {
	prof := &profile.Profile{
		EmbeddingModel:      "BAAI/bge-m3",
		EmbeddingAPIKey:     "test-key",
		EmbeddingBaseURL:    "https://api.siliconflow.cn/v1",
		EmbeddingDimensions: 1024,
		EmbeddingRPS:        4,
		MaxSegmentTokens:    256,
		TokenizerModel:      "gpt-4o",
	}

	cfg := NewConfigFromProfile(prof)

	if cfg.Embedding.Model != "BAAI/bge-m3" {
		t.Errorf("Expected Embedding.Model=BAAI/bge-m3, got %s", cfg.Embedding.Model)
	}
	if cfg.Embedding.APIKey != "test-key" {
		t.Errorf("Expected Embedding.APIKey=test-key, got %s", cfg.Embedding.APIKey)
	}
	if cfg.Embedding.BaseURL != "https://api.siliconflow.cn/v1" {
		t.Errorf("Expected Embedding.BaseURL=https://api.siliconflow.cn/v1, got %s", cfg.Embedding.BaseURL)
	}
	if cfg.Embedding.Dimensions != 1024 {
		t.Errorf("Expected Embedding.Dimensions=1024, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.RPS != 4 {
		t.Errorf("Expected Embedding.RPS=4, got %d", cfg.Embedding.RPS)
	}
	if cfg.MaxSegmentTokens != 256 {
		t.Errorf("Expected MaxSegmentTokens=256, got %d", cfg.MaxSegmentTokens)
	}
	if cfg.TokenizerModel != "gpt-4o" {
		t.Errorf("Expected TokenizerModel=gpt-4o, got %s", cfg.TokenizerModel)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := &Config{
		Embedding: EmbeddingConfig{
			Model:      "all-MiniLM-L6-v2",
			Dimensions: 384,
		},
		MaxSegmentTokens: 512,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid config to pass, got %v", err)
	}

	missingModel := &Config{
		Embedding:        EmbeddingConfig{Dimensions: 384},
		MaxSegmentTokens: 512,
	}
	if err := missingModel.Validate(); err == nil {
		t.Error("Expected error for missing embedding model, got nil")
	}

	badDimensions := &Config{
		Embedding:        EmbeddingConfig{Model: "all-MiniLM-L6-v2"},
		MaxSegmentTokens: 512,
	}
	if err := badDimensions.Validate(); err == nil {
		t.Error("Expected error for non-positive dimensions, got nil")
	}

	badSegmentTokens := &Config{
		Embedding: EmbeddingConfig{
			Model:      "all-MiniLM-L6-v2",
			Dimensions: 384,
		},
	}
	if err := badSegmentTokens.Validate(); err == nil {
		t.Error("Expected error for non-positive max segment tokens, got nil")
	}
}
