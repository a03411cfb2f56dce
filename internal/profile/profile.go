package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// SiYuan kernel (the note store being indexed)
	SiyuanURL   string // kernel API root, e.g. http://localhost:6806
	SiyuanToken string // kernel API token (not the auth code)

	// Vector index
	VectorDriver   string // qdrant or postgres
	QdrantLocation string // gRPC target, host:port or http(s)://host:port
	CollectionName string // qdrant collection / postgres table name
	VectorDSN      string // postgres DSN when VectorDriver is postgres

	// Upstream OpenAI-compatible endpoint the proxy forwards to
	OpenAIURL   string
	OpenAIToken string

	// Embedding backend (OpenAI-compatible /embeddings endpoint)
	EmbeddingBaseURL    string
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingRPS        int // 0 disables throttling

	// Segmentation / tokenization
	MaxSegmentTokens int
	TokenizerModel   string

	// Service behaviour
	CompanionToken   string // inbound bearer token; empty disables auth
	ForceUpdateIndex bool   // drop the update cursor before the first sweep
	LogLevel         string
	IndexInterval    time.Duration

	Mode    string
	Addr    string
	Port    int
	Data    string // directory holding the last_update cursor file
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// SlogLevel maps the configured logging level onto slog.
func (p *Profile) SlogLevel() slog.Level {
	switch strings.ToLower(p.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads the embedding and tokenization settings from environment
// variables. The embedding endpoint falls back to the proxy upstream so a
// single OPENAI_URL/OPENAI_TOKEN pair is a complete configuration.
func (p *Profile) FromEnv() {
	p.EmbeddingBaseURL = getEnvOrDefault("EMBEDDING_BASE_URL", "")
	p.EmbeddingAPIKey = getEnvOrDefault("EMBEDDING_API_KEY", "")
	p.EmbeddingModel = getEnvOrDefault("EMBEDDING_MODEL", "all-MiniLM-L6-v2")
	p.EmbeddingDimensions = getEnvOrDefaultInt("EMBEDDING_DIMENSIONS", 384)
	p.EmbeddingRPS = getEnvOrDefaultInt("EMBEDDING_RPS", 0)

	p.MaxSegmentTokens = getEnvOrDefaultInt("MAX_SEGMENT_TOKENS", 512)
	p.TokenizerModel = getEnvOrDefault("TOKENIZER_MODEL", "gpt-3.5-turbo")

	if p.EmbeddingBaseURL == "" {
		p.EmbeddingBaseURL = p.OpenAIURL
	}
	if p.EmbeddingAPIKey == "" {
		p.EmbeddingAPIKey = p.OpenAIToken
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied. The cursor file
	// lives here, so relative paths resolve against the working directory.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	switch p.VectorDriver {
	case "", "qdrant":
		p.VectorDriver = "qdrant"
	case "postgres":
		if p.VectorDSN == "" {
			return errors.New("vector driver postgres requires a DSN")
		}
	default:
		return errors.Errorf("unknown vector driver %q", p.VectorDriver)
	}

	if p.SiyuanURL == "" {
		return errors.New("siyuan url must not be empty")
	}
	if p.CollectionName == "" {
		return errors.New("collection name must not be empty")
	}
	if p.EmbeddingDimensions <= 0 {
		return errors.Errorf("invalid embedding dimensions %d", p.EmbeddingDimensions)
	}
	if p.MaxSegmentTokens <= 0 {
		return errors.Errorf("invalid max segment tokens %d", p.MaxSegmentTokens)
	}
	if p.IndexInterval <= 0 {
		p.IndexInterval = 5 * time.Minute
	}

	return nil
}
