// Package openai proxies OpenAI-compatible requests to the configured
// upstream provider. The rag routes rewrite the caller's question into a
// prompt grounded with context retrieved from the notes index before
// forwarding; the direct routes forward payloads untouched.
package openai

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/siyuan-companion/ai/metrics"
	"github.com/hrygo/siyuan-companion/ai/tokenizer"
	"github.com/hrygo/siyuan-companion/internal/profile"
)

// Retriever is the slice of the retrieval engine the proxy needs.
type Retriever interface {
	Tokenizers() *tokenizer.Registry
	BuildPrompt(ctx context.Context, query string, limit int, counter tokenizer.Counter) (string, error)
	Context(ctx context.Context, query string, limit int, counter tokenizer.Counter) ([]string, error)
}

// OpenAIService serves the /openai route family.
type OpenAIService struct {
	Profile *profile.Profile
	Engine  Retriever

	exporter  *metrics.PrometheusExporter
	client    *http.Client
	streaming *http.Client
}

// NewOpenAIService creates the proxy service. The exporter may be nil.
func NewOpenAIService(profile *profile.Profile, engine Retriever, exporter *metrics.PrometheusExporter) *OpenAIService {
	transport := newTransport()
	return &OpenAIService{
		Profile:   profile,
		Engine:    engine,
		exporter:  exporter,
		client:    &http.Client{Timeout: forwardTimeout, Transport: transport},
		streaming: &http.Client{Transport: transport},
	}
}

// RegisterRoutes mounts the OpenAI-compatible surface on the group.
func (s *OpenAIService) RegisterRoutes(g *echo.Group) {
	ragGroup := g.Group("/openai/rag/v1")
	ragGroup.POST("/chat/completions", s.ragChatCompletions)
	ragGroup.POST("/completions", s.ragCompletions)
	ragGroup.POST("/embeddings", s.passthrough("embeddings", "rag", "/embeddings"))
	ragGroup.GET("/models", s.passthrough("models", "rag", "/models"))

	directGroup := g.Group("/openai/direct/v1")
	directGroup.POST("/chat/completions", s.passthrough("chat_completions", "direct", "/chat/completions"))
	directGroup.POST("/completions", s.passthrough("completions", "direct", "/completions"))
	directGroup.POST("/embeddings", s.passthrough("embeddings", "direct", "/embeddings"))
	directGroup.GET("/models", s.passthrough("models", "direct", "/models"))
	directGroup.POST("/retrieve", s.retrieve)
}

func badRequest(c echo.Context, message string) error {
	return errorJSON(c, http.StatusBadRequest, message)
}

func internalError(c echo.Context, message string) error {
	return errorJSON(c, http.StatusInternalServerError, message)
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, echo.Map{"error": message})
}
