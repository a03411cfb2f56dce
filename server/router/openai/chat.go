package openai

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/siyuan-companion/ai/rag"
)

// ragChatCompletions rewrites the last user message into a grounded prompt
// and forwards the payload.
func (s *OpenAIService) ragChatCompletions(c echo.Context) error {
	payload, err := decodePayload(c.Request().Body)
	if err != nil {
		return badRequest(c, "invalid JSON payload")
	}

	counter := s.Engine.Tokenizers().Counter(popTokenizerModel(payload))

	message, query := lastUserMessage(payload)
	if message == nil || query == "" {
		return badRequest(c, "No user message provided")
	}

	prompt, err := s.Engine.BuildPrompt(c.Request().Context(), query, rag.DefaultContextLimit, counter)
	if err != nil {
		slog.ErrorContext(c.Request().Context(), "failed to build grounded prompt", "error", err)
		return internalError(c, "failed to retrieve context")
	}
	message["content"] = prompt

	body, err := json.Marshal(payload)
	if err != nil {
		return internalError(c, "failed to encode upstream payload")
	}

	return s.forward(c, "chat_completions", "rag", "/chat/completions", body, streamEnabled(payload))
}

// ragCompletions rewrites the prompt field of a raw completion request.
func (s *OpenAIService) ragCompletions(c echo.Context) error {
	payload, err := decodePayload(c.Request().Body)
	if err != nil {
		return badRequest(c, "invalid JSON payload")
	}

	counter := s.Engine.Tokenizers().Counter(popTokenizerModel(payload))

	query, _ := payload["prompt"].(string)
	if query == "" {
		return badRequest(c, "No prompt provided")
	}

	prompt, err := s.Engine.BuildPrompt(c.Request().Context(), query, rag.DefaultContextLimit, counter)
	if err != nil {
		slog.ErrorContext(c.Request().Context(), "failed to build grounded prompt", "error", err)
		return internalError(c, "failed to retrieve context")
	}
	payload["prompt"] = prompt

	body, err := json.Marshal(payload)
	if err != nil {
		return internalError(c, "failed to encode upstream payload")
	}

	return s.forward(c, "completions", "rag", "/completions", body, streamEnabled(payload))
}

type retrieveRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// retrieve returns the context segments for a query without forwarding
// anything upstream, so callers can assemble their own prompt.
func (s *OpenAIService) retrieve(c echo.Context) error {
	var req retrieveRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON payload")
	}
	if req.Prompt == "" {
		return badRequest(c, "No prompt provided")
	}

	counter := s.Engine.Tokenizers().Counter(req.Model)

	segments, err := s.Engine.Context(c.Request().Context(), req.Prompt, rag.DefaultContextLimit, counter)
	if err != nil {
		slog.ErrorContext(c.Request().Context(), "failed to retrieve context", "error", err)
		return internalError(c, "failed to retrieve context")
	}
	if segments == nil {
		segments = []string{}
	}

	return c.JSON(http.StatusOK, echo.Map{"context": segments})
}

func decodePayload(r io.Reader) (map[string]any, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// popTokenizerModel removes the companion-only tokenizerModel field so it is
// never forwarded upstream. It selects the token counter for segmentation.
func popTokenizerModel(payload map[string]any) string {
	model, _ := payload["tokenizerModel"].(string)
	delete(payload, "tokenizerModel")
	return model
}

// lastUserMessage returns the last user-role message of the payload, which
// is both the retrieval query and the rewrite target.
func lastUserMessage(payload map[string]any) (map[string]any, string) {
	messages, _ := payload["messages"].([]any)
	for i := len(messages) - 1; i >= 0; i-- {
		message, ok := messages[i].(map[string]any)
		if !ok || message["role"] != "user" {
			continue
		}
		content, _ := message["content"].(string)
		return message, content
	}
	return nil, ""
}

func streamEnabled(payload map[string]any) bool {
	stream, _ := payload["stream"].(bool)
	return stream
}
