// Package tokenizer resolves per-model token counters with lazy, cached
// construction and a safe fallback encoding.
package tokenizer

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is used when a model's tokenizer cannot be resolved.
const fallbackEncoding = "cl100k_base"

// DefaultModel is the counter used when no model is configured.
const DefaultModel = "gpt-3.5-turbo"

// Counter counts tokens in a text.
type Counter interface {
	Count(text string) int
}

type bpeCounter struct {
	encoding *tiktoken.Tiktoken
}

func (c *bpeCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// charCounter approximates four characters per token. Last resort when no
// BPE encoding can be loaded at all.
type charCounter struct{}

func (*charCounter) Count(text string) int {
	return len(text) / 4
}

// Registry resolves token counters by model name.
//
// Counters are constructed on first use and cached per model, so repeated
// selection of the same model is a no-op. Resolution failures fall back to
// the cl100k_base encoding with a warning. Safe for concurrent use.
type Registry struct {
	defaultModel string

	mu       sync.RWMutex
	counters map[string]Counter
}

// NewRegistry creates a registry. defaultModel may be empty, in which case
// DefaultModel is used.
func NewRegistry(defaultModel string) *Registry {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}

	return &Registry{
		defaultModel: defaultModel,
		counters:     make(map[string]Counter),
	}
}

// Counter returns the token counter for a model. An empty model selects the
// registry default. The returned counter is never nil.
func (r *Registry) Counter(model string) Counter {
	if model == "" {
		model = r.defaultModel
	}

	r.mu.RLock()
	counter, ok := r.counters[model]
	r.mu.RUnlock()
	if ok {
		return counter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if counter, ok := r.counters[model]; ok {
		return counter
	}

	counter = load(model)
	r.counters[model] = counter

	return counter
}

// DefaultModel returns the model selected when Counter is called with an
// empty name.
func (r *Registry) DefaultModel() string {
	return r.defaultModel
}

func load(model string) Counter {
	var (
		encoding *tiktoken.Tiktoken
		err      error
	)

	if strings.HasPrefix(model, "gpt") {
		encoding, err = tiktoken.EncodingForModel(model)
	} else {
		encoding, err = tiktoken.GetEncoding(model)
	}

	if err != nil {
		slog.Warn("no tokenizer for model, using fallback encoding",
			"model", model,
			"fallback", fallbackEncoding,
			"error", err,
		)

		encoding, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			slog.Error("fallback encoding unavailable, counting by characters", "error", err)
			return &charCounter{}
		}
	}

	return &bpeCounter{encoding: encoding}
}
