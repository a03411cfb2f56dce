package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/siyuan-companion/ai/rag"
	"github.com/hrygo/siyuan-companion/ai/tokenizer"
	"github.com/hrygo/siyuan-companion/internal/profile"
)

type fakeRetriever struct {
	mu       sync.Mutex
	segments []string
	err      error
	queries  []string
	limits   []int
}

func (f *fakeRetriever) Tokenizers() *tokenizer.Registry {
	return tokenizer.NewRegistry("")
}

func (f *fakeRetriever) BuildPrompt(ctx context.Context, query string, limit int, counter tokenizer.Counter) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return "", f.err
	}
	return rag.Prompt(query, f.segments), nil
}

func (f *fakeRetriever) Context(ctx context.Context, query string, limit int, counter tokenizer.Counter) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, limit)
	return f.segments, f.err
}

type upstream struct {
	server *httptest.Server

	mu     sync.Mutex
	calls  int
	method string
	path   string
	header http.Header
	body   []byte
}

// newUpstream starts a recording upstream that answers with the given status
// and JSON body.
func newUpstream(t *testing.T, status int, response string) *upstream {
	t.Helper()
	u := &upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.method = r.Method
	u.path = r.URL.Path
	u.header = r.Header.Clone()
	u.body = body
}

// base returns the upstream root with a /v1 suffix, the shape openai-url is
// configured with.
func (u *upstream) base() string {
	return u.server.URL + "/v1"
}

func newProxy(openaiURL, openaiToken string, retriever Retriever) *echo.Echo {
	p := &profile.Profile{OpenAIURL: openaiURL, OpenAIToken: openaiToken}
	e := echo.New()
	NewOpenAIService(p, retriever, nil).RegisterRoutes(e.Group(""))
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestOpenAIService_RAGChatRewritesLastUserMessage(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{"id":"cmpl-1"}`)
	retriever := &fakeRetriever{segments: []string{"alpha one"}}
	e := newProxy(up.base(), "up-token", retriever)

	body := `{
		"model": "gpt-4",
		"temperature": 0.5,
		"tokenizerModel": "gpt-4",
		"messages": [
			{"role": "system", "content": "be nice"},
			{"role": "user", "content": "first question"},
			{"role": "assistant", "content": "first answer"},
			{"role": "user", "content": "what is alpha?"}
		]
	}`
	rec := do(e, http.MethodPost, "/openai/rag/v1/chat/completions", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"cmpl-1"}`, rec.Body.String())

	assert.Equal(t, []string{"what is alpha?"}, retriever.queries)
	assert.Equal(t, []int{rag.DefaultContextLimit}, retriever.limits)

	assert.Equal(t, http.MethodPost, up.method)
	assert.Equal(t, "/v1/chat/completions", up.path)

	var forwarded map[string]any
	require.NoError(t, json.Unmarshal(up.body, &forwarded))

	_, present := forwarded["tokenizerModel"]
	assert.False(t, present, "tokenizerModel must not be forwarded")
	assert.Equal(t, "gpt-4", forwarded["model"])
	assert.Equal(t, 0.5, forwarded["temperature"])

	messages := forwarded["messages"].([]any)
	require.Len(t, messages, 4)

	// Only the last user message is rewritten.
	assert.Equal(t, "first question", messages[1].(map[string]any)["content"])
	assert.Equal(t,
		rag.Prompt("what is alpha?", []string{"alpha one"}),
		messages[3].(map[string]any)["content"])
}

func TestOpenAIService_RAGChatNoUserMessage(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	e := newProxy(up.base(), "", &fakeRetriever{})

	for name, body := range map[string]string{
		"no user role":  `{"messages": [{"role": "system", "content": "be nice"}]}`,
		"empty content": `{"messages": [{"role": "user", "content": ""}]}`,
		"no messages":   `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/openai/rag/v1/chat/completions", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"No user message provided"}`, rec.Body.String())
		})
	}

	assert.Zero(t, up.calls, "nothing should reach upstream on invalid input")
}

func TestOpenAIService_RAGChatRetrievalFailure(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	e := newProxy(up.base(), "", &fakeRetriever{err: context.DeadlineExceeded})

	rec := do(e, http.MethodPost, "/openai/rag/v1/chat/completions",
		`{"messages": [{"role": "user", "content": "q"}]}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to retrieve context"}`, rec.Body.String())
	assert.Zero(t, up.calls)
}

func TestOpenAIService_RAGCompletionsRewritesPrompt(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{"id":"cmpl-2"}`)
	retriever := &fakeRetriever{segments: []string{"ctx"}}
	e := newProxy(up.base(), "", retriever)

	rec := do(e, http.MethodPost, "/openai/rag/v1/completions",
		`{"prompt": "why?", "max_tokens": 5}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/v1/completions", up.path)

	var forwarded map[string]any
	require.NoError(t, json.Unmarshal(up.body, &forwarded))
	assert.Equal(t, rag.Prompt("why?", []string{"ctx"}), forwarded["prompt"])
	assert.Equal(t, float64(5), forwarded["max_tokens"])
}

func TestOpenAIService_RAGCompletionsNoPrompt(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	e := newProxy(up.base(), "", &fakeRetriever{})

	rec := do(e, http.MethodPost, "/openai/rag/v1/completions", `{"max_tokens": 5}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No prompt provided"}`, rec.Body.String())
	assert.Zero(t, up.calls)
}

func TestOpenAIService_DirectPassthrough(t *testing.T) {
	up := newUpstream(t, http.StatusTeapot, `{"relayed":true}`)
	e := newProxy(up.base(), "up-token", &fakeRetriever{})

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"tokenizerModel":"kept"}`
	req := httptest.NewRequest(http.MethodPost, "/openai/direct/v1/chat/completions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer caller-secret")
	req.Header.Set("X-Custom", "kept")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	// Status, headers and body come back from upstream untouched.
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.JSONEq(t, `{"relayed":true}`, rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))

	// The payload is forwarded byte for byte, tokenizerModel included.
	assert.Equal(t, body, string(up.body))
	assert.Equal(t, "/v1/chat/completions", up.path)

	// Caller credentials never reach upstream.
	assert.Equal(t, "Bearer up-token", up.header.Get(echo.HeaderAuthorization))
	assert.Equal(t, "kept", up.header.Get("X-Custom"))
}

func TestOpenAIService_ForwardWithoutUpstreamToken(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	e := newProxy(up.base(), "", &fakeRetriever{})

	req := httptest.NewRequest(http.MethodPost, "/openai/direct/v1/embeddings",
		strings.NewReader(`{"input":"x"}`))
	req.Header.Set(echo.HeaderAuthorization, "Bearer caller-secret")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, present := up.header[echo.HeaderAuthorization]
	assert.False(t, present, "authorization must be dropped when no upstream token is set")
}

func TestOpenAIService_ModelsPassthrough(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{"data":[{"id":"gpt-4"}]}`)
	e := newProxy(up.base(), "", &fakeRetriever{})

	rec := do(e, http.MethodGet, "/openai/rag/v1/models", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.MethodGet, up.method)
	assert.Equal(t, "/v1/models", up.path)
	assert.JSONEq(t, `{"data":[{"id":"gpt-4"}]}`, rec.Body.String())
}

func TestOpenAIService_StreamingRelay(t *testing.T) {
	chunks := []string{"data: one\n\n", "data: two\n\n", "data: [DONE]\n\n"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, true, payload["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
		}
	}))
	defer server.Close()

	e := newProxy(server.URL+"/v1", "", &fakeRetriever{})

	rec := do(e, http.MethodPost, "/openai/direct/v1/chat/completions",
		`{"stream": true, "messages": [{"role": "user", "content": "hi"}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, strings.Join(chunks, ""), rec.Body.String())
	assert.True(t, rec.Flushed, "stream chunks must be flushed as they arrive")
}

func TestOpenAIService_UpstreamUnreachable(t *testing.T) {
	// Nothing listens on this port.
	e := newProxy("http://127.0.0.1:1/v1", "", &fakeRetriever{})

	rec := do(e, http.MethodPost, "/openai/direct/v1/completions", `{"prompt":"x"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"failed to communicate with upstream provider"}`, rec.Body.String())
}

func TestOpenAIService_Retrieve(t *testing.T) {
	retriever := &fakeRetriever{segments: []string{"s1", "s2"}}
	e := newProxy("http://unused.invalid/v1", "", retriever)

	rec := do(e, http.MethodPost, "/openai/direct/v1/retrieve",
		`{"prompt": "find things", "model": "gpt-4"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"context":["s1","s2"]}`, rec.Body.String())
	assert.Equal(t, []string{"find things"}, retriever.queries)
}

func TestOpenAIService_RetrieveEmpty(t *testing.T) {
	e := newProxy("http://unused.invalid/v1", "", &fakeRetriever{})

	rec := do(e, http.MethodPost, "/openai/direct/v1/retrieve", `{"prompt": "nothing indexed"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"context":[]}`, rec.Body.String())
}

func TestOpenAIService_RetrieveNoPrompt(t *testing.T) {
	e := newProxy("http://unused.invalid/v1", "", &fakeRetriever{})

	rec := do(e, http.MethodPost, "/openai/direct/v1/retrieve", `{"model": "gpt-4"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No prompt provided"}`, rec.Body.String())
}
