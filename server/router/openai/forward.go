package openai

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Non-streaming upstream calls get a total budget; streaming runs until the
// upstream or the caller closes the stream.
const forwardTimeout = 30 * time.Second

// Hop-by-hop headers are meaningful per connection and must not be relayed.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// passthrough forwards the request body untouched.
func (s *OpenAIService) passthrough(route, mode, upstreamPath string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return badRequest(c, "failed to read request body")
		}

		stream := false
		var payload map[string]any
		if json.Unmarshal(body, &payload) == nil {
			stream = streamEnabled(payload)
		}

		return s.forward(c, route, mode, upstreamPath, body, stream)
	}
}

// forward relays the request to the upstream provider. The caller's
// Authorization header is replaced with the configured upstream token, or
// dropped when none is set.
func (s *OpenAIService) forward(c echo.Context, route, mode, upstreamPath string, body []byte, stream bool) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(c.Request().Context(), c.Request().Method,
		s.upstreamURL(upstreamPath), bytes.NewReader(body))
	if err != nil {
		return internalError(c, "failed to build upstream request")
	}

	copyForwardHeaders(req.Header, c.Request().Header, stream)
	if s.Profile.OpenAIToken != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+s.Profile.OpenAIToken)
	}

	client := s.client
	if stream {
		client = s.streaming
	}

	resp, err := client.Do(req)
	if err != nil {
		s.record(route, mode, http.StatusBadGateway, start)
		slog.ErrorContext(c.Request().Context(), "upstream request failed",
			"route", route, "mode", mode, "error", err)
		return errorJSON(c, http.StatusBadGateway, "failed to communicate with upstream provider")
	}
	defer resp.Body.Close()

	s.record(route, mode, resp.StatusCode, start)

	if stream {
		return relayStream(c, resp)
	}
	return relayResponse(c, resp)
}

func (s *OpenAIService) upstreamURL(path string) string {
	return strings.TrimSuffix(s.Profile.OpenAIURL, "/") + path
}

func (s *OpenAIService) record(route, mode string, status int, start time.Time) {
	if s.exporter == nil {
		return
	}
	s.exporter.RecordProxyRequest(route, mode, status, time.Since(start))
}

// copyForwardHeaders preserves caller headers minus hop-by-hop entries. The
// caller's Authorization never reaches upstream, and Content-Length is
// recomputed from the rewritten body.
func copyForwardHeaders(dst, src http.Header, stream bool) {
	for key, values := range src {
		switch http.CanonicalHeaderKey(key) {
		case "Authorization", "Host", "Content-Length":
			continue
		}
		if _, hop := hopByHopHeaders[http.CanonicalHeaderKey(key)]; hop {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}

	if stream {
		// Let the transport negotiate the encoding so relayed chunks are
		// plain event-stream bytes.
		dst.Del("Accept-Encoding")
	}
}

// relayResponse returns the upstream status, headers and body as-is.
func relayResponse(c echo.Context, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorJSON(c, http.StatusBadGateway, "failed to read upstream response")
	}

	header := c.Response().Header()
	for key, values := range resp.Header {
		if http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		if _, hop := hopByHopHeaders[http.CanonicalHeaderKey(key)]; hop {
			continue
		}
		for _, value := range values {
			header.Add(key, value)
		}
	}

	return c.Blob(resp.StatusCode, resp.Header.Get(echo.HeaderContentType), body)
}

// relayStream copies upstream bytes to the caller as they arrive, flushing
// after every chunk. Once relaying has begun the status is committed, so
// read errors just end the stream.
func relayStream(c echo.Context, resp *http.Response) error {
	response := c.Response()
	response.Header().Set(echo.HeaderContentType, "text/event-stream")
	response.WriteHeader(resp.StatusCode)

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := response.Write(buf[:n]); werr != nil {
				return nil
			}
			response.Flush()
		}
		if err != nil {
			return nil
		}
	}
}
