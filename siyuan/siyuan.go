// Package siyuan implements a client for the SiYuan kernel HTTP API.
//
// The kernel speaks JSON-RPC-ish POST endpoints that wrap every payload in a
// {code, msg, data} envelope. A non-zero code is an application-level failure
// even when the HTTP status is 200.
package siyuan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// APIError describes a failed kernel call. StatusCode carries the HTTP
// status of the response; Message is either the envelope msg or a
// transport-level description.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("siyuan: %s (status %d)", e.Message, e.StatusCode)
}

// Client talks to a single SiYuan kernel.
//
// The zero value is not usable; construct with NewClient. Methods are safe
// for concurrent use.
type Client struct {
	baseURL string
	token   string

	httpClient *http.Client

	// blockCount caches the kernel's block count for SQL LIMIT clauses.
	// Negative means unknown.
	blockCount atomic.Int64
}

// NewClient creates a kernel client. token may be empty when the kernel
// runs without authentication.
func NewClient(baseURL, token string) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: newHTTPClient(),
	}
	c.blockCount.Store(-1)

	if token != "" {
		slog.Debug("siyuan kernel authentication enabled")
	}

	return c
}

// Close releases pooled connections. The client must not be used afterwards.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// post sends a kernel request and decodes the envelope data into out.
// Pass a nil out to discard the data field.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	resp, err := c.do(ctx, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &APIError{
			Message:    "failed to communicate with SiYuan server",
			StatusCode: resp.StatusCode,
		}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode kernel response for %s: %w", path, err)
	}

	if env.Code != 0 {
		return &APIError{
			Message:    env.Msg,
			StatusCode: resp.StatusCode,
		}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode kernel data for %s: %w", path, err)
		}
	}

	return nil
}

// postRaw sends a kernel request and returns the raw response body. Used for
// endpoints that answer with file content instead of the JSON envelope.
func (c *Client) postRaw(ctx context.Context, path string, payload any) ([]byte, error) {
	resp, err := c.do(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, &APIError{
			Message:    "failed to communicate with SiYuan server",
			StatusCode: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read kernel response for %s: %w", path, err)
	}

	return body, nil
}

func (c *Client) do(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode kernel request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build kernel request for %s: %w", path, err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	slog.DebugContext(ctx, "siyuan kernel request", "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}

	return resp, nil
}

// query runs a SQL statement through /api/query/sql and decodes the rows
// into out.
func (c *Client) query(ctx context.Context, stmt string, out any) error {
	return c.post(ctx, "/api/query/sql", map[string]string{"stmt": stmt}, out)
}

// Version returns the kernel version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version string
	if err := c.post(ctx, "/api/system/version", struct{}{}, &version); err != nil {
		return "", err
	}

	return version, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
