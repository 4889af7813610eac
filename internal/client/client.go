// Package client talks to the deliberation backend. Its one real job is to
// open the long-lived event stream for a question; everything downstream of
// the response body belongs to the stream and pipeline packages.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quorum/internal/jsonx"
	"quorum/internal/logging"
)

// StatusError reports a non-success HTTP response from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("backend rejected credentials (HTTP %d)", e.Code)
	case http.StatusTooManyRequests:
		return fmt.Sprintf("backend is rate limiting (HTTP %d)", e.Code)
	default:
		if e.Body != "" {
			return fmt.Sprintf("backend returned HTTP %d: %s", e.Code, e.Body)
		}
		return fmt.Sprintf("backend returned HTTP %d", e.Code)
	}
}

// Client issues requests against one backend base URL.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

// New builds a client. timeout bounds the whole streamed exchange, not just
// connection setup; zero means no bound beyond the caller's context.
func New(baseURL, apiKey string, timeout time.Duration, logger logging.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(logger),
	}
}

type queryRequest struct {
	Question string `json:"question"`
}

// StreamQuery submits a question and returns the backend's event stream.
// The caller owns the returned body; cancelling ctx aborts the exchange.
func (c *Client) StreamQuery(ctx context.Context, question string) (io.ReadCloser, error) {
	payload, err := jsonx.Marshal(queryRequest{Question: question})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/api/query"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("POST %s", endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := readLimited(resp.Body)
		_ = resp.Body.Close()
		c.logger.Warn("stream request rejected: HTTP %d: %s", resp.StatusCode, body)
		return nil, &StatusError{Code: resp.StatusCode, Body: body}
	}
	return resp.Body, nil
}

func readLimited(r io.Reader) string {
	const maxErrBody = 4 * 1024
	data, err := io.ReadAll(io.LimitReader(r, maxErrBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
