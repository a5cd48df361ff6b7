package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"homeboard/internal/auth"
)

// ErrUnauthorized is returned for any 401 answer from the backend.
var ErrUnauthorized = errors.New("backend rejected credential")

type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// TokenSource supplies the current bearer token; empty means anonymous.
type TokenSource interface {
	Token() string
}

type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

var (
	// NeverRetry issues exactly one request.
	NeverRetry   = RetryPolicy{Attempts: 1}
	DefaultRetry = RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond}
)

const maxErrorBody = 4 << 10

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	retry   RetryPolicy
}

func New(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		retry:   DefaultRetry,
	}
}

// WithRetry returns a copy of the client that retries reads with policy.
func (c *Client) WithRetry(policy RetryPolicy) *Client {
	clone := *c
	clone.retry = policy
	return &clone
}

type call struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	anonymous   bool
	policy      *RetryPolicy
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, call{method: http.MethodGet, path: path}, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = encoded
	}
	return c.do(ctx, call{method: method, path: path, body: body, contentType: "application/json"}, out)
}

func (c *Client) upload(ctx context.Context, path, filename string, content io.Reader, out any) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("read upload %s: %w", filename, err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("build upload: %w", err)
	}
	return c.do(ctx, call{
		method:      http.MethodPost,
		path:        path,
		body:        buf.Bytes(),
		contentType: form.FormDataContentType(),
	}, out)
}

func (c *Client) do(ctx context.Context, req call, out any) error {
	policy := NeverRetry
	if req.method == http.MethodGet {
		policy = c.retry
	}
	if req.policy != nil {
		policy = *req.policy
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retry, err := c.attempt(ctx, req, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return lastErr
}

// attempt performs one round trip and reports whether a failure is worth retrying.
func (c *Client) attempt(ctx context.Context, req call, out any) (bool, error) {
	target := c.baseURL + "/" + strings.TrimLeft(req.path, "/")
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return false, fmt.Errorf("create request %s %s: %w", req.method, req.path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if !req.anonymous && c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			httpReq.Header.Set("Authorization", auth.BearerHeader(token))
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return false, fmt.Errorf("%s %s: %w", req.method, req.path, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{
			Method:  req.method,
			Path:    req.path,
			Status:  resp.StatusCode,
			Message: errorMessage(raw),
		}
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return retry, statusErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", req.method, req.path, err)
	}
	if v, ok := out.(validator); ok {
		if err := v.Validate(); err != nil {
			return false, fmt.Errorf("%s %s: %w", req.method, req.path, err)
		}
	}
	return false, nil
}

// errorMessage pulls the human readable part out of an error body.
func errorMessage(raw []byte) string {
	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if s, ok := payload.Detail.(string); ok && s != "" {
			return s
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
