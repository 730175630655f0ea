package http

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/pkg/circuitbreaker"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// StatusError is returned when a collaborator answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether a collaborator error is transient: network
// failures, timeouts, 429 and 5xx responses. An open circuit is not retried
// because the breaker already decided the target is down.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// Client is a custom HTTP client that wraps the standard http.Client
// and provides built-in support for circuit breaking.
type Client struct {
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreakerOptions passes options through to the circuit breaker.
func WithBreakerOptions(opts ...circuitbreaker.Option) Option {
	return func(c *Client) {
		if c.breaker != nil {
			for _, opt := range opts {
				opt(c.breaker)
			}
		}
	}
}

// NewClient creates a Client for the collaborator called name. When the
// circuit breaker is disabled requests go straight to the http.Client.
func NewClient(name string, cfg config.CircuitBreakerConfig, timeout time.Duration, opts ...Option) *Client {
	c := &Client{httpClient: &http.Client{Timeout: timeout}}
	if cfg.Enabled {
		c.breaker = circuitbreaker.New(name, cfg.FailureThreshold, cfg.SuccessThreshold, cfg.Timeout)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes an HTTP request with circuit breaker protection.
// Status codes >= 500 count as failures for the breaker and, like every
// other non-2xx status, are returned as *StatusError with the body closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var resp *http.Response
	call := func() error {
		var err error
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return drainStatus(resp)
		}
		return nil
	}

	var err error
	if c.breaker == nil {
		err = call()
	} else {
		err = c.breaker.Do(call)
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, drainStatus(resp)
	}
	return resp, nil
}

// drainStatus reads a short prefix of the body for diagnostics and closes it.
func drainStatus(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}

// PostJSON sends in as a JSON body and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url, token string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setToken(req, token)
	return c.decode(req, out)
}

// PostFile uploads the file at path as a multipart form field, together with
// the extra form fields, and decodes the JSON response into out. The file is
// streamed so large media never has to fit in memory.
func (c *Client) PostFile(ctx context.Context, url, token, field, path string, fields map[string]string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := mw.CreateFormFile(field, filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	setToken(req, token)
	err = c.decode(req, out)
	pr.Close()
	return err
}

// Get fetches url and returns at most limit bytes of the body together with
// the response Content-Type.
func (c *Client) Get(ctx context.Context, url string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	resp, err := c.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	r := io.Reader(resp.Body)
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, "", fmt.Errorf("response exceeds %d bytes", limit)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Download streams url into dst, failing once more than limit bytes arrive.
// A partially written dst is removed on failure.
func (c *Client) Download(ctx context.Context, url, dst string, limit int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if limit > 0 && resp.ContentLength > limit {
		return 0, fmt.Errorf("response exceeds %d bytes", limit)
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", filepath.Base(dst), err)
	}
	r := io.Reader(resp.Body)
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && limit > 0 && n > limit {
		err = fmt.Errorf("response exceeds %d bytes", limit)
	}
	if err != nil {
		os.Remove(dst)
		return 0, err
	}
	return n, nil
}

func (c *Client) decode(req *http.Request, out interface{}) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func setToken(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
