// Package transport contains the HTTP plumbing shared by the flag fetcher,
// the event delivery workers and the event ingestion endpoint.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Version is reported in the User-Agent header.
const Version = "1.0.0"

// UserAgent is sent with every request to the flag service.
const UserAgent = "PennantGoClient/" + Version

// Config holds connection settings for the flag service.
type Config struct {
	SDKKey         string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// DefaultConfig returns default transport configuration
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    10 * time.Second,
	}
}

// NewHTTPClient builds a client whose dial is bounded by ConnectTimeout and
// whose wait for response headers is bounded by ReadTimeout.
func NewHTTPClient(cfg Config) *http.Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultConfig().ReadTimeout
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.ReadTimeout,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// SetHeaders applies the SDK key, user agent and JSON content type.
func SetHeaders(h http.Header, sdkKey string) {
	if sdkKey != "" {
		h.Set("Authorization", sdkKey)
	}
	h.Set("User-Agent", UserAgent)
	h.Set("Content-Type", "application/json")
}

// Poster sends a JSON payload to a URL.
type Poster interface {
	Post(ctx context.Context, url string, payload []byte) error
}

// HTTPPoster implements Poster over net/http.
type HTTPPoster struct {
	sdkKey     string
	httpClient *http.Client
}

// NewHTTPPoster creates a poster with the configured timeouts.
func NewHTTPPoster(cfg Config) *HTTPPoster {
	return &HTTPPoster{
		sdkKey:     cfg.SDKKey,
		httpClient: NewHTTPClient(cfg),
	}
}

// Post performs a single POST. Non-2xx responses are returned as *HTTPError.
func (p *HTTPPoster) Post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	SetHeaders(req.Header, p.sdkKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ShouldRetry reports whether a failed request is worth repeating.
// 5xx and 429 responses and network errors are retried; other statuses are not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// HTTPError represents an HTTP error response
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status from err, or 0 when err is not an *HTTPError.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
