package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
	"github.com/OrlandoBitencourt/pennant/internal/transport"
)

// LatestFlagsPath is appended to the base URI to fetch every flag.
const LatestFlagsPath = "/sdk/latest-flags"

// Config holds HTTP fetcher configuration
type Config struct {
	BaseURI      string
	Transport    transport.Config
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultConfig returns default fetcher configuration
func DefaultConfig() Config {
	return Config{
		BaseURI:      "https://app.launchdarkly.com",
		Transport:    transport.DefaultConfig(),
		MaxRetries:   2,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// HTTPFetcher polls the flag service for the full flag set.
type HTTPFetcher struct {
	url          string
	sdkKey       string
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration

	// last good response, reused on 304 Not Modified
	mu    sync.Mutex
	etag  string
	flags map[string]domain.Flag
}

// NewHTTPFetcher creates a new HTTP fetcher
func NewHTTPFetcher(config Config) *HTTPFetcher {
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultConfig().RetryBackoff
	}
	return &HTTPFetcher{
		url:          strings.TrimRight(config.BaseURI, "/") + LatestFlagsPath,
		sdkKey:       config.Transport.SDKKey,
		httpClient:   transport.NewHTTPClient(config.Transport),
		maxRetries:   config.MaxRetries,
		retryBackoff: config.RetryBackoff,
	}
}

// URL returns the endpoint the fetcher polls.
func (f *HTTPFetcher) URL() string {
	return f.url
}

// FetchAll fetches all flags from the flag service.
func (f *HTTPFetcher) FetchAll(ctx context.Context) (map[string]domain.Flag, error) {
	flags, err := f.doRequest(ctx)
	if err != nil {
		return nil, domain.NewFetchError(f.url, err)
	}
	return flags, nil
}

// doRequest performs the request, retrying transient failures with a linear
// backoff of retryBackoff per attempt.
func (f *HTTPFetcher) doRequest(ctx context.Context) (map[string]domain.Flag, error) {
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(max(f.maxRetries, 0)), retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * f.retryBackoff, false
	}))

	flags, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (map[string]domain.Flag, error) {
		flags, err := f.doSingleRequest(ctx)
		if err != nil && transport.ShouldRetry(err) {
			return nil, retry.RetryableError(err)
		}
		return flags, err
	})
	if err != nil && transport.ShouldRetry(err) {
		return nil, fmt.Errorf("max retries exceeded: %w", err)
	}
	return flags, err
}

// doSingleRequest performs a single HTTP request
func (f *HTTPFetcher) doSingleRequest(ctx context.Context) (map[string]domain.Flag, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	transport.SetHeaders(req.Header, f.sdkKey)

	f.mu.Lock()
	etag := f.etag
	f.mu.Unlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.flags != nil {
			return copyFlags(f.flags), nil
		}
		return nil, &transport.HTTPError{StatusCode: resp.StatusCode, Message: "not modified without cached flags"}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &transport.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	var flags map[string]domain.Flag
	if err := json.Unmarshal(respBody, &flags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if flags == nil {
		flags = map[string]domain.Flag{}
	}
	for k, fl := range flags {
		if fl.Key == "" {
			fl.Key = k
			flags[k] = fl
		}
	}

	f.mu.Lock()
	f.etag = resp.Header.Get("ETag")
	f.flags = copyFlags(flags)
	f.mu.Unlock()

	return flags, nil
}

func copyFlags(in map[string]domain.Flag) map[string]domain.Flag {
	out := make(map[string]domain.Flag, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
