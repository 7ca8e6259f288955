// Package feeds provides clients for upstream job-posting sources. Each feed
// produces normalized job records; all dedupe and delivery decisions happen
// downstream.
package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; JobDigest/1.0)"

// Error represents an error while fetching from a feed.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("feed error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("feed error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// fetcher performs rate-limited GETs against one source. Requests within a
// source are sequential behind the limiter; different sources run
// independently.
type fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// newFetcher builds a fetcher enforcing at most one request per interval.
// A zero interval disables throttling.
func newFetcher(interval time.Duration) *fetcher {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &fetcher{
		client:  &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// get fetches urlStr and returns the response body.
func (f *fetcher) get(ctx context.Context, urlStr string) ([]byte, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &Error{URL: urlStr, Message: "invalid URL", Cause: err}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &Error{URL: urlStr, Message: "rate limit wait interrupted", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to read response body", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{URL: urlStr, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	return body, nil
}
